// Package util holds small helpers shared by the scanners and generators:
// tag lookup by name, safe path components, atomic writes and synthetic
// patient identities.
package util

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagInfo names one attribute by its keyword, e.g. SeriesDescription.
type TagInfo struct {
	Name string
	Tag  tag.Tag
}

// commonTags are the attributes users filter and label on. Typos are matched
// against these only, so suggestions stay relevant.
var commonTags = []tag.Tag{
	tag.PatientName,
	tag.PatientID,
	tag.PatientSex,
	tag.PatientWeight,
	tag.StudyDate,
	tag.StudyDescription,
	tag.InstitutionName,
	tag.AccessionNumber,
	tag.SeriesDescription,
	tag.SeriesNumber,
	tag.ProtocolName,
	tag.Modality,
	tag.Manufacturer,
	tag.ManufacturerModelName,
	tag.BodyPartExamined,
	tag.SequenceName,
	tag.Units,
	tag.AcquisitionDateTime,
	tag.AcquisitionDate,
	tag.AcquisitionTime,
	tag.InstanceNumber,
	tag.ImageType,
}

// tagRegistry maps lowercase keywords of commonTags to their TagInfo.
var tagRegistry = func() map[string]TagInfo {
	m := make(map[string]TagInfo, len(commonTags))
	for _, t := range commonTags {
		info, err := tag.Find(t)
		if err != nil {
			panic(fmt.Sprintf("tag %v missing from dictionary", t))
		}
		m[strings.ToLower(info.Keyword)] = TagInfo{Name: info.Keyword, Tag: t}
	}
	return m
}()

// GetTagByName resolves an attribute keyword. Common attributes match
// case-insensitively; any other exact dictionary keyword also resolves.
// Unknown names get an error suggesting the nearest common keyword.
func GetTagByName(name string) (TagInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TagInfo{}, fmt.Errorf("empty tag name")
	}
	if info, ok := tagRegistry[strings.ToLower(name)]; ok {
		return info, nil
	}
	if info, err := tag.FindByKeyword(name); err == nil {
		return TagInfo{Name: info.Keyword, Tag: info.Tag}, nil
	}

	if s := closestTagName(strings.ToLower(name)); s != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, s)
	}
	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// closestTagName returns the common keyword within edit distance 5 of input,
// or "".
func closestTagName(input string) string {
	const maxDistance = 5
	best, bestDistance := "", maxDistance+1
	for key, info := range tagRegistry {
		d := editDistance(input, key)
		if d < bestDistance || (d == bestDistance && info.Name < best) {
			best, bestDistance = info.Name, d
		}
	}
	if bestDistance > maxDistance {
		return ""
	}
	return best
}

// editDistance is the Levenshtein distance between a and b, computed with
// two rows.
func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			sub := prev[j-1]
			if a[i-1] != b[j-1] {
				sub++
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
