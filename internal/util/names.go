package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"
)

// Package-level default RNG to avoid allocations when rng is nil
var defaultRNG = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

// Pinyin names, as found in exports from Chinese sites.
var (
	MaleGivenNames = []string{
		"Wei", "Qiang", "Lei", "Jun", "Yong", "Jie", "Tao", "Ming", "Chao", "Hao",
		"Bin", "Gang", "Peng", "Hui", "Bo", "Yang", "Long", "Feng", "Kai", "Liang",
	}

	FemaleGivenNames = []string{
		"Fang", "Min", "Jing", "Li", "Yan", "Juan", "Xia", "Ping", "Hong", "Ying",
		"Lan", "Mei", "Na", "Qian", "Ting", "Xue", "Yun", "Hua", "Lin", "Dan",
	}

	FamilyNames = []string{
		"Wang", "Li", "Zhang", "Liu", "Chen", "Yang", "Huang", "Zhao", "Wu", "Zhou",
		"Xu", "Sun", "Ma", "Zhu", "Hu", "Guo", "He", "Lin", "Gao", "Luo",
	}
)

// GeneratePatientName generates a patient name based on sex.
//
// Sex should be "M" or "F". Invalid values default to "F".
// If rng is nil, uses shared default RNG.
// Returns name in DICOM format: "FAMILY^GIVEN"
func GeneratePatientName(sex string, rng *rand.Rand) string {
	if rng == nil {
		rng = defaultRNG
	}
	given := FemaleGivenNames
	if sex == "M" {
		given = MaleGivenNames
	}
	family := FamilyNames[rng.IntN(len(FamilyNames))]
	return strings.ToUpper(family) + "^" + strings.ToUpper(given[rng.IntN(len(given))])
}

// GeneratePatientID returns a ten digit identifier.
func GeneratePatientID(rng *rand.Rand) string {
	if rng == nil {
		rng = defaultRNG
	}
	return fmt.Sprintf("%010d", rng.Int64N(10_000_000_000))
}

// ExportName flattens a DICOM person name into the token used in export
// directory names ("WANG^WEI" becomes "WANGWEI"). Only letters and digits
// survive, so the result never contains the "_" field separator.
func ExportName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return "ANONYMOUS"
	}
	return b.String()
}
