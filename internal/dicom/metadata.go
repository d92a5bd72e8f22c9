package dicom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gopkg.in/guregu/null.v3"
)

// NA is substituted for any string attribute missing from a file.
const NA = "NA"

const (
	preambleSize = 128
	magicWord    = "DICM"
)

// Metadata holds the attributes read from one image file. String fields are
// NA when absent; numeric fields are invalid when absent or unparseable.
type Metadata struct {
	PatientName         string
	PatientID           string
	StudyDate           string
	AcquisitionDateTime string
	AcquisitionDate     string
	AcquisitionTime     string
	SeriesDescription   string
	SeriesNumber        string
	Modality            string
	Manufacturer        string
	Units               string

	PatientWeight null.Float // kg

	// First item of RadiopharmaceuticalInformationSequence.
	TotalDose         null.Float // Bq
	HalfLife          null.Float // s
	InjectionDateTime string
	InjectionTime     string
}

// IsDICOM reports whether path carries the 128-byte preamble followed by the
// DICM magic word. It never parses the dataset.
func IsDICOM(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, preambleSize+len(magicWord))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return bytes.Equal(buf[preambleSize:], []byte(magicWord))
}

// ReadMetadata extracts Metadata from a file, skipping pixel data. Files the
// strict parser rejects are re-read element by element and whatever was
// parsed before the first bad element is used.
func ReadMetadata(path string) (Metadata, error) {
	ds, err := Parse(path)
	if err != nil {
		return Metadata{}, pfx.Err(err)
	}
	return metadataFromDataset(ds), nil
}

// ReadTag returns one attribute of a file rendered as text, NA when absent.
func ReadTag(path string, t tag.Tag) (string, error) {
	ds, err := Parse(path)
	if err != nil {
		return "", pfx.Err(err)
	}
	return getString(ds, t), nil
}

// Parse reads a dataset without pixel data, falling back to a tolerant parse.
func Parse(path string) (dicom.Dataset, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err == nil {
		return ds, nil
	}
	tolerant, terr := parseDICOMTolerant(path)
	if terr != nil {
		return dicom.Dataset{}, fmt.Errorf("parse %s: %w", path, errors.Join(err, terr))
	}
	return tolerant, nil
}

func metadataFromDataset(ds dicom.Dataset) Metadata {
	m := Metadata{
		PatientName:         getString(ds, tag.PatientName),
		PatientID:           getString(ds, tag.PatientID),
		StudyDate:           getString(ds, tag.StudyDate),
		AcquisitionDateTime: getString(ds, tag.AcquisitionDateTime),
		AcquisitionDate:     getString(ds, tag.AcquisitionDate),
		AcquisitionTime:     getString(ds, tag.AcquisitionTime),
		SeriesDescription:   getString(ds, tag.SeriesDescription),
		SeriesNumber:        getString(ds, tag.SeriesNumber),
		Modality:            getString(ds, tag.Modality),
		Manufacturer:        getString(ds, tag.Manufacturer),
		Units:               getString(ds, tag.Units),
		PatientWeight:       getFloat(ds, tag.PatientWeight),
		InjectionDateTime:   NA,
		InjectionTime:       NA,
	}

	if item, ok := firstSequenceItem(ds, tag.RadiopharmaceuticalInformationSequence); ok {
		m.TotalDose = getFloat(item, tag.RadionuclideTotalDose)
		m.HalfLife = getFloat(item, tag.RadionuclideHalfLife)
		m.InjectionDateTime = getString(item, tag.RadiopharmaceuticalStartDateTime)
		m.InjectionTime = getString(item, tag.RadiopharmaceuticalStartTime)
	}
	return m
}

// AcquisitionTimestamp returns the acquisition instant truncated to seconds
// (YYYYMMDDHHMMSS), preferring AcquisitionDateTime over the split date and
// time attributes.
func (m Metadata) AcquisitionTimestamp() (string, bool) {
	return timestamp14(m.AcquisitionDateTime, m.AcquisitionDate, m.AcquisitionTime)
}

// InjectionTimestamp returns the radiopharmaceutical start instant. Exports
// that only carry a start time are dated with the acquisition date, moved
// back one day when that would place the injection after the acquisition
// (injected before midnight, scanned after).
func (m Metadata) InjectionTimestamp() (string, bool) {
	if ts, ok := timestamp14(m.InjectionDateTime, NA, NA); ok {
		return ts, true
	}
	date := m.AcquisitionDate
	if date == NA && m.StudyDate != NA {
		date = m.StudyDate
	}
	ts, ok := timestamp14(NA, date, m.InjectionTime)
	if !ok {
		return "", false
	}
	if acq, ok := m.AcquisitionTimestamp(); ok && ts > acq {
		if t, err := time.Parse(timestampLayout, ts); err == nil {
			ts = t.AddDate(0, 0, -1).Format(timestampLayout)
		}
	}
	return ts, true
}

func timestamp14(dateTime, date, clock string) (string, bool) {
	if dateTime != NA && len(dateTime) >= 14 {
		return dateTime[:14], true
	}
	if date == NA || clock == NA || len(date) < 8 {
		return "", false
	}
	clock, _, _ = strings.Cut(clock, ".")
	if len(clock) < 6 {
		return "", false
	}
	return date[:8] + clock[:6], true
}

// getString safely extracts a string value from a dataset.
func getString(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil {
		return NA
	}
	s := strings.TrimSpace(valueString(elem))
	if s == "" {
		return NA
	}
	return s
}

func getFloat(ds dicom.Dataset, t tag.Tag) null.Float {
	s := getString(ds, t)
	if s == NA {
		return null.Float{}
	}
	first, _, _ := strings.Cut(s, `\`)
	f, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(f)
}

func firstSequenceItem(ds dicom.Dataset, t tag.Tag) (dicom.Dataset, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value.ValueType() != dicom.Sequences {
		return dicom.Dataset{}, false
	}
	items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok || len(items) == 0 {
		return dicom.Dataset{}, false
	}
	elems, ok := items[0].GetValue().([]*dicom.Element)
	if !ok {
		return dicom.Dataset{}, false
	}
	return dicom.Dataset{Elements: elems}, true
}

// valueString renders scalar element values, joining multiple values with a
// backslash as they are stored on disk.
func valueString(elem *dicom.Element) string {
	switch elem.Value.ValueType() {
	case dicom.Strings:
		if v, ok := elem.Value.GetValue().([]string); ok {
			return strings.Join(v, `\`)
		}
	case dicom.Ints:
		if v, ok := elem.Value.GetValue().([]int); ok {
			parts := make([]string, len(v))
			for i, n := range v {
				parts[i] = strconv.Itoa(n)
			}
			return strings.Join(parts, `\`)
		}
	case dicom.Floats:
		if v, ok := elem.Value.GetValue().([]float64); ok {
			parts := make([]string, len(v))
			for i, f := range v {
				parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
			}
			return strings.Join(parts, `\`)
		}
	case dicom.Bytes:
		if v, ok := elem.Value.GetValue().([]byte); ok {
			return fmt.Sprintf("<%d bytes>", len(v))
		}
	case dicom.PixelData:
		return "<pixel data>"
	case dicom.Sequences:
		return "<sequence>"
	}
	return strings.Trim(elem.Value.String(), " []")
}

// parseDICOMTolerant parses a DICOM file element-by-element, tolerating errors
// in individual elements (e.g., malformed VR lengths or a truncated tail).
// It collects all successfully parsed elements and returns them as a dataset.
func parseDICOMTolerant(filepath string) (dicom.Dataset, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return dicom.Dataset{}, err
	}

	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			// Stop on any error - we've collected what we can
			break
		}
		elements = append(elements, elem)
	}

	if len(elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}

	ds := dicom.Dataset{Elements: elements}
	meta := p.GetMetadata()
	ds.Elements = append(meta.Elements, ds.Elements...)

	return ds, nil
}
