// Package catalog discovers DICOM series under a directory tree and keeps
// them in a human-editable table whose Selected column drives later copy and
// conversion steps.
package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SeriesRecord is one catalog row. Column names are stable across versions.
type SeriesRecord struct {
	PatientName         string   `csv:"PatientName"`
	PatientID           string   `csv:"PatientID"`
	StudyDate           string   `csv:"StudyDate"`
	AcquisitionDateTime string   `csv:"AcquisitionDateTime"`
	SeriesDescription   string   `csv:"SeriesDescription"`
	SeriesNumber        string   `csv:"SeriesNumber"`
	Modality            string   `csv:"Modality"`
	NumberOfSlices      int      `csv:"NumberOfSlices"`
	Selected            Flag     `csv:"Selected"`
	SourcePath          string   `csv:"SourcePath"`
	Files               FileList `csv:"Files"`
}

// Key identifies a series across scans.
func (r SeriesRecord) Key() string {
	return r.SourcePath + "\x00" + r.SeriesDescription
}

// Flag is the selection column. It reads the values people type into
// spreadsheets and always writes true or false.
type Flag bool

// MarshalCSV implements gocsv.TypeMarshaller.
func (f Flag) MarshalCSV() (string, error) {
	return strconv.FormatBool(bool(f)), nil
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (f *Flag) UnmarshalCSV(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "x":
		*f = true
	case "false", "0", "no", "n", "":
		*f = false
	default:
		return fmt.Errorf("invalid Selected value %q", s)
	}
	return nil
}

// FileList holds member file names, stored as a JSON array in one cell.
type FileList []string

// MarshalCSV implements gocsv.TypeMarshaller.
func (l FileList) MarshalCSV() (string, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (l *FileList) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*l = nil
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return fmt.Errorf("invalid Files value %q: %w", s, err)
	}
	if len(names) == 0 {
		names = nil
	}
	*l = names
	return nil
}
