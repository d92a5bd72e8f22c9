package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleRecords() []SeriesRecord {
	return []SeriesRecord{
		{
			PatientName:         "WANG^LI",
			PatientID:           "0123456789",
			StudyDate:           "20190531",
			AcquisitionDateTime: "20190531090000.000000",
			SeriesDescription:   "PET_Brain_Dynamic",
			SeriesNumber:        "3",
			Modality:            "PT",
			NumberOfSlices:      2,
			Selected:            true,
			SourcePath:          "/data/20190531/WANGLI_0123456789_1/PET_Brain_Dynamic_3",
			Files:               FileList{"00000001.dcm", "00000002.dcm"},
		},
		{
			PatientName:       "NA",
			PatientID:         "42",
			StudyDate:         "20190601",
			SeriesDescription: "t1, sag",
			NumberOfSlices:    0,
			SourcePath:        "/data/x",
		},
	}
}

func TestTableRoundTrip(t *testing.T) {
	for _, ext := range []string{".csv", ".tsv", ".xlsx"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog"+ext)
			want := sampleRecords()
			if err := Save(path, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			want[1].Files = nil
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
			}
			t.Logf("✓ %s round trip", ext)
		})
	}
}

func TestLoad_HandEdited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	content := "PatientName,PatientID,StudyDate,SeriesDescription,Selected,SourcePath,Files\n" +
		"A,1,2019/05/31,PET,YES,/s/1,\"[\"\"00000001.dcm\"\"]\"\n" +
		"B,2,20190601,T1,,/s/2,\n" +
		"C,3,20190602,BOLD,x,/s/3,[]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].StudyDate != "20190531" {
		t.Errorf("StudyDate not normalized: %q", records[0].StudyDate)
	}
	if !records[0].Selected || records[1].Selected || !records[2].Selected {
		t.Errorf("flags = %v %v %v", records[0].Selected, records[1].Selected, records[2].Selected)
	}
	if len(records[0].Files) != 1 || records[0].Files[0] != "00000001.dcm" {
		t.Errorf("Files = %v", records[0].Files)
	}
	if sel := Selected(records); len(sel) != 2 {
		t.Errorf("Selected() = %d rows", len(sel))
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "absent.csv")); !errors.Is(err, ErrMissingInput) {
		t.Errorf("missing file: %v", err)
	}

	bad := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(bad, []byte("PatientID,Selected\n1,maybe\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected error for invalid Selected value")
	}

	odd := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(odd, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(odd); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if err := Save(filepath.Join(dir, "out.xls"), sampleRecords()); err == nil {
		t.Error("expected error writing .xls")
	}
}

func TestFlag(t *testing.T) {
	tests := []struct {
		in   string
		want Flag
	}{
		{"true", true}, {"TRUE", true}, {"1", true}, {"y", true}, {" X ", true},
		{"false", false}, {"0", false}, {"No", false}, {"", false},
	}
	for _, tt := range tests {
		var f Flag
		if err := f.UnmarshalCSV(tt.in); err != nil || f != tt.want {
			t.Errorf("UnmarshalCSV(%q) = %v, %v; want %v", tt.in, f, err, tt.want)
		}
	}
	if s, _ := Flag(true).MarshalCSV(); s != "true" {
		t.Errorf("MarshalCSV(true) = %q", s)
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := map[string]string{
		"20190531":   "20190531",
		"2019-05-31": "20190531",
		"2019/05/31": "20190531",
		"NA":         "NA",
	}
	for in, want := range tests {
		if got := NormalizeDate(in); got != want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTimestamp(t *testing.T) {
	r := SeriesRecord{AcquisitionDateTime: "20190531090000.000000"}
	if got := r.Timestamp(); got != "20190531090000" {
		t.Errorf("Timestamp() = %q", got)
	}
}
