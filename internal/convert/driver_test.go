package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mrsinham/dicombids/internal/catalog"
	"github.com/mrsinham/dicombids/internal/config"
	"github.com/mrsinham/dicombids/internal/dicom"
	"github.com/mrsinham/dicombids/internal/dicom/modalities"
	"github.com/mrsinham/dicombids/internal/nifti"
	"github.com/mrsinham/dicombids/internal/suv"
)

// fakeConverter writes one frame per distinct acquisition time of the series.
type fakeConverter struct {
	mu     sync.Mutex
	calls  []string
	dirs   map[string]int
	failOn string
}

func (f *fakeConverter) Convert(_ context.Context, seriesDir, outDir, basename string) error {
	f.mu.Lock()
	f.calls = append(f.calls, basename)
	if f.dirs == nil {
		f.dirs = map[string]int{}
	}
	entries, _ := os.ReadDir(seriesDir)
	f.dirs[basename] = len(entries)
	f.mu.Unlock()

	if f.failOn != "" && strings.Contains(basename, f.failOn) {
		return errors.New("dcm2niix: exit status 1")
	}
	frames, err := suv.FrameFactors(seriesDir, "none")
	if err != nil {
		return err
	}
	vol, err := nifti.New(2, 2, 2, len(frames), make([]float64, 8*len(frames)))
	if err != nil {
		return err
	}
	return nifti.Write(filepath.Join(outDir, basename+".nii.gz"), vol)
}

func export(t *testing.T, series []dicom.SeriesSpec) (string, []dicom.GeneratedFile) {
	t.Helper()
	root := t.TempDir()
	files, err := dicom.GenerateExport(dicom.ExportOptions{
		OutputDir:   root,
		NumPatients: 1,
		Series:      series,
		Slices:      1,
		Width:       16,
		Height:      16,
		Seed:        11,
		ImageSubdir: true,
		Quiet:       true,
	})
	if err != nil {
		t.Fatalf("GenerateExport: %v", err)
	}
	return root, files
}

func TestConvertTree(t *testing.T) {
	root, files := export(t, nil)
	sub := "sub-" + files[0].PatientID
	out := t.TempDir()
	conv := &fakeConverter{}
	d := &Driver{Converter: conv, Rules: config.Default().Rules, Vendor: "UIH"}

	report, err := d.ConvertTree(context.Background(), root, out)
	if err != nil {
		t.Fatalf("ConvertTree: %v", err)
	}
	if report.Count(StatusConverted) != 3 || report.Failed() {
		t.Fatalf("report: %s", report)
	}
	for _, rel := range []string{
		filepath.Join(sub, "pet", sub+"_task-rest_PET-BQML.nii.gz"),
		filepath.Join(sub, "pet", sub+"_task-rest_PET-SUVbw.nii.gz"),
		filepath.Join(sub, "pet", sub+"_task-rest_PET-SUVbw.json"),
		filepath.Join(sub, "anat", sub+"_task-rest_T1w.nii.gz"),
		filepath.Join(sub, "func", sub+"_task-rest_bold.nii.gz"),
	} {
		if _, err := os.Stat(filepath.Join(out, rel)); err != nil {
			t.Errorf("missing %s", rel)
		}
	}

	again, err := d.ConvertTree(context.Background(), root, out)
	if err != nil {
		t.Fatal(err)
	}
	if again.Count(StatusSkipped) != 3 || len(conv.calls) != 3 {
		t.Errorf("second run: %s (converter calls %d)", again, len(conv.calls))
	}
	t.Logf("✓ %s", strings.TrimSpace(report.String()))
}

func TestConvertTree_NumberedSubjects(t *testing.T) {
	root, files := export(t, []dicom.SeriesSpec{
		{Description: "epi_ra_bold", Modality: modalities.MR, Frames: 1},
		{Description: "epi_ra_bold", Modality: modalities.MR, Frames: 1},
	})
	sub := "sub-" + files[0].PatientID
	out := t.TempDir()
	d := &Driver{Converter: &fakeConverter{}, Rules: config.Default().Rules}

	if _, err := d.ConvertTree(context.Background(), root, out); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{sub + "_task-rest_bold.nii.gz", sub + "-01_task-rest_bold.nii.gz"} {
		if _, err := os.Stat(filepath.Join(out, sub, "func", name)); err != nil {
			t.Errorf("missing %s", name)
		}
	}
}

func TestConvertTree_FailureContained(t *testing.T) {
	root, _ := export(t, nil)
	d := &Driver{Converter: &fakeConverter{failOn: "T1w"}, Rules: config.Default().Rules, Vendor: "UIH"}

	report, err := d.ConvertTree(context.Background(), root, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(StatusFailed) != 1 || report.Count(StatusConverted) != 2 {
		t.Errorf("report: %s", report)
	}
	if !strings.Contains(report.String(), "exit status 1") {
		t.Errorf("failure reason missing from report: %s", report)
	}
}

func TestConvertTree_MissingRoot(t *testing.T) {
	d := &Driver{Converter: &fakeConverter{}}
	_, err := d.ConvertTree(context.Background(), filepath.Join(t.TempDir(), "absent"), t.TempDir())
	if !errors.Is(err, catalog.ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}

func TestConvertCatalog(t *testing.T) {
	root, _ := export(t, []dicom.SeriesSpec{
		{Description: "PET_WB", Modality: modalities.PT, Frames: 2},
		{Description: "t1_gre", Modality: modalities.MR, Frames: 1},
		{Description: "localizer", Modality: modalities.MR, Frames: 1},
	})
	records, _, err := catalog.Scan(root, catalog.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("scanned %d series", len(records))
	}
	for i := range records {
		records[i].Selected = true
	}
	// PET row keeps only its first frame, so it must be staged
	var pet *catalog.SeriesRecord
	for i := range records {
		if records[i].Modality == "PT" {
			pet = &records[i]
		}
	}
	if pet == nil {
		t.Fatal("no PET series scanned")
	}
	pet.Files = pet.Files[:1]
	pet.NumberOfSlices = 1

	conv := &fakeConverter{}
	d := &Driver{Converter: conv, Rules: config.Default().Rules, Vendor: "UIH"}
	out := t.TempDir()
	report, err := d.ConvertCatalog(context.Background(), records, out)
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(StatusConverted) != 2 || report.Count(StatusSkipped) != 1 {
		t.Fatalf("report: %s", report)
	}

	sub := "sub-" + pet.PatientID
	if n := conv.dirs[sub+"_task-rest_PET-BQML"]; n != 1 {
		t.Errorf("converter saw %d files for the staged PET series, want 1", n)
	}
	vol, err := nifti.Read(filepath.Join(out, sub, "pet", sub+"_task-rest_PET-SUVbw.nii.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if vol.Frames() != 1 {
		t.Errorf("SUVbw volume has %d frames, want 1", vol.Frames())
	}
	t.Logf("✓ %s", strings.TrimSpace(report.String()))
}

func TestConvertCatalogFile_Missing(t *testing.T) {
	d := &Driver{Converter: &fakeConverter{}}
	_, err := d.ConvertCatalogFile(context.Background(), filepath.Join(t.TempDir(), "absent.xlsx"), t.TempDir())
	if !errors.Is(err, catalog.ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}
