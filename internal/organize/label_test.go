package organize

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrsinham/dicombids/internal/catalog"
	"github.com/mrsinham/dicombids/internal/dicom"
)

func TestLabel(t *testing.T) {
	root := t.TempDir()
	files, err := dicom.GenerateExport(dicom.ExportOptions{
		OutputDir:   root,
		NumPatients: 1,
		Slices:      2,
		Width:       16,
		Height:      16,
		Quiet:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	var pet int
	for _, f := range files {
		if strings.Contains(f.SeriesDescription, "PET") {
			pet++
		}
	}

	n, err := Label(root, "seriesdescription", "PET")
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if n != pet {
		t.Errorf("labelled %d files, want %d", n, pet)
	}
	labelled, _ := filepath.Glob(filepath.Join(root, "*", "*", "*", "PET_*.dcm"))
	if len(labelled) != pet {
		t.Errorf("found %d labelled files, want %d", len(labelled), pet)
	}

	// labelled copies are not labelled again
	if n, err := Label(root, "SeriesDescription", "PET"); err != nil || n != pet {
		t.Errorf("second Label() = %d, %v", n, err)
	}
	t.Logf("✓ %d files labelled", n)
}

func TestLabel_Errors(t *testing.T) {
	if _, err := Label(t.TempDir(), "SeriesDescriptoin", "PET"); err == nil || !strings.Contains(err.Error(), "SeriesDescription") {
		t.Errorf("expected suggestion, got %v", err)
	}
	if _, err := Label(filepath.Join(t.TempDir(), "absent"), "Modality", "PT"); !errors.Is(err, catalog.ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}
