package suv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/dicombids/internal/dicom"
	"github.com/mrsinham/dicombids/internal/dicom/modalities"
	"github.com/mrsinham/dicombids/internal/nifti"
)

const bqmlValue = 1000.0

// fakeConverter writes a constant BQML volume with the requested number of
// frames and, when starts is set, a sidecar listing FrameTimesStart.
type fakeConverter struct {
	frames int
	starts []float64
	skip   bool
	err    error
	calls  int
}

func (f *fakeConverter) Convert(_ context.Context, _, outDir, basename string) error {
	f.calls++
	if f.err != nil || f.skip {
		return f.err
	}
	data := make([]float64, 4*4*2*f.frames)
	for i := range data {
		data[i] = bqmlValue
	}
	vol, err := nifti.New(4, 4, 2, f.frames, data)
	if err != nil {
		return err
	}
	if err := nifti.Write(filepath.Join(outDir, basename+".nii.gz"), vol); err != nil {
		return err
	}
	if f.starts == nil {
		return nil
	}
	content, err := json.Marshal(map[string]any{"Modality": "PT", "FrameTimesStart": f.starts})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, basename+".json"), content, 0o644)
}

func petSeries(t *testing.T, frames int, vendor string) string {
	t.Helper()
	files, err := dicom.GenerateExport(dicom.ExportOptions{
		OutputDir:   t.TempDir(),
		NumPatients: 1,
		Series:      []dicom.SeriesSpec{{Description: "PET_Brain_Dynamic", Modality: modalities.PT, Frames: frames}},
		Slices:      2,
		Width:       16,
		Height:      16,
		Seed:        5,
		Vendor:      vendor,
		Quiet:       true,
	})
	if err != nil {
		t.Fatalf("GenerateExport: %v", err)
	}
	return files[0].SeriesDir
}

func readSidecar(t *testing.T, path string) Sidecar {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var sc Sidecar
	if err := json.Unmarshal(content, &sc); err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestFrameFactors(t *testing.T) {
	series := petSeries(t, 2, "")
	frames, err := FrameFactors(series, "UIH")
	if err != nil {
		t.Fatalf("FrameFactors: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Timestamp != "20190531090000" || frames[1].Timestamp != "20190531090500" {
		t.Errorf("timestamps = %s, %s", frames[0].Timestamp, frames[1].Timestamp)
	}
	if !(frames[0].Factor > 0) || frames[1].Factor <= frames[0].Factor {
		t.Errorf("factors = %g, %g", frames[0].Factor, frames[1].Factor)
	}
}

func TestFrameFactors_OtherVendor(t *testing.T) {
	series := petSeries(t, 2, "ACME")
	frames, err := FrameFactors(series, "UIH")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range frames {
		if f.Factor != 1 {
			t.Errorf("factor for another vendor = %g, want exactly 1", f.Factor)
		}
	}
}

func TestFrameFactors_SkipsJunk(t *testing.T) {
	series := petSeries(t, 1, "")
	if err := os.WriteFile(filepath.Join(series, "zz.dcm"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	frames, err := FrameFactors(series, "UIH")
	if err != nil || len(frames) != 1 {
		t.Errorf("FrameFactors() = %v, %v", frames, err)
	}
	if _, err := FrameFactors(t.TempDir(), "UIH"); err == nil {
		t.Error("expected error for a series without files")
	}
}

func TestCorrect_SingleFrame(t *testing.T) {
	series := petSeries(t, 1, "")
	out := t.TempDir()
	conv := &fakeConverter{frames: 1}
	c := &Corrector{Converter: conv, Vendor: "UIH"}

	res, err := c.Correct(context.Background(), series, out, "sub-001_task-rest")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if !res.Converted || res.Skipped || conv.calls != 1 {
		t.Errorf("result = %+v, calls = %d", res, conv.calls)
	}

	vol, err := nifti.Read(res.Output)
	if err != nil {
		t.Fatal(err)
	}
	want := bqmlValue * res.Frames[0].Factor
	for _, v := range vol.Data {
		if math.Abs(v-want)/want > 1e-6 {
			t.Fatalf("voxel = %g, want %g", v, want)
		}
	}
	sc := readSidecar(t, res.Sidecar)
	if len(sc.CorrectionFactors) != 1 || sc.CorrectionFactors[0] != res.Frames[0].Factor || sc.AcquisitionTimestamps[0] != "20190531090000" {
		t.Errorf("sidecar = %+v", sc)
	}
	for _, p := range []string{res.Output, res.Sidecar} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o644 {
			t.Errorf("%s has mode %v", filepath.Base(p), info.Mode().Perm())
		}
	}
	t.Logf("✓ SUVbw written with factor %.4e", sc.CorrectionFactors[0])
}

func TestCorrect_MultiFrame(t *testing.T) {
	series := petSeries(t, 2, "")
	out := t.TempDir()
	conv := &fakeConverter{frames: 2, starts: []float64{0, 300}}
	c := &Corrector{Converter: conv, Vendor: "UIH"}

	res, err := c.Correct(context.Background(), series, out, "sub-001_task-rest")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Reordered {
		t.Error("frames should not be reordered")
	}

	vol, err := nifti.Read(res.Output)
	if err != nil {
		t.Fatal(err)
	}
	if vol.Frames() != 2 {
		t.Fatalf("output has %d frames, want 2", vol.Frames())
	}
	for i, frame := range vol.Split() {
		want := bqmlValue * res.Frames[i].Factor
		if got := frame.Data[0]; math.Abs(got-want)/want > 1e-6 {
			t.Errorf("frame %d voxel = %g, want %g", i, got, want)
		}
	}

	sc := readSidecar(t, res.Sidecar)
	if len(sc.CorrectionFactors) != 2 || len(sc.AcquisitionTimestamps) != 2 {
		t.Fatalf("sidecar = %+v", sc)
	}
	if sc.AcquisitionTimestamps[0] != "20190531090000" || sc.AcquisitionTimestamps[1] != "20190531090500" {
		t.Errorf("timestamps = %v", sc.AcquisitionTimestamps)
	}
}

func TestCorrect_Idempotent(t *testing.T) {
	series := petSeries(t, 2, "")
	out := t.TempDir()
	conv := &fakeConverter{frames: 2}
	c := &Corrector{Converter: conv, Vendor: "UIH"}

	first, err := c.Correct(context.Background(), series, out, "sub-001_task-rest")
	if err != nil {
		t.Fatal(err)
	}
	before := map[string]int64{}
	entries, _ := os.ReadDir(out)
	for _, e := range entries {
		info, _ := e.Info()
		before[e.Name()] = info.ModTime().UnixNano()
	}

	second, err := c.Correct(context.Background(), series, out, "sub-001_task-rest")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Skipped || second.Converted || conv.calls != 1 {
		t.Errorf("second run = %+v, converter calls = %d", second, conv.calls)
	}
	entries, _ = os.ReadDir(out)
	if len(entries) != len(before) {
		t.Errorf("file count changed: %d -> %d", len(before), len(entries))
	}
	for _, e := range entries {
		info, _ := e.Info()
		if before[e.Name()] != info.ModTime().UnixNano() {
			t.Errorf("%s was rewritten", e.Name())
		}
	}
	if first.Output != second.Output {
		t.Errorf("outputs differ: %s vs %s", first.Output, second.Output)
	}
}

func TestCorrect_ExistingBQML(t *testing.T) {
	series := petSeries(t, 1, "")
	out := t.TempDir()
	if err := (&fakeConverter{frames: 1}).Convert(context.Background(), series, out, "sub-001_task-rest"+BQMLSuffix); err != nil {
		t.Fatal(err)
	}

	res, err := (&Corrector{Vendor: "UIH"}).Correct(context.Background(), series, out, "sub-001_task-rest")
	if err != nil {
		t.Fatalf("Correct without converter: %v", err)
	}
	if res.Converted {
		t.Error("existing BQML volume must not be converted again")
	}
}

func TestCorrect_Reordered(t *testing.T) {
	series := petSeries(t, 2, "")
	// the first frame's files now sort last, so first-seen order is reversed
	for i := 1; i <= 2; i++ {
		old := filepath.Join(series, fmt.Sprintf("%08d.dcm", i))
		if err := os.Rename(old, filepath.Join(series, fmt.Sprintf("z%d.dcm", i))); err != nil {
			t.Fatal(err)
		}
	}

	out := t.TempDir()
	c := &Corrector{Converter: &fakeConverter{frames: 2, starts: []float64{10, 310}}, Vendor: "UIH"}
	res, err := c.Correct(context.Background(), series, out, "sub-001_task-rest")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if !res.Reordered {
		t.Error("expected frames to be reordered")
	}
	sc := readSidecar(t, res.Sidecar)
	if sc.AcquisitionTimestamps[0] != "20190531090000" || sc.AcquisitionTimestamps[1] != "20190531090500" {
		t.Errorf("sidecar timestamps = %v, want chronological", sc.AcquisitionTimestamps)
	}
}

func TestCorrect_Failures(t *testing.T) {
	tests := []struct {
		name   string
		conv   *fakeConverter
		frames int
		want   error
	}{
		{"frame count", &fakeConverter{frames: 3}, 2, ErrFrameMismatch},
		{"frame times", &fakeConverter{frames: 2, starts: []float64{0, 600}}, 2, ErrFrameMismatch},
		{"converter error", &fakeConverter{frames: 1, err: errors.New("dcm2niix exited 1")}, 1, nil},
		{"no output", &fakeConverter{frames: 1, skip: true}, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := petSeries(t, tt.frames, "")
			out := t.TempDir()
			c := &Corrector{Converter: tt.conv, Vendor: "UIH"}

			res, err := c.Correct(context.Background(), series, out, "sub-001_task-rest")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if _, err := os.Stat(res.Output); !os.IsNotExist(err) {
				t.Error("SUVbw volume left behind")
			}
			if _, err := os.Stat(res.Sidecar); !os.IsNotExist(err) {
				t.Error("sidecar left behind")
			}
		})
	}
}

func TestAlignFrames(t *testing.T) {
	frames := []Frame{{"20190531090500", 2}, {"20190531090000", 1}}
	if _, _, err := alignFrames(frames, []float64{0}); !errors.Is(err, ErrFrameMismatch) {
		t.Errorf("length mismatch: %v", err)
	}
	got, reordered, err := alignFrames(frames, []float64{0, 300.4})
	if err != nil || !reordered || got[0].Factor != 1 {
		t.Errorf("alignFrames() = %v, %v, %v", got, reordered, err)
	}
	got, reordered, err = alignFrames(frames, []float64{300, 0})
	if err != nil || reordered || got[0].Factor != 2 {
		t.Errorf("alignFrames() = %v, %v, %v", got, reordered, err)
	}
}
