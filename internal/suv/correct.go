package suv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/montanaflynn/stats"
	"github.com/mrsinham/dicombids/internal/nifti"
	"github.com/mrsinham/dicombids/internal/util"
	log "github.com/sirupsen/logrus"
)

// Output name suffixes, appended to the series basename.
const (
	BQMLSuffix  = "_PET-BQML"
	SUVbwSuffix = "_PET-SUVbw"
)

// frameTolerance is the largest disagreement, in seconds, between our frame
// offsets and the converter's FrameTimesStart.
const frameTolerance = 1.0

// Converter turns a DICOM series directory into <basename>.nii.gz plus a JSON
// sidecar in outDir.
type Converter interface {
	Convert(ctx context.Context, seriesDir, outDir, basename string) error
}

// Corrector produces SUVbw volumes from PET series.
type Corrector struct {
	Converter Converter
	Vendor    string
}

// Result describes one Correct call.
type Result struct {
	Skipped   bool
	Converted bool
	Reordered bool
	BQML      string
	Output    string
	Sidecar   string
	Frames    []Frame
}

// Sidecar is the JSON record written next to a corrected volume.
type Sidecar struct {
	CorrectionFactors     []float64 `json:"correction_factors"`
	AcquisitionTimestamps []string  `json:"acquisition_timestamps"`
}

// Paths returns the BQML volume, the SUVbw volume and its sidecar for a
// basename such as sub-001_task-rest.
func Paths(outDir, basename string) (bqml, suvbw, sidecar string) {
	bqml = filepath.Join(outDir, basename+BQMLSuffix+".nii.gz")
	suvbw = filepath.Join(outDir, basename+SUVbwSuffix+".nii.gz")
	sidecar = filepath.Join(outDir, basename+SUVbwSuffix+".json")
	return bqml, suvbw, sidecar
}

// Correct converts seriesDir to a BQML volume when needed and writes its
// SUVbw version with a sidecar listing the factors applied. When the SUVbw
// volume already exists nothing is read or written. On failure no SUVbw
// output is left behind.
func (c *Corrector) Correct(ctx context.Context, seriesDir, outDir, basename string) (Result, error) {
	bqml, suvbw, sidecar := Paths(outDir, basename)
	res := Result{BQML: bqml, Output: suvbw, Sidecar: sidecar}

	if exists(suvbw) {
		res.Skipped = true
		return res, nil
	}

	frames, err := FrameFactors(seriesDir, c.Vendor)
	if err != nil {
		return res, pfx.Err(err)
	}

	if !exists(bqml) {
		if c.Converter == nil {
			return res, errors.New("no converter configured")
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return res, pfx.Err(err)
		}
		if err := c.Converter.Convert(ctx, seriesDir, outDir, basename+BQMLSuffix); err != nil {
			return res, pfx.Err(err)
		}
		if !exists(bqml) {
			return res, fmt.Errorf("converter did not produce %s", filepath.Base(bqml))
		}
		res.Converted = true
	}

	n, err := nifti.ProbeFrames(bqml)
	if err != nil {
		return res, pfx.Err(err)
	}
	if n != len(frames) {
		return res, fmt.Errorf("%w: %s has %d frames, series has %d acquisition times",
			ErrFrameMismatch, filepath.Base(bqml), n, len(frames))
	}

	starts, err := frameTimesStart(filepath.Join(outDir, basename+BQMLSuffix+".json"))
	if err != nil {
		return res, pfx.Err(err)
	}
	if starts != nil {
		frames, res.Reordered, err = alignFrames(frames, starts)
		if err != nil {
			return res, err
		}
		if res.Reordered {
			log.WithField("series", seriesDir).Warn("frames reordered to match converter frame times")
		}
	}
	res.Frames = frames

	vol, err := nifti.Read(bqml)
	if err != nil {
		return res, pfx.Err(err)
	}
	out, err := rescale(vol, frames)
	if err != nil {
		return res, err
	}
	if err := writeOutputs(out, frames, suvbw, sidecar); err != nil {
		return res, pfx.Err(err)
	}
	return res, nil
}

// rescale multiplies each time frame by its factor.
func rescale(vol *nifti.Volume, frames []Frame) (*nifti.Volume, error) {
	if vol.Frames() != len(frames) {
		return nil, fmt.Errorf("%w: volume has %d frames, want %d", ErrFrameMismatch, vol.Frames(), len(frames))
	}
	if len(frames) == 1 {
		vol.Scale(frames[0].Factor)
		logFrame(0, frames[0], vol.Data)
		return vol, nil
	}

	parts := vol.Split()
	for i, part := range parts {
		part.Scale(frames[i].Factor)
		logFrame(i, frames[i], part.Data)
	}
	return nifti.Concat(parts)
}

func logFrame(i int, f Frame, data []float64) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	mean, _ := stats.Mean(data)
	peak, _ := stats.Max(data)
	log.WithFields(log.Fields{
		"frame":     i,
		"timestamp": f.Timestamp,
		"factor":    f.Factor,
		"mean":      mean,
		"max":       peak,
	}).Debug("frame rescaled")
}

// writeOutputs writes both files to temporary names, then renames the
// sidecar and the volume in that order.
func writeOutputs(vol *nifti.Volume, frames []Frame, volPath, sidecarPath string) (err error) {
	sc := Sidecar{
		CorrectionFactors:     make([]float64, len(frames)),
		AcquisitionTimestamps: make([]string, len(frames)),
	}
	for i, f := range frames {
		sc.CorrectionFactors[i] = f.Factor
		sc.AcquisitionTimestamps[i] = f.Timestamp
	}
	content, err := json.MarshalIndent(sc, "", "    ")
	if err != nil {
		return err
	}

	volTmp, err := util.CreateTemp(volPath)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(volTmp.Name())
		}
	}()
	if err := nifti.EncodeNamed(volTmp, filepath.Base(volPath), vol); err != nil {
		_ = volTmp.Close()
		return err
	}
	if err := volTmp.Close(); err != nil {
		return err
	}

	scTmp, err := util.CreateTemp(sidecarPath)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(scTmp.Name())
		}
	}()
	if _, err := scTmp.Write(append(content, '\n')); err != nil {
		_ = scTmp.Close()
		return err
	}
	if err := scTmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(scTmp.Name(), sidecarPath); err != nil {
		return err
	}
	if err := os.Rename(volTmp.Name(), volPath); err != nil {
		_ = os.Remove(sidecarPath)
		return err
	}
	return nil
}

// frameTimesStart reads FrameTimesStart from a converter sidecar. A missing
// sidecar or key yields nil.
func frameTimesStart(path string) ([]float64, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta struct {
		FrameTimesStart []float64 `json:"FrameTimesStart"`
	}
	if err := json.Unmarshal(content, &meta); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return meta.FrameTimesStart, nil
}

// alignFrames checks our frame offsets against the converter's frame start
// times. When first-seen order disagrees but chronological order agrees, the
// chronologically sorted frames are returned with reordered set.
func alignFrames(frames []Frame, starts []float64) ([]Frame, bool, error) {
	if len(starts) != len(frames) {
		return nil, false, fmt.Errorf("%w: converter lists %d frame times, series has %d",
			ErrFrameMismatch, len(starts), len(frames))
	}
	if offsetsMatch(frames, starts) {
		return frames, false, nil
	}

	sorted := slices.Clone(frames)
	slices.SortStableFunc(sorted, func(a, b Frame) int {
		return strings.Compare(a.Timestamp, b.Timestamp)
	})
	if offsetsMatch(sorted, starts) {
		return sorted, true, nil
	}
	return nil, false, fmt.Errorf("%w: acquisition times do not match converter frame times %v",
		ErrFrameMismatch, starts)
}

func offsetsMatch(frames []Frame, starts []float64) bool {
	t0, err := time.Parse(TimestampLayout, frames[0].Timestamp)
	if err != nil {
		return false
	}
	for i, f := range frames {
		t, err := time.Parse(TimestampLayout, f.Timestamp)
		if err != nil {
			return false
		}
		ours := t.Sub(t0).Seconds()
		theirs := starts[i] - starts[0]
		if math.Abs(ours-theirs) > frameTolerance {
			return false
		}
	}
	return true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
