// Package suv converts PET volumes in BQML units to body-weight standardized
// uptake values (SUVbw), correcting for radionuclide decay between injection
// and acquisition.
package suv

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"time"

	"github.com/mrsinham/dicombids/internal/dicom"
	log "github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"
)

// TimestampLayout is the second-precision form of acquisition and injection
// instants.
const TimestampLayout = "20060102150405"

var (
	// ErrInvalidDose marks a PET series whose dosing attributes are missing or
	// not positive.
	ErrInvalidDose = errors.New("invalid radiopharmaceutical dose")
	// ErrFrameMismatch marks a converted volume whose frames cannot be matched
	// to the acquisition timestamps of its series.
	ErrFrameMismatch = errors.New("frame mismatch")
)

// Dose holds the attributes the correction factor depends on.
type Dose struct {
	PatientWeight null.Float // kg
	TotalDose     null.Float // Bq
	HalfLife      null.Float // s
	Injection     string     // YYYYMMDDHHMMSS
}

// DoseFrom extracts dosing attributes from file metadata.
func DoseFrom(m dicom.Metadata) Dose {
	inj, _ := m.InjectionTimestamp()
	return Dose{
		PatientWeight: m.PatientWeight,
		TotalDose:     m.TotalDose,
		HalfLife:      m.HalfLife,
		Injection:     inj,
	}
}

// Factor returns decay_factor * bw_factor for an acquisition instant.
// Acquisitions before the injection give factors below bw_factor.
func Factor(d Dose, acquisition string) (float64, error) {
	for _, f := range []struct {
		name string
		v    null.Float
	}{
		{"PatientWeight", d.PatientWeight},
		{"RadionuclideTotalDose", d.TotalDose},
		{"RadionuclideHalfLife", d.HalfLife},
	} {
		if !f.v.Valid {
			return 0, fmt.Errorf("%w: %s missing", ErrInvalidDose, f.name)
		}
		if !(f.v.Float64 > 0) || math.IsInf(f.v.Float64, 0) {
			return 0, fmt.Errorf("%w: %s is %g", ErrInvalidDose, f.name, f.v.Float64)
		}
	}
	inj, err := time.Parse(TimestampLayout, d.Injection)
	if err != nil {
		return 0, fmt.Errorf("%w: injection time %q", ErrInvalidDose, d.Injection)
	}
	acq, err := time.Parse(TimestampLayout, acquisition)
	if err != nil {
		return 0, fmt.Errorf("acquisition time %q: %w", acquisition, err)
	}

	bw := 1000 * d.PatientWeight.Float64 / d.TotalDose.Float64
	lambda := math.Ln2 / d.HalfLife.Float64
	decay := math.Exp(lambda * acq.Sub(inj).Seconds())
	return decay * bw, nil
}

// Frame is one distinct acquisition instant of a series and its factor.
type Frame struct {
	Timestamp string
	Factor    float64
}

// FrameFactor computes the factor of one file. Files that are not PET or not
// from vendor get exactly 1.
func FrameFactor(m dicom.Metadata, vendor string) (float64, error) {
	if m.Modality != "PT" || m.Manufacturer != vendor {
		return 1, nil
	}
	ts, ok := m.AcquisitionTimestamp()
	if !ok {
		return 0, errors.New("no acquisition time")
	}
	return Factor(DoseFrom(m), ts)
}

// FrameFactors reads every *.dcm file of seriesDir in lexical order and
// returns one frame per distinct acquisition timestamp, in first-seen order.
// Unreadable files are skipped with a warning; a readable file without a
// usable timestamp or dose fails the series.
func FrameFactors(seriesDir, vendor string) ([]Frame, error) {
	files, err := filepath.Glob(filepath.Join(seriesDir, "*.dcm"))
	if err != nil {
		return nil, err
	}
	slices.Sort(files)

	var frames []Frame
	seen := map[string]bool{}
	for _, path := range files {
		if !dicom.IsDICOM(path) {
			log.WithField("path", path).Warn("skipping non-DICOM file")
			continue
		}
		m, err := dicom.ReadMetadata(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("skipping unreadable file")
			continue
		}
		ts, ok := m.AcquisitionTimestamp()
		if !ok {
			return nil, fmt.Errorf("%s: no acquisition time", filepath.Base(path))
		}
		if seen[ts] {
			continue
		}
		seen[ts] = true

		factor, err := FrameFactor(m, vendor)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		frames = append(frames, Frame{Timestamp: ts, Factor: factor})
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no readable DICOM files in %s", seriesDir)
	}
	return frames, nil
}
