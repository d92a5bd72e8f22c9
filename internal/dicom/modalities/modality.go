// Package modalities provides modality-specific metadata for synthetic
// vendor exports.
package modalities

import (
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
)

// Modality represents a DICOM imaging modality type.
type Modality string

const (
	MR Modality = "MR" // Magnetic Resonance
	PT Modality = "PT" // Positron Emission Tomography
)

// AllModalities returns all supported modalities.
func AllModalities() []Modality {
	return []Modality{MR, PT}
}

// IsValid checks if a modality string is valid.
func IsValid(m string) bool {
	for _, valid := range AllModalities() {
		if string(valid) == m {
			return true
		}
	}
	return false
}

// Scanner represents an imaging device configuration.
type Scanner struct {
	Manufacturer string
	Model        string
	// MR-specific
	FieldStrength float64 // Tesla
}

// Dose describes the radiopharmaceutical administration of a PET series.
type Dose struct {
	Radiopharmaceutical string
	PatientWeight       float64 // kg
	TotalDose           float64 // Bq
	HalfLife            float64 // s
	StartDateTime       string  // YYYYMMDDHHMMSS.FFFFFF
}

// SeriesParams holds modality-specific parameters for a series.
type SeriesParams struct {
	Modality Modality
	Scanner  Scanner

	// MR-specific
	EchoTime              float64
	RepetitionTime        float64
	FlipAngle             float64
	SequenceName          string
	MagneticFieldStrength float64

	// PT-specific
	Dose          Dose
	FrameDuration float64 // s

	PixelSpacing   float64
	SliceThickness float64
}

// PixelConfig holds pixel data configuration for a modality.
type PixelConfig struct {
	BitsAllocated uint16
	BitsStored    uint16
	HighBit       uint16
	MaxValue      int
	BaseValue     int
}

// Generator defines the interface for modality-specific generators.
type Generator interface {
	Modality() Modality
	SOPClassUID() string
	Scanners() []Scanner

	// GenerateSeriesParams draws per-series acquisition parameters.
	GenerateSeriesParams(scanner Scanner, rng *rand.Rand) SeriesParams

	PixelConfig() PixelConfig

	// AppendModalityElements appends modality-specific elements to a dataset.
	AppendModalityElements(ds *dicom.Dataset, params SeriesParams) error
}

// GetGenerator returns the generator for the specified modality.
func GetGenerator(m Modality) Generator {
	switch m {
	case PT:
		return &PTGenerator{}
	case MR:
		fallthrough
	default:
		return &MRGenerator{}
	}
}
