package modalities

import (
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// MRGenerator generates MR specific metadata.
type MRGenerator struct{}

func (g *MRGenerator) Modality() Modality {
	return MR
}

// SOPClassUID returns the MR Image Storage SOP Class UID.
func (g *MRGenerator) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.4"
}

func (g *MRGenerator) Scanners() []Scanner {
	return []Scanner{
		{Manufacturer: "UIH", Model: "uMR 790", FieldStrength: 3.0},
		{Manufacturer: "UIH", Model: "uPMR 790", FieldStrength: 3.0},
		{Manufacturer: "UIH", Model: "uMR 570", FieldStrength: 1.5},
	}
}

func (g *MRGenerator) GenerateSeriesParams(scanner Scanner, rng *rand.Rand) SeriesParams {
	sequences := []string{"gre_fsp3d", "epi_ra", "epi_dwi", "fse_tra"}

	return SeriesParams{
		Modality:              MR,
		Scanner:               scanner,
		PixelSpacing:          0.5 + rng.Float64()*1.5, // 0.5-2.0 mm
		SliceThickness:        1.0 + rng.Float64()*4.0, // 1.0-5.0 mm
		EchoTime:              10.0 + rng.Float64()*20.0,
		RepetitionTime:        400.0 + rng.Float64()*1600.0,
		FlipAngle:             8.0 + rng.Float64()*82.0,
		SequenceName:          sequences[rng.IntN(len(sequences))],
		MagneticFieldStrength: scanner.FieldStrength,
	}
}

func (g *MRGenerator) PixelConfig() PixelConfig {
	return PixelConfig{BitsAllocated: 16, BitsStored: 12, HighBit: 11, MaxValue: 4095, BaseValue: 2048}
}

func (g *MRGenerator) AppendModalityElements(ds *dicom.Dataset, params SeriesParams) error {
	ds.Elements = append(ds.Elements,
		mustNewElement(tag.MagneticFieldStrength, []string{floatToDS(params.MagneticFieldStrength)}),
		mustNewElement(tag.EchoTime, []string{floatToDS(params.EchoTime)}),
		mustNewElement(tag.RepetitionTime, []string{floatToDS(params.RepetitionTime)}),
		mustNewElement(tag.FlipAngle, []string{floatToDS(params.FlipAngle)}),
		mustNewElement(tag.SequenceName, []string{params.SequenceName}),
	)
	return nil
}
