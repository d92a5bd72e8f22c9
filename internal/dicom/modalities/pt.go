package modalities

import (
	"fmt"
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// F18HalfLife is the half-life of fluorine-18 in seconds.
const F18HalfLife = 6586.2

// PTGenerator generates PET specific metadata, including the
// radiopharmaceutical information needed for SUV normalization.
type PTGenerator struct{}

func (g *PTGenerator) Modality() Modality {
	return PT
}

// SOPClassUID returns the Positron Emission Tomography Image Storage SOP Class UID.
func (g *PTGenerator) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.128"
}

func (g *PTGenerator) Scanners() []Scanner {
	return []Scanner{
		{Manufacturer: "UIH", Model: "uMI 780"},
		{Manufacturer: "UIH", Model: "uPMR 790"},
	}
}

// GenerateSeriesParams draws weight and dose; the injection time is filled in
// by the caller, which knows the study date.
func (g *PTGenerator) GenerateSeriesParams(scanner Scanner, rng *rand.Rand) SeriesParams {
	return SeriesParams{
		Modality:       PT,
		Scanner:        scanner,
		PixelSpacing:   2.0 + rng.Float64()*2.0,
		SliceThickness: 2.0 + rng.Float64()*1.0,
		FrameDuration:  300,
		Dose: Dose{
			Radiopharmaceutical: "Fluorodeoxyglucose",
			PatientWeight:       float64(50 + rng.IntN(50)),
			TotalDose:           float64(150+rng.IntN(250)) * 1e6,
			HalfLife:            F18HalfLife,
		},
	}
}

func (g *PTGenerator) PixelConfig() PixelConfig {
	return PixelConfig{BitsAllocated: 16, BitsStored: 16, HighBit: 15, MaxValue: 32767, BaseValue: 8000}
}

func (g *PTGenerator) AppendModalityElements(ds *dicom.Dataset, params SeriesParams) error {
	d := params.Dose
	if d.StartDateTime == "" {
		return fmt.Errorf("PET series needs an injection start date-time")
	}
	startTime := d.StartDateTime[8:]

	ds.Elements = append(ds.Elements,
		mustNewElement(tag.PatientWeight, []string{floatToDS(d.PatientWeight)}),
		mustNewElement(tag.Units, []string{"BQML"}),
		mustNewElement(tag.DecayCorrection, []string{"START"}),
		mustNewElement(tag.CorrectedImage, []string{"DECY", "ATTN", "SCAT"}),
		mustNewElement(tag.ActualFrameDuration, []string{intToIS(int(params.FrameDuration * 1000))}),
		mustNewElement(tag.RadiopharmaceuticalInformationSequence, [][]*dicom.Element{{
			mustNewElement(tag.Radiopharmaceutical, []string{d.Radiopharmaceutical}),
			mustNewElement(tag.RadiopharmaceuticalStartTime, []string{startTime}),
			mustNewElement(tag.RadionuclideTotalDose, []string{floatToDS(d.TotalDose)}),
			mustNewElement(tag.RadionuclideHalfLife, []string{floatToDS(d.HalfLife)}),
			mustNewElement(tag.RadiopharmaceuticalStartDateTime, []string{d.StartDateTime}),
		}}),
	)
	return nil
}
