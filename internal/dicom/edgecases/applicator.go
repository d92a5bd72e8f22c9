package edgecases

import "math/rand/v2"

// Applicator decides, series by series, which edge cases to inject.
type Applicator struct {
	config Config
	rng    *rand.Rand
}

func NewApplicator(config Config, rng *rand.Rand) *Applicator {
	return &Applicator{config: config, rng: rng}
}

// ShouldApply draws whether the current series receives edge cases.
func (a *Applicator) ShouldApply() bool {
	return a.config.IsEnabled() && a.rng.IntN(100) < a.config.Percentage
}

// ApplyToPatientName swaps in a name with accents and apostrophes.
func (a *Applicator) ApplyToPatientName(sex, original string) string {
	if !a.config.HasType(SpecialChars) {
		return original
	}
	return GenerateSpecialCharName(sex, a.rng)
}

// ApplyToSeriesDescription appends characters that are unsafe in paths.
func (a *Applicator) ApplyToSeriesDescription(original string) string {
	if !a.config.HasType(SpecialChars) {
		return original
	}
	return original + specialDescriptionSuffixes[a.rng.IntN(len(specialDescriptionSuffixes))]
}

// GetTagsToOmit returns tags that should be omitted for this series
func (a *Applicator) GetTagsToOmit() []string {
	if !a.config.HasType(MissingTags) {
		return nil
	}
	count := 1 + a.rng.IntN(3) // Omit 1-3 tags
	return SelectTagsToOmit(a.rng, count)
}

// WantsJunkFile reports whether a non-image file is dropped next to the images.
func (a *Applicator) WantsJunkFile() bool {
	return a.config.HasType(JunkFiles)
}

// WantsTruncatedFile reports whether an image cut short after its preamble is
// added to the series.
func (a *Applicator) WantsTruncatedFile() bool {
	return a.config.HasType(TruncatedFiles)
}
