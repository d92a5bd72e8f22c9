package edgecases

import "math/rand/v2"

// OptionalTags lists attributes exports are sometimes missing. None of them
// is needed to compute a PET correction factor.
var OptionalTags = []string{
	"SeriesDescription",
	"StudyDescription",
	"InstitutionName",
	"ReferringPhysicianName",
	"OperatorsName",
	"ProtocolName",
	"BodyPartExamined",
	"AcquisitionDateTime",
}

// SelectTagsToOmit randomly selects which optional tags to omit
func SelectTagsToOmit(rng *rand.Rand, count int) []string {
	if count >= len(OptionalTags) {
		return OptionalTags
	}
	perm := rng.Perm(len(OptionalTags))
	result := make([]string, count)
	for i := range result {
		result[i] = OptionalTags[perm[i]]
	}
	return result
}
