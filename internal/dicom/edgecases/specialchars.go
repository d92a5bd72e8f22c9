package edgecases

import "math/rand/v2"

var specialCharFirstNamesMale = []string{
	"Jean-Pierre", "François", "José", "Søren", "Łukasz", "O'Brien",
}

var specialCharFirstNamesFemale = []string{
	"Marie-Claire", "Éléonore", "María", "Zoë", "Hélène", "O'Hara",
}

var specialCharLastNames = []string{
	"Müller-Schmidt", "O'Connor", "García-López", "Østergaard", "Škvorecký",
}

// Suffixes a console operator might type into a series description.
var specialDescriptionSuffixes = []string{
	" 2/3", ": post", " <AC>", ` a\b`, "?", " *new*",
}

// GenerateSpecialCharName generates a patient name with special characters
func GenerateSpecialCharName(sex string, rng *rand.Rand) string {
	var firstName string
	if sex == "F" {
		firstName = specialCharFirstNamesFemale[rng.IntN(len(specialCharFirstNamesFemale))]
	} else {
		firstName = specialCharFirstNamesMale[rng.IntN(len(specialCharFirstNamesMale))]
	}
	lastName := specialCharLastNames[rng.IntN(len(specialCharLastNames))]
	return lastName + "^" + firstName
}
