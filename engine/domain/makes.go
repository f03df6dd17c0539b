package domain

import "strings"

// makeAliases maps abbreviations/nicknames to canonical manufacturer names.
var makeAliases = map[string]string{
	"chevy":         "Chevrolet",
	"chevrolet":     "Chevrolet",
	"merc":          "Mercedes-Benz",
	"benz":          "Mercedes-Benz",
	"mercedes":      "Mercedes-Benz",
	"mercedes-benz": "Mercedes-Benz",
	"vw":            "Volkswagen",
	"volkswagen":    "Volkswagen",
	"land rover":    "Land Rover",
	"landrover":     "Land Rover",
	"alfa romeo":    "Alfa Romeo",
	"toyota":        "Toyota",
	"honda":         "Honda",
	"ford":          "Ford",
	"bmw":           "BMW",
	"audi":          "Audi",
	"nissan":        "Nissan",
	"hyundai":       "Hyundai",
	"kia":           "Kia",
	"subaru":        "Subaru",
	"mazda":         "Mazda",
	"jeep":          "Jeep",
	"ram":           "Ram",
	"gmc":           "GMC",
	"dodge":         "Dodge",
	"lexus":         "Lexus",
	"acura":         "Acura",
	"tesla":         "Tesla",
	"porsche":       "Porsche",
	"volvo":         "Volvo",
	"buick":         "Buick",
	"cadillac":      "Cadillac",
	"lincoln":       "Lincoln",
	"infiniti":      "Infiniti",
	"genesis":       "Genesis",
	"mitsubishi":    "Mitsubishi",
	"chrysler":      "Chrysler",
	"jaguar":        "Jaguar",
	"fiat":          "Fiat",
	"mini":          "Mini",
	"saturn":        "Saturn",
	"pontiac":       "Pontiac",
	"scion":         "Scion",
	"suzuki":        "Suzuki",
	"hummer":        "Hummer",
	"mercury":       "Mercury",
	"rivian":        "Rivian",
	"lucid":         "Lucid",
	"polestar":      "Polestar",
}

// multiWordMakes are checked before single tokens so "Land Rover Defender"
// does not parse as make "Land" model "Rover".
var multiWordMakes = map[string]string{
	"land rover":    "Land Rover",
	"alfa romeo":    "Alfa Romeo",
	"mercedes benz": "Mercedes-Benz",
}

// CanonicalMake resolves a make name or alias to its canonical form.
func CanonicalMake(name string) (string, bool) {
	canonical, ok := makeAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// FindMake scans tokenized title text for the first recognizable manufacturer
// name, returning the canonical make and the token index after it.
func FindMake(tokens []string) (make_ string, next int, ok bool) {
	for i := range tokens {
		if i+1 < len(tokens) {
			pair := strings.ToLower(tokens[i] + " " + tokens[i+1])
			if canonical, found := multiWordMakes[pair]; found {
				return canonical, i + 2, true
			}
		}
		if canonical, found := CanonicalMake(tokens[i]); found {
			return canonical, i + 1, true
		}
	}
	return "", 0, false
}
