package extract

import "github.com/milan101q/specialoffer/engine/domain"

// Override patches specific fields of a known-bad extraction. Zero values
// leave the extracted field untouched.
type Override struct {
	Title   string `json:"title,omitempty"`
	Year    int    `json:"year,omitempty"`
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Price   int    `json:"price,omitempty"`
	Mileage int    `json:"mileage,omitempty"`
}

// Overrides is an auditable correction table keyed by VIN. It exists for the
// handful of listings whose markup defeats every extraction strategy; entries
// should be removed once the underlying heuristic handles the page.
type Overrides map[string]Override

// Apply patches rec when an override exists for its VIN.
func (o Overrides) Apply(rec domain.ExtractedRecord) domain.ExtractedRecord {
	ov, ok := o[rec.VIN]
	if !ok {
		return rec
	}
	if ov.Title != "" {
		rec.Title = ov.Title
	}
	if ov.Year != 0 {
		rec.Year = ov.Year
	}
	if ov.Make != "" {
		rec.Make = ov.Make
	}
	if ov.Model != "" {
		rec.Model = ov.Model
	}
	if ov.Price != 0 {
		rec.Price = ov.Price
	}
	if ov.Mileage != 0 {
		rec.Mileage = ov.Mileage
	}
	return rec
}
