package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// VIN format: 17 alphanumeric characters, excluding I, O, Q.
var vinRegex = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// VINPattern matches a VIN embedded in surrounding text.
var VINPattern = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)

// Plausibility bounds. Values outside these are treated as extraction noise
// (most often a price/mileage mix-up) and degraded to unknown.
const (
	MinPlausiblePrice   = 1_000
	MaxPlausiblePrice   = 200_000
	MaxPlausibleMileage = 500_000
	MinModelYear        = 1900
)

// MaxModelYear is the latest acceptable model year (next-year models arrive early).
func MaxModelYear(now time.Time) int { return now.Year() + 1 }

// NormalizeVIN uppercases and trims a VIN candidate.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// ValidVIN reports whether vin is a syntactically valid VIN.
func ValidVIN(vin string) bool {
	return vinRegex.MatchString(NormalizeVIN(vin))
}

// PlausiblePrice reports whether price looks like a real asking price.
func PlausiblePrice(price int) bool {
	return price >= MinPlausiblePrice && price <= MaxPlausiblePrice
}

// PlausibleMileage reports whether mileage looks like a real odometer reading.
func PlausibleMileage(mileage int) bool {
	return mileage > 0 && mileage <= MaxPlausibleMileage
}

// ValidateRecord checks an extracted record before it may enter reconciliation.
// VIN is the sole identity key; everything else degrades to zero values.
func ValidateRecord(rec ExtractedRecord) error {
	if rec.VIN == "" {
		return NewValidationError("vin", "", ErrNoVIN)
	}
	if !ValidVIN(rec.VIN) {
		return NewValidationError("vin", rec.VIN, ErrInvalidVIN)
	}
	if rec.Price != 0 && !PlausiblePrice(rec.Price) {
		return NewValidationError("price", fmt.Sprintf("%d", rec.Price), ErrImplausiblePrice)
	}
	if rec.Mileage != 0 && !PlausibleMileage(rec.Mileage) {
		return NewValidationError("mileage", fmt.Sprintf("%d", rec.Mileage), ErrImplausibleMileage)
	}
	if rec.Year != 0 && (rec.Year < MinModelYear || rec.Year > MaxModelYear(time.Now())) {
		return NewValidationError("year", fmt.Sprintf("%d", rec.Year), ErrYearOutOfRange)
	}
	return nil
}
