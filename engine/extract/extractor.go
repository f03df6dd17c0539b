// Package extract turns a parsed listing detail page into a normalized
// vehicle record. Each field runs an ordered chain of strategies over the
// document, first plausible value wins. Extraction is pure: no network calls,
// no shared state. A field that cannot be extracted degrades to its zero
// value; only a missing VIN skips the whole record.
package extract

import (
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/pkg/fn"
)

// SkipReason classifies why a detail page produced no record.
type SkipReason string

const (
	// SkipNoVIN means no strategy found a syntactically valid VIN.
	SkipNoVIN SkipReason = "no_vin"
)

// SkipError marks a page that yielded no record. Skips are expected during
// normal operation (category pages, sold-vehicle stubs) and are never retried.
type SkipError struct {
	Reason SkipReason
	URL    string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("extract: skipped %s: %s", e.URL, e.Reason)
}

// Extractor extracts vehicle records from listing documents. Overrides, when
// set, patch known-bad extractions by VIN after the strategy chains run.
type Extractor struct {
	Overrides Overrides
	now       func() time.Time
}

// New returns an Extractor with no overrides.
func New() *Extractor {
	return &Extractor{now: time.Now}
}

// WithOverrides returns an Extractor applying the given override table.
func WithOverrides(o Overrides) *Extractor {
	return &Extractor{Overrides: o, now: time.Now}
}

// Extract produces a record from one detail page. The listing URL is used for
// VIN-in-URL fallback and for resolving relative image links. Source supplies
// the inherited location tag.
func (e *Extractor) Extract(doc *goquery.Document, listingURL string, src domain.Source) fn.Result[domain.ExtractedRecord] {
	now := e.now
	if now == nil {
		now = time.Now
	}
	vin := extractVIN(doc, listingURL)
	if vin == "" {
		return fn.Err[domain.ExtractedRecord](&SkipError{Reason: SkipNoVIN, URL: listingURL})
	}

	title := extractTitle(doc)
	year, make_, model := parseTitle(title, now())
	if sd := structuredVehicleData(doc); sd != (structuredData{}) {
		if make_ == "" {
			make_ = sd.Make
		}
		if model == "" {
			model = sd.Model
		}
		if year == 0 {
			year = sd.Year
		}
	}

	price, mileage := extractPriceMileage(doc)

	rec := domain.ExtractedRecord{
		VIN:        vin,
		Title:      title,
		Year:       year,
		Make:       make_,
		Model:      model,
		Price:      price,
		Mileage:    mileage,
		Images:     extractImages(doc, listingURL),
		CarfaxURL:  extractReportURL(doc, vin),
		ListingURL: listingURL,
		Location:   src.Location,
	}
	rec = e.Overrides.Apply(rec)
	return fn.Ok(degrade(rec, now()))
}

// degrade forces implausible numeric fields back to unknown. A record whose
// VIN is good is never dropped over a bad price, mileage, or year.
func degrade(rec domain.ExtractedRecord, now time.Time) domain.ExtractedRecord {
	if rec.Price != 0 && !domain.PlausiblePrice(rec.Price) {
		rec.Price = 0
	}
	if rec.Mileage != 0 && !domain.PlausibleMileage(rec.Mileage) {
		rec.Mileage = 0
	}
	if rec.Year != 0 && (rec.Year < domain.MinModelYear || rec.Year > domain.MaxModelYear(now)) {
		rec.Year = 0
	}
	return rec
}
