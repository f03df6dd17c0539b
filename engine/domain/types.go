// Package domain defines core domain types, constants, and validation for the
// inventory pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "time"

// SourceStatus is the lifecycle state of a dealership source.
type SourceStatus string

const (
	SourceActive  SourceStatus = "active"
	SourceSyncing SourceStatus = "syncing"
	SourceError   SourceStatus = "error"
	SourceExpired SourceStatus = "expired"
)

// Source is a third-party dealership website configured as an inventory origin.
// The primary entry URL is its identity.
type Source struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	URL            string       `json:"url"`
	AdditionalURLs []string     `json:"additional_urls,omitempty"`
	Location       string       `json:"location,omitempty"` // "City, Region"
	ZipCode        string       `json:"zip_code,omitempty"`
	Status         SourceStatus `json:"status"`
	LastSyncedAt   time.Time    `json:"last_synced_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	VehicleCount   int          `json:"vehicle_count"`
	CreatedAt      time.Time    `json:"created_at"`
}

// EntryURLs returns the primary URL plus all additional entry URLs.
func (s Source) EntryURLs() []string {
	urls := make([]string, 0, 1+len(s.AdditionalURLs))
	urls = append(urls, s.URL)
	urls = append(urls, s.AdditionalURLs...)
	return urls
}

// Expired reports whether the source's expiration timestamp has passed.
// An expired source must never be crawled.
func (s Source) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ExtractedRecord is the field extractor's output for one detail page.
// It is ephemeral: reconciliation turns it into a CatalogVehicle or discards it.
type ExtractedRecord struct {
	VIN        string   `json:"vin"`
	Title      string   `json:"title"`
	Year       int      `json:"year"`
	Make       string   `json:"make"`
	Model      string   `json:"model"`
	Price      int      `json:"price"`   // 0 means unknown
	Mileage    int      `json:"mileage"` // 0 means unknown
	Images     []string `json:"images"`
	CarfaxURL  string   `json:"carfax_url,omitempty"`
	ListingURL string   `json:"listing_url"`
	Location   string   `json:"location,omitempty"`
}

// CatalogVehicle is the persisted, canonical representation of a vehicle,
// keyed globally by VIN and owned by exactly one source.
type CatalogVehicle struct {
	VIN           string    `json:"vin"`
	SourceID      string    `json:"source_id"`
	Title         string    `json:"title"`
	Year          int       `json:"year"`
	Make          string    `json:"make"`
	Model         string    `json:"model"`
	Price         int       `json:"price"`
	Mileage       int       `json:"mileage"`
	Images        []string  `json:"images"`
	CarfaxURL     string    `json:"carfax_url,omitempty"`
	ListingURL    string    `json:"listing_url"`
	Location      string    `json:"location,omitempty"`
	DisplayWeight int       `json:"display_weight"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MaxImagesPerVehicle bounds the image list carried per record.
const MaxImagesPerVehicle = 20
