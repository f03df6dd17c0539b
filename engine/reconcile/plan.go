// Package reconcile brings the persisted catalog in line with a source's
// latest crawl. Plan is a pure set-diff by VIN; Reconciler applies a plan
// through the catalog store with per-record error containment.
package reconcile

import (
	"github.com/milan101q/specialoffer/engine/domain"
)

// Update carries the partial fields that changed for one persisted vehicle.
type Update struct {
	VIN    string
	Fields map[string]any
}

// Plan is the outcome of diffing a crawl against the persisted catalog.
// Total counts every merged record, including unchanged ones, and becomes
// the source's cached inventory count after apply.
type Plan struct {
	Creates   []domain.ExtractedRecord
	Updates   []Update
	Deletes   []string
	Unchanged int
	Total     int
}

// Compute diffs the merged extracted set against the persisted set for one
// source. Records without a valid VIN are dropped before merging. When a VIN
// appears in multiple extracted records, the one carrying more images wins.
// Every persisted VIN is classified: present VINs become updates or no-ops,
// absent VINs become deletes.
func Compute(extracted []domain.ExtractedRecord, existing []domain.CatalogVehicle) Plan {
	merged := mergeByVIN(extracted)

	existingByVIN := make(map[string]domain.CatalogVehicle, len(existing))
	for _, v := range existing {
		existingByVIN[v.VIN] = v
	}

	var plan Plan
	plan.Total = len(merged)
	seen := make(map[string]bool, len(merged))

	for _, rec := range merged {
		seen[rec.VIN] = true
		old, ok := existingByVIN[rec.VIN]
		if !ok {
			plan.Creates = append(plan.Creates, rec)
			continue
		}
		fields := diffFields(rec, old)
		if len(fields) == 0 {
			plan.Unchanged++
			continue
		}
		plan.Updates = append(plan.Updates, Update{VIN: rec.VIN, Fields: fields})
	}

	for _, v := range existing {
		if !seen[v.VIN] {
			plan.Deletes = append(plan.Deletes, v.VIN)
		}
	}
	return plan
}

// mergeByVIN de-duplicates extracted records across entry URLs, keeping
// first-seen order and preferring the variant with the larger image list.
func mergeByVIN(extracted []domain.ExtractedRecord) []domain.ExtractedRecord {
	index := make(map[string]int)
	var merged []domain.ExtractedRecord
	for _, rec := range extracted {
		rec.VIN = domain.NormalizeVIN(rec.VIN)
		if !domain.ValidVIN(rec.VIN) {
			continue
		}
		if i, ok := index[rec.VIN]; ok {
			if len(rec.Images) > len(merged[i].Images) {
				merged[i] = rec
			}
			continue
		}
		index[rec.VIN] = len(merged)
		merged = append(merged, rec)
	}
	return merged
}

// diffFields returns the mutable fields that differ between the fresh record
// and the persisted vehicle. A shorter or empty image list never overwrites a
// non-empty persisted one, so a transient extraction miss cannot erase
// known-good images.
func diffFields(rec domain.ExtractedRecord, old domain.CatalogVehicle) map[string]any {
	fields := make(map[string]any)
	if rec.Price != old.Price {
		fields["price"] = rec.Price
	}
	if rec.Title != "" && rec.Title != old.Title {
		fields["title"] = rec.Title
	}
	if rec.Mileage != old.Mileage {
		fields["mileage"] = rec.Mileage
	}
	if rec.CarfaxURL != "" && rec.CarfaxURL != old.CarfaxURL {
		fields["carfax_url"] = rec.CarfaxURL
	}
	if len(rec.Images) >= len(old.Images) && len(rec.Images) > 0 && !imagesEqual(rec.Images, old.Images) {
		fields["images"] = toAnySlice(rec.Images)
	}
	return fields
}

func imagesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
