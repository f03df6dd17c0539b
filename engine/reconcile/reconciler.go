package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/milan101q/specialoffer/engine/catalog"
	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/pkg/metrics"
)

// Outcome summarizes one applied reconciliation.
type Outcome struct {
	Created int
	Updated int
	Deleted int
	Failed  int
	Count   int // vehicles attributed to the source after the applied writes
}

// Reconciler computes and applies reconciliation plans for one source at a
// time. Store writes that fail are logged and counted, never fatal; deletes
// are applied only after every create and update, so a partially applied plan
// can't lose vehicles it hasn't confirmed.
type Reconciler struct {
	store  catalog.Store
	events *catalog.Events
	log    *slog.Logger
	now    func() time.Time

	creates *metrics.Counter
	updates *metrics.Counter
	deletes *metrics.Counter
	errors  *metrics.Counter
}

// New builds a Reconciler. events may be nil; pass nil for reg to skip
// metric registration.
func New(store catalog.Store, events *catalog.Events, log *slog.Logger, reg *metrics.Registry) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Reconciler{
		store:   store,
		events:  events,
		log:     log,
		now:     time.Now,
		creates: reg.Counter("reconcile_creates_total", "Vehicles created."),
		updates: reg.Counter("reconcile_updates_total", "Vehicles updated."),
		deletes: reg.Counter("reconcile_deletes_total", "Vehicles deleted."),
		errors:  reg.Counter("reconcile_errors_total", "Store writes that failed."),
	}
}

// Reconcile diffs the extracted records against the source's persisted
// vehicles and applies the resulting plan. The source is marked active with a
// fresh sync timestamp and inventory count on completion.
func (r *Reconciler) Reconcile(ctx context.Context, src domain.Source, extracted []domain.ExtractedRecord, syncRun string) (Outcome, error) {
	existing, err := r.store.VehiclesBySource(ctx, src.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile %s: load existing: %w", src.ID, err)
	}

	plan := Compute(extracted, existing)
	out := r.apply(ctx, src, plan, syncRun)

	if err := r.store.UpdateSource(ctx, src.ID, map[string]any{
		"status":         string(domain.SourceActive),
		"last_synced_at": r.now().UTC(),
		"vehicle_count":  out.Count,
	}); err != nil {
		return out, fmt.Errorf("reconcile %s: finalize source: %w", src.ID, err)
	}

	if r.events != nil {
		r.events.SourceSynced(ctx, catalog.SourceSyncedEvent{
			SourceID: src.ID,
			SyncRun:  syncRun,
			Created:  out.Created,
			Updated:  out.Updated,
			Deleted:  out.Deleted,
			Count:    out.Count,
			At:       r.now().UTC(),
		})
	}
	r.log.Info("reconciled source",
		"source", src.ID,
		"created", out.Created, "updated", out.Updated,
		"deleted", out.Deleted, "failed", out.Failed,
		"count", out.Count)
	return out, nil
}

func (r *Reconciler) apply(ctx context.Context, src domain.Source, plan Plan, syncRun string) Outcome {
	var out Outcome
	failedCreates, failedDeletes := 0, 0

	for _, rec := range plan.Creates {
		v := vehicleFromRecord(rec, src.ID, r.now().UTC())
		if err := r.store.CreateVehicle(ctx, v); err != nil {
			r.errors.Inc()
			out.Failed++
			failedCreates++
			r.log.Error("create failed", "vin", rec.VIN, "error", err)
			continue
		}
		r.creates.Inc()
		out.Created++
		if r.events != nil {
			r.events.VehicleCreated(ctx, v, syncRun)
		}
	}

	for _, up := range plan.Updates {
		if err := r.store.UpdateVehicle(ctx, up.VIN, up.Fields); err != nil {
			r.errors.Inc()
			out.Failed++
			r.log.Error("update failed", "vin", up.VIN, "error", err)
			continue
		}
		r.updates.Inc()
		out.Updated++
		if r.events != nil {
			r.events.VehicleUpdated(ctx, up.VIN, src.ID, syncRun)
		}
	}

	for _, vin := range plan.Deletes {
		if err := r.store.DeleteVehicle(ctx, vin); err != nil {
			r.errors.Inc()
			out.Failed++
			failedDeletes++
			r.log.Error("delete failed", "vin", vin, "error", err)
			continue
		}
		r.deletes.Inc()
		out.Deleted++
		if r.events != nil {
			r.events.VehicleDeleted(ctx, vin, src.ID, syncRun)
		}
	}
	// A failed create never made it into the catalog; a failed delete is
	// still there. Count reflects what was actually persisted.
	out.Count = plan.Total - failedCreates + failedDeletes
	return out
}

func vehicleFromRecord(rec domain.ExtractedRecord, sourceID string, now time.Time) domain.CatalogVehicle {
	return domain.CatalogVehicle{
		VIN:           rec.VIN,
		SourceID:      sourceID,
		Title:         rec.Title,
		Year:          rec.Year,
		Make:          rec.Make,
		Model:         rec.Model,
		Price:         rec.Price,
		Mileage:       rec.Mileage,
		Images:        rec.Images,
		CarfaxURL:     rec.CarfaxURL,
		ListingURL:    rec.ListingURL,
		Location:      rec.Location,
		DisplayWeight: catalog.RollWeight(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
