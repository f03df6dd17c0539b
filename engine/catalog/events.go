package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/pkg/natsutil"
)

// NATS subjects for catalog change notification.
const (
	SubjectVehicleCreated = "catalog.vehicle.created"
	SubjectVehicleUpdated = "catalog.vehicle.updated"
	SubjectVehicleDeleted = "catalog.vehicle.deleted"
	SubjectSourceSynced   = "catalog.source.synced"
	SubjectSyncRequest    = "catalog.sync.request"
)

// VehicleEvent notifies downstream consumers of one catalog mutation.
type VehicleEvent struct {
	VIN      string    `json:"vin"`
	SourceID string    `json:"source_id"`
	SyncRun  string    `json:"sync_run,omitempty"`
	At       time.Time `json:"at"`
}

// SourceSyncedEvent summarizes a completed source sync.
type SourceSyncedEvent struct {
	SourceID string    `json:"source_id"`
	SyncRun  string    `json:"sync_run,omitempty"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Deleted  int       `json:"deleted"`
	Count    int       `json:"count"`
	At       time.Time `json:"at"`
}

// SyncRequest asks the scheduler to sync one source (or all, when ID is
// empty) outside the periodic cadence.
type SyncRequest struct {
	SourceID string `json:"source_id"`
}

// Events publishes catalog change notifications over NATS. A nil *Events or
// one built with a nil connection drops everything, so callers never need to
// branch on whether messaging is configured.
type Events struct {
	nc  *nats.Conn
	log *slog.Logger
}

// NewEvents creates an event publisher. nc may be nil.
func NewEvents(nc *nats.Conn, log *slog.Logger) *Events {
	if log == nil {
		log = slog.Default()
	}
	return &Events{nc: nc, log: log}
}

func (e *Events) enabled() bool { return e != nil && e.nc != nil }

func (e *Events) VehicleCreated(ctx context.Context, v domain.CatalogVehicle, syncRun string) {
	e.publish(ctx, SubjectVehicleCreated, VehicleEvent{
		VIN: v.VIN, SourceID: v.SourceID, SyncRun: syncRun, At: time.Now().UTC(),
	})
}

func (e *Events) VehicleUpdated(ctx context.Context, vin, sourceID, syncRun string) {
	e.publish(ctx, SubjectVehicleUpdated, VehicleEvent{
		VIN: vin, SourceID: sourceID, SyncRun: syncRun, At: time.Now().UTC(),
	})
}

func (e *Events) VehicleDeleted(ctx context.Context, vin, sourceID, syncRun string) {
	e.publish(ctx, SubjectVehicleDeleted, VehicleEvent{
		VIN: vin, SourceID: sourceID, SyncRun: syncRun, At: time.Now().UTC(),
	})
}

func (e *Events) SourceSynced(ctx context.Context, ev SourceSyncedEvent) {
	e.publish(ctx, SubjectSourceSynced, ev)
}

func (e *Events) publish(ctx context.Context, subject string, v any) {
	if !e.enabled() {
		return
	}
	if err := natsutil.Publish(ctx, e.nc, subject, v); err != nil {
		e.log.Warn("event publish failed", "subject", subject, "error", err)
	}
}
