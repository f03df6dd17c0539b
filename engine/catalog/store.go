// Package catalog persists the vehicle catalog and its sources, and publishes
// change events as the reconciler mutates it.
package catalog

import (
	"context"
	"errors"

	"github.com/milan101q/specialoffer/engine/domain"
)

// ErrNotFound is returned when a vehicle or source does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Store is the persistence interface consumed by reconciliation and the
// scheduler. Vehicles are keyed globally by VIN; each belongs to one source.
type Store interface {
	VehiclesBySource(ctx context.Context, sourceID string) ([]domain.CatalogVehicle, error)
	VehicleByVIN(ctx context.Context, vin string) (domain.CatalogVehicle, error)
	CreateVehicle(ctx context.Context, v domain.CatalogVehicle) error
	UpdateVehicle(ctx context.Context, vin string, fields map[string]any) error
	DeleteVehicle(ctx context.Context, vin string) error

	GetSource(ctx context.Context, id string) (domain.Source, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	UpdateSource(ctx context.Context, id string, fields map[string]any) error

	// ShuffleWeights re-rolls every vehicle's display-ordering weight.
	ShuffleWeights(ctx context.Context) error
}
