package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/pkg/repo"
)

// rows is the minimal interface needed from a neo4j result.
type rows interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// session is the minimal interface needed from a neo4j session.
type session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (rows, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (rows, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// GraphStore is the Neo4j-backed catalog. Vehicle nodes are keyed by VIN,
// Source nodes by id, with one session per call.
type GraphStore struct {
	driver     neo4j.DriverWithContext
	sources    *repo.Neo4jRepo[domain.Source, string]
	newSession func(ctx context.Context) session // for testing
	now        func() time.Time
}

var _ Store = (*GraphStore)(nil)

// NewGraphStore creates a Neo4j-backed catalog store.
func NewGraphStore(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver:  driver,
		sources: newSourceRepo(driver),
		now:     time.Now,
	}
}

func (g *GraphStore) session(ctx context.Context) session {
	if g.newSession != nil {
		return g.newSession(ctx)
	}
	return &sessionAdapter{sess: g.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

func (g *GraphStore) VehiclesBySource(ctx context.Context, sourceID string) ([]domain.CatalogVehicle, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (n:Vehicle {source_id: $source_id}) RETURN n ORDER BY n.vin`,
		map[string]any{"source_id": sourceID})
	if err != nil {
		return nil, err
	}
	var vehicles []domain.CatalogVehicle
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, vehicleFromProps(node.Props))
	}
	return vehicles, nil
}

func (g *GraphStore) VehicleByVIN(ctx context.Context, vin string) (domain.CatalogVehicle, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (n:Vehicle {vin: $vin}) RETURN n`, map[string]any{"vin": vin})
	if err != nil {
		return domain.CatalogVehicle{}, err
	}
	if !result.Next(ctx) {
		return domain.CatalogVehicle{}, ErrNotFound
	}
	node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
	if err != nil {
		return domain.CatalogVehicle{}, err
	}
	return vehicleFromProps(node.Props), nil
}

// CreateVehicle upserts by VIN so a VIN seen twice (first writer wins across
// sources) never produces a duplicate node.
func (g *GraphStore) CreateVehicle(ctx context.Context, v domain.CatalogVehicle) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	now := g.now().UTC()
	props := vehicleToMap(v)
	props["updated_at"] = now
	_, err := sess.Run(ctx,
		`MERGE (n:Vehicle {vin: $vin})
		 ON CREATE SET n.created_at = $now
		 SET n += $props`,
		map[string]any{"vin": v.VIN, "now": now, "props": props})
	return err
}

func (g *GraphStore) UpdateVehicle(ctx context.Context, vin string, fields map[string]any) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	props := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		props[k] = v
	}
	props["updated_at"] = g.now().UTC()

	result, err := sess.Run(ctx,
		`MATCH (n:Vehicle {vin: $vin}) SET n += $props RETURN n.vin`,
		map[string]any{"vin": vin, "props": props})
	if err != nil {
		return err
	}
	if !result.Next(ctx) {
		return fmt.Errorf("update %s: %w", vin, ErrNotFound)
	}
	return nil
}

func (g *GraphStore) DeleteVehicle(ctx context.Context, vin string) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MATCH (n:Vehicle {vin: $vin}) DETACH DELETE n`, map[string]any{"vin": vin})
	return err
}

func (g *GraphStore) GetSource(ctx context.Context, id string) (domain.Source, error) {
	return g.sources.Get(ctx, id)
}

func (g *GraphStore) ListSources(ctx context.Context) ([]domain.Source, error) {
	return g.sources.List(ctx, repo.ListOpts{Limit: 1000})
}

func (g *GraphStore) UpdateSource(ctx context.Context, id string, fields map[string]any) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (n:Source {id: $id}) SET n += $props RETURN n.id`,
		map[string]any{"id": id, "props": fields})
	if err != nil {
		return err
	}
	if !result.Next(ctx) {
		return fmt.Errorf("update source %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveSource upserts a source node; used by admin source creation.
func (g *GraphStore) SaveSource(ctx context.Context, src domain.Source) error {
	_, err := g.sources.Upsert(ctx, src)
	return err
}

// ShuffleWeights re-rolls every vehicle's display weight in one statement.
func (g *GraphStore) ShuffleWeights(ctx context.Context) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MATCH (n:Vehicle) SET n.display_weight = toInteger(rand() * $max)`,
		map[string]any{"max": maxDisplayWeight})
	return err
}

// maxDisplayWeight bounds the shuffle range; large enough that ties are rare.
const maxDisplayWeight = 1_000_000

// RollWeight produces a display weight for a newly created vehicle.
func RollWeight() int {
	return rand.Intn(maxDisplayWeight)
}

func vehicleToMap(v domain.CatalogVehicle) map[string]any {
	return map[string]any{
		"vin":            v.VIN,
		"source_id":      v.SourceID,
		"title":          v.Title,
		"year":           v.Year,
		"make":           v.Make,
		"model":          v.Model,
		"price":          v.Price,
		"mileage":        v.Mileage,
		"images":         toAnySlice(v.Images),
		"carfax_url":     v.CarfaxURL,
		"listing_url":    v.ListingURL,
		"location":       v.Location,
		"display_weight": v.DisplayWeight,
	}
}

func vehicleFromProps(props map[string]any) domain.CatalogVehicle {
	return domain.CatalogVehicle{
		VIN:           strProp(props, "vin"),
		SourceID:      strProp(props, "source_id"),
		Title:         strProp(props, "title"),
		Year:          intProp(props, "year"),
		Make:          strProp(props, "make"),
		Model:         strProp(props, "model"),
		Price:         intProp(props, "price"),
		Mileage:       intProp(props, "mileage"),
		Images:        strSliceProp(props, "images"),
		CarfaxURL:     strProp(props, "carfax_url"),
		ListingURL:    strProp(props, "listing_url"),
		Location:      strProp(props, "location"),
		DisplayWeight: intProp(props, "display_weight"),
		CreatedAt:     timeProp(props, "created_at"),
		UpdatedAt:     timeProp(props, "updated_at"),
	}
}

func newSourceRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[domain.Source, string] {
	return repo.NewNeo4jRepo[domain.Source, string](driver, "Source", sourceToMap, sourceFromRecord)
}

func sourceToMap(s domain.Source) map[string]any {
	return map[string]any{
		"id":              s.ID,
		"name":            s.Name,
		"url":             s.URL,
		"additional_urls": toAnySlice(s.AdditionalURLs),
		"location":        s.Location,
		"zip_code":        s.ZipCode,
		"status":          string(s.Status),
		"last_synced_at":  s.LastSyncedAt.UTC(),
		"expires_at":      s.ExpiresAt.UTC(),
		"vehicle_count":   s.VehicleCount,
		"created_at":      s.CreatedAt.UTC(),
	}
}

func sourceFromRecord(rec *neo4j.Record) (domain.Source, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Source{}, err
	}
	props := node.Props
	return domain.Source{
		ID:             strProp(props, "id"),
		Name:           strProp(props, "name"),
		URL:            strProp(props, "url"),
		AdditionalURLs: strSliceProp(props, "additional_urls"),
		Location:       strProp(props, "location"),
		ZipCode:        strProp(props, "zip_code"),
		Status:         domain.SourceStatus(strProp(props, "status")),
		LastSyncedAt:   timeProp(props, "last_synced_at"),
		ExpiresAt:      timeProp(props, "expires_at"),
		VehicleCount:   intProp(props, "vehicle_count"),
		CreatedAt:      timeProp(props, "created_at"),
	}, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func strSliceProp(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func timeProp(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v
	case dbtype.Time:
		return v.Time()
	case dbtype.LocalDateTime:
		return v.Time()
	}
	return time.Time{}
}
