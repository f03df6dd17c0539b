package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/milan101q/specialoffer/engine/domain"
)

type mockRows struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockRows) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockRows) Record() *neo4j.Record { return m.records[m.idx-1] }

type mockSession struct {
	rows    *mockRows
	err     error
	cyphers []string
	params  []map[string]any
	closed  bool
}

func (m *mockSession) Run(ctx context.Context, cypher string, params map[string]any) (rows, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

func (m *mockSession) Close(ctx context.Context) error {
	m.closed = true
	return nil
}

func storeWith(sess *mockSession) *GraphStore {
	return &GraphStore{
		newSession: func(ctx context.Context) session { return sess },
		now:        func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func vehicleRecord(vin, sourceID string, price int) *neo4j.Record {
	return &neo4j.Record{
		Keys: []string{"n"},
		Values: []any{dbtype.Node{Props: map[string]any{
			"vin":       vin,
			"source_id": sourceID,
			"title":     "2003 Honda Accord",
			"year":      int64(2003),
			"price":     int64(price),
			"mileage":   int64(134902),
			"images":    []any{"https://cdn.example/1.jpg"},
		}}},
	}
}

func TestVehiclesBySource(t *testing.T) {
	sess := &mockSession{rows: &mockRows{records: []*neo4j.Record{
		vehicleRecord("1HGCM82633A004352", "src-1", 8995),
		vehicleRecord("5TDZA23C13S012345", "src-1", 12500),
	}}}
	got, err := storeWith(sess).VehiclesBySource(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("VehiclesBySource: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].VIN != "1HGCM82633A004352" || got[0].Price != 8995 || got[0].Year != 2003 {
		t.Fatalf("vehicle = %+v", got[0])
	}
	if len(got[0].Images) != 1 {
		t.Fatalf("images = %v", got[0].Images)
	}
	if !sess.closed {
		t.Fatal("session not closed")
	}
}

func TestVehicleByVINNotFound(t *testing.T) {
	sess := &mockSession{rows: &mockRows{}}
	_, err := storeWith(sess).VehicleByVIN(context.Background(), "1HGCM82633A004352")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateVehicleMerges(t *testing.T) {
	sess := &mockSession{rows: &mockRows{}}
	err := storeWith(sess).CreateVehicle(context.Background(), domain.CatalogVehicle{
		VIN: "1HGCM82633A004352", SourceID: "src-1", Price: 8995,
	})
	if err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}
	if !strings.Contains(sess.cyphers[0], "MERGE (n:Vehicle {vin: $vin})") {
		t.Fatalf("cypher = %q", sess.cyphers[0])
	}
	props := sess.params[0]["props"].(map[string]any)
	if props["price"] != 8995 {
		t.Fatalf("props = %v", props)
	}
	if _, ok := props["updated_at"]; !ok {
		t.Fatal("updated_at not stamped")
	}
}

func TestUpdateVehicleNotFound(t *testing.T) {
	sess := &mockSession{rows: &mockRows{}}
	err := storeWith(sess).UpdateVehicle(context.Background(), "1HGCM82633A004352",
		map[string]any{"price": 9500})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateVehicleStampsTimestamp(t *testing.T) {
	sess := &mockSession{rows: &mockRows{records: []*neo4j.Record{
		{Keys: []string{"n.vin"}, Values: []any{"1HGCM82633A004352"}},
	}}}
	err := storeWith(sess).UpdateVehicle(context.Background(), "1HGCM82633A004352",
		map[string]any{"price": 9500})
	if err != nil {
		t.Fatalf("UpdateVehicle: %v", err)
	}
	props := sess.params[0]["props"].(map[string]any)
	if props["price"] != 9500 {
		t.Fatalf("props = %v", props)
	}
	if _, ok := props["updated_at"]; !ok {
		t.Fatal("updated_at not stamped")
	}
}

func TestDeleteVehicleDetaches(t *testing.T) {
	sess := &mockSession{rows: &mockRows{}}
	if err := storeWith(sess).DeleteVehicle(context.Background(), "1HGCM82633A004352"); err != nil {
		t.Fatalf("DeleteVehicle: %v", err)
	}
	if !strings.Contains(sess.cyphers[0], "DETACH DELETE") {
		t.Fatalf("cypher = %q", sess.cyphers[0])
	}
}

func TestShuffleWeights(t *testing.T) {
	sess := &mockSession{rows: &mockRows{}}
	if err := storeWith(sess).ShuffleWeights(context.Background()); err != nil {
		t.Fatalf("ShuffleWeights: %v", err)
	}
	if !strings.Contains(sess.cyphers[0], "display_weight = toInteger(rand()") {
		t.Fatalf("cypher = %q", sess.cyphers[0])
	}
}

func TestUpdateSourcePartialFields(t *testing.T) {
	sess := &mockSession{rows: &mockRows{records: []*neo4j.Record{
		{Keys: []string{"n.id"}, Values: []any{"src-1"}},
	}}}
	err := storeWith(sess).UpdateSource(context.Background(), "src-1",
		map[string]any{"status": "error"})
	if err != nil {
		t.Fatalf("UpdateSource: %v", err)
	}
	if !strings.Contains(sess.cyphers[0], "MATCH (n:Source {id: $id})") {
		t.Fatalf("cypher = %q", sess.cyphers[0])
	}
}

func TestSourceMapRoundTrip(t *testing.T) {
	src := domain.Source{
		ID:             "src-1",
		Name:           "Nova Autoland",
		URL:            "https://novaautoland.com",
		AdditionalURLs: []string{"https://novaautoland.com/specials"},
		Status:         domain.SourceActive,
		VehicleCount:   42,
		LastSyncedAt:   time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	rec := &neo4j.Record{Keys: []string{"n"}, Values: []any{dbtype.Node{Props: normalizeProps(sourceToMap(src))}}}
	got, err := sourceFromRecord(rec)
	if err != nil {
		t.Fatalf("sourceFromRecord: %v", err)
	}
	if got.ID != src.ID || got.URL != src.URL || got.Status != src.Status {
		t.Fatalf("got %+v", got)
	}
	if got.VehicleCount != 42 {
		t.Fatalf("VehicleCount = %d", got.VehicleCount)
	}
	if len(got.AdditionalURLs) != 1 {
		t.Fatalf("AdditionalURLs = %v", got.AdditionalURLs)
	}
	if !got.LastSyncedAt.Equal(src.LastSyncedAt) {
		t.Fatalf("LastSyncedAt = %v", got.LastSyncedAt)
	}
}

// normalizeProps mimics the driver returning integers as int64.
func normalizeProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if n, ok := v.(int); ok {
			out[k] = int64(n)
			continue
		}
		out[k] = v
	}
	return out
}
