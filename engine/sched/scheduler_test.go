package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/milan101q/specialoffer/engine/catalog"
	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/engine/reconcile"
	"github.com/milan101q/specialoffer/pkg/fn"
)

type fakeStore struct {
	mu       sync.Mutex
	sources  map[string]domain.Source
	statuses map[string][]domain.SourceStatus
	shuffles int
}

func newFakeStore(sources ...domain.Source) *fakeStore {
	s := &fakeStore{
		sources:  make(map[string]domain.Source),
		statuses: make(map[string][]domain.SourceStatus),
	}
	for _, src := range sources {
		s.sources[src.ID] = src
	}
	return s
}

func (s *fakeStore) VehiclesBySource(context.Context, string) ([]domain.CatalogVehicle, error) {
	return nil, nil
}
func (s *fakeStore) VehicleByVIN(context.Context, string) (domain.CatalogVehicle, error) {
	return domain.CatalogVehicle{}, catalog.ErrNotFound
}
func (s *fakeStore) CreateVehicle(context.Context, domain.CatalogVehicle) error { return nil }
func (s *fakeStore) UpdateVehicle(context.Context, string, map[string]any) error {
	return nil
}
func (s *fakeStore) DeleteVehicle(context.Context, string) error { return nil }

func (s *fakeStore) GetSource(_ context.Context, id string) (domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return domain.Source{}, catalog.ErrNotFound
	}
	return src, nil
}

func (s *fakeStore) ListSources(context.Context) ([]domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Source
	for _, src := range s.sources {
		out = append(out, src)
	}
	return out, nil
}

func (s *fakeStore) UpdateSource(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.sources[id]
	if st, ok := fields["status"].(string); ok {
		src.Status = domain.SourceStatus(st)
		s.statuses[id] = append(s.statuses[id], src.Status)
	}
	if ts, ok := fields["last_synced_at"].(time.Time); ok {
		src.LastSyncedAt = ts
	}
	s.sources[id] = src
	return nil
}

func (s *fakeStore) ShuffleWeights(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuffles++
	return nil
}

func (s *fakeStore) statusHistory(id string) []domain.SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SourceStatus(nil), s.statuses[id]...)
}

type fakeCrawler struct {
	mu      sync.Mutex
	calls   []string
	results []fn.Result[domain.ExtractedRecord]
	err     error
	block   chan struct{} // when set, Crawl waits until closed
	panics  bool
}

func (c *fakeCrawler) Crawl(_ context.Context, src domain.Source) ([]fn.Result[domain.ExtractedRecord], error) {
	c.mu.Lock()
	c.calls = append(c.calls, src.ID)
	block := c.block
	c.mu.Unlock()
	if c.panics {
		panic("crawler exploded")
	}
	if block != nil {
		<-block
	}
	return c.results, c.err
}

func (c *fakeCrawler) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
	recs  [][]domain.ExtractedRecord
	err   error
	store *fakeStore // when set, stamps last_synced_at like the real finalize
}

func (r *fakeReconciler) Reconcile(ctx context.Context, src domain.Source, extracted []domain.ExtractedRecord, _ string) (reconcile.Outcome, error) {
	r.mu.Lock()
	r.calls++
	r.recs = append(r.recs, extracted)
	store, err := r.store, r.err
	r.mu.Unlock()
	if store != nil && err == nil {
		_ = store.UpdateSource(ctx, src.ID, map[string]any{"last_synced_at": time.Now()})
	}
	return reconcile.Outcome{Count: len(extracted)}, err
}

func (r *fakeReconciler) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newScheduler(store *fakeStore, crawler *fakeCrawler, rec *fakeReconciler) *Scheduler {
	return New(store, crawler, rec, Opts{}, nil, nil)
}

func TestSyncSourceRunsPipeline(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1", Name: "dealer"})
	crawler := &fakeCrawler{results: []fn.Result[domain.ExtractedRecord]{
		fn.Ok(domain.ExtractedRecord{VIN: "1HGCM82633A004352"}),
		fn.Err[domain.ExtractedRecord](errors.New("page broke")),
	}}
	rec := &fakeReconciler{}

	if err := newScheduler(store, crawler, rec).SyncSource(context.Background(), "src-1"); err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if crawler.callCount() != 1 || rec.calls != 1 {
		t.Fatalf("crawler=%d reconciler=%d", crawler.callCount(), rec.calls)
	}
	// Only the ok record reaches reconciliation.
	if len(rec.recs[0]) != 1 {
		t.Fatalf("records = %+v", rec.recs[0])
	}
	hist := store.statusHistory("src-1")
	if len(hist) == 0 || hist[0] != domain.SourceSyncing {
		t.Fatalf("status history = %v", hist)
	}
}

func TestSyncSourceSingleFlight(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1"})
	block := make(chan struct{})
	crawler := &fakeCrawler{block: block}
	rec := &fakeReconciler{}
	s := newScheduler(store, crawler, rec)

	done := make(chan error, 1)
	go func() { done <- s.SyncSource(context.Background(), "src-1") }()

	// Wait until the first sync holds the flight lock.
	for i := 0; ; i++ {
		if crawler.callCount() == 1 {
			break
		}
		if i > 100 {
			t.Fatal("first sync never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.SyncSource(context.Background(), "src-1"); !errors.Is(err, domain.ErrSyncInFlight) {
		t.Fatalf("second sync err = %v, want ErrSyncInFlight", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if crawler.callCount() != 1 {
		t.Fatalf("crawler ran %d times", crawler.callCount())
	}
}

func TestSyncSourceExpired(t *testing.T) {
	store := newFakeStore(domain.Source{
		ID:        "src-1",
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	crawler := &fakeCrawler{}
	s := newScheduler(store, crawler, &fakeReconciler{})

	err := s.SyncSource(context.Background(), "src-1")
	if !errors.Is(err, domain.ErrSourceExpired) {
		t.Fatalf("err = %v, want ErrSourceExpired", err)
	}
	if crawler.callCount() != 0 {
		t.Fatal("expired source was crawled")
	}
	if hist := store.statusHistory("src-1"); len(hist) != 1 || hist[0] != domain.SourceExpired {
		t.Fatalf("status history = %v", hist)
	}
}

func TestSyncSourcePanicContained(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1"})
	s := newScheduler(store, &fakeCrawler{panics: true}, &fakeReconciler{})

	err := s.SyncSource(context.Background(), "src-1")
	if err == nil {
		t.Fatal("expected error from panicking crawl")
	}
	hist := store.statusHistory("src-1")
	if len(hist) == 0 || hist[len(hist)-1] != domain.SourceError {
		t.Fatalf("status history = %v", hist)
	}
}

func TestSyncSourceReconcileErrorMarksError(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1"})
	s := newScheduler(store, &fakeCrawler{}, &fakeReconciler{err: errors.New("db down")})

	if err := s.SyncSource(context.Background(), "src-1"); err == nil {
		t.Fatal("expected error")
	}
	hist := store.statusHistory("src-1")
	if hist[len(hist)-1] != domain.SourceError {
		t.Fatalf("status history = %v", hist)
	}
}

func TestSyncSourceCrawlFailureSkipsReconcile(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1", Name: "dead dealer"})
	crawler := &fakeCrawler{err: errors.New("crawl dead dealer: no listing page reachable")}
	rec := &fakeReconciler{}
	s := newScheduler(store, crawler, rec)

	if err := s.SyncSource(context.Background(), "src-1"); err == nil {
		t.Fatal("expected error from failed crawl")
	}
	// An unreachable site must never reconcile as an empty inventory, or
	// every persisted vehicle for the source would be deleted.
	if rec.callCount() != 0 {
		t.Fatalf("reconciler ran %d times on a failed crawl", rec.callCount())
	}
	hist := store.statusHistory("src-1")
	if len(hist) == 0 || hist[len(hist)-1] != domain.SourceError {
		t.Fatalf("status history = %v", hist)
	}
}

func TestSyncAllSkipsRecentlySynced(t *testing.T) {
	store := newFakeStore(
		domain.Source{ID: "fresh", LastSyncedAt: time.Now().Add(-time.Minute)},
		domain.Source{ID: "stale", LastSyncedAt: time.Now().Add(-2 * time.Hour)},
	)
	crawler := &fakeCrawler{}
	s := newScheduler(store, crawler, &fakeReconciler{})

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if crawler.callCount() != 1 || crawler.calls[0] != "stale" {
		t.Fatalf("calls = %v", crawler.calls)
	}
}

func TestSyncAllMarksExpiredDespiteRecentSync(t *testing.T) {
	store := newFakeStore(domain.Source{
		ID:           "src-1",
		LastSyncedAt: time.Now().Add(-time.Minute),
		ExpiresAt:    time.Now().Add(-time.Hour),
	})
	crawler := &fakeCrawler{}
	s := newScheduler(store, crawler, &fakeReconciler{})

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if crawler.callCount() != 0 {
		t.Fatal("expired source was crawled")
	}
	if hist := store.statusHistory("src-1"); len(hist) != 1 || hist[0] != domain.SourceExpired {
		t.Fatalf("status history = %v, want expiration despite recent sync", hist)
	}
}

func TestSyncAllContinuesPastFailingSource(t *testing.T) {
	store := newFakeStore(
		domain.Source{ID: "a", LastSyncedAt: time.Now().Add(-2 * time.Hour)},
		domain.Source{ID: "b", LastSyncedAt: time.Now().Add(-2 * time.Hour)},
	)
	crawler := &fakeCrawler{}
	s := newScheduler(store, crawler, &fakeReconciler{err: errors.New("boom")})

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if crawler.callCount() != 2 {
		t.Fatalf("calls = %v, want both sources attempted", crawler.calls)
	}
}

func TestSyncAllFleetFlag(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1", LastSyncedAt: time.Now().Add(-2 * time.Hour)})
	block := make(chan struct{})
	crawler := &fakeCrawler{block: block}
	s := newScheduler(store, crawler, &fakeReconciler{})

	done := make(chan error, 1)
	go func() { done <- s.SyncAll(context.Background()) }()

	for i := 0; ; i++ {
		if crawler.callCount() == 1 {
			break
		}
		if i > 100 {
			t.Fatal("fleet pass never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.SyncAll(context.Background()); !errors.Is(err, domain.ErrSyncInFlight) {
		t.Fatalf("overlapping fleet pass err = %v", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("fleet pass: %v", err)
	}
}

func TestFleetLoopSyncsAtCadence(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1", LastSyncedAt: time.Now().Add(-2 * time.Hour)})
	crawler := &fakeCrawler{}
	s := New(store, crawler, &fakeReconciler{},
		Opts{FleetInterval: 20 * time.Millisecond, MinResync: time.Nanosecond, ShuffleInterval: time.Hour},
		nil, nil)

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if crawler.callCount() < 2 {
		t.Fatalf("fleet loop synced %d times, want repeated passes", crawler.callCount())
	}
}

func TestFleetLoopHonorsMinResync(t *testing.T) {
	store := newFakeStore(domain.Source{ID: "src-1", LastSyncedAt: time.Now().Add(-2 * time.Hour)})
	crawler := &fakeCrawler{}
	rec := &fakeReconciler{store: store} // stamps last_synced_at on success
	s := New(store, crawler, rec,
		Opts{FleetInterval: 20 * time.Millisecond, MinResync: time.Hour, ShuffleInterval: time.Hour},
		nil, nil)

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if crawler.callCount() != 1 {
		t.Fatalf("synced %d times, want 1 (later ticks fall inside the resync window)", crawler.callCount())
	}
}

func TestShuffleLoop(t *testing.T) {
	store := newFakeStore()
	s := New(store, &fakeCrawler{}, &fakeReconciler{},
		Opts{FleetInterval: time.Hour, MinResync: time.Minute, ShuffleInterval: 20 * time.Millisecond},
		nil, nil)

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	store.mu.Lock()
	shuffles := store.shuffles
	store.mu.Unlock()
	if shuffles == 0 {
		t.Fatal("shuffle never ran")
	}
}
