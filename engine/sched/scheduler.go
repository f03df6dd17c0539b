// Package sched drives the sync pipeline: a periodic fleet pass over all
// sources, on-demand per-source syncs, and the display-weight shuffle job.
// Sources sync sequentially within a fleet pass to bound outbound load;
// single-flight guards stop overlapping syncs of the same source.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/milan101q/specialoffer/engine/catalog"
	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/engine/reconcile"
	"github.com/milan101q/specialoffer/pkg/fn"
	"github.com/milan101q/specialoffer/pkg/metrics"
)

// Crawler walks one source and yields a result per discovered detail page.
// A non-nil error means the crawl as a whole failed (for example, no listing
// page was reachable) and its output must not be reconciled.
type Crawler interface {
	Crawl(ctx context.Context, src domain.Source) ([]fn.Result[domain.ExtractedRecord], error)
}

// Reconciler applies one source's crawl against the persisted catalog.
type Reconciler interface {
	Reconcile(ctx context.Context, src domain.Source, extracted []domain.ExtractedRecord, syncRun string) (reconcile.Outcome, error)
}

// Opts configure the scheduler's cadence.
type Opts struct {
	FleetInterval   time.Duration // periodic fleet pass
	MinResync       time.Duration // skip sources synced more recently than this
	ShuffleInterval time.Duration // display-weight re-roll
}

// DefaultOpts sync the fleet hourly, skip sources synced within the last 45
// minutes, and shuffle display weights every five minutes.
var DefaultOpts = Opts{
	FleetInterval:   time.Hour,
	MinResync:       45 * time.Minute,
	ShuffleInterval: 5 * time.Minute,
}

// Scheduler owns the sync lifecycle for the whole fleet.
type Scheduler struct {
	store    catalog.Store
	crawler  Crawler
	rec      Reconciler
	opts     Opts
	log      *slog.Logger
	now      func() time.Time
	newRunID func() string

	mu           sync.Mutex
	inFlight     map[string]bool
	fleetRunning bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	syncs        *metrics.Counter
	syncFailures *metrics.Counter
	syncSkips    *metrics.Counter
	syncDuration *metrics.Histogram
}

// New builds a Scheduler. Zero Opts fields take their defaults; pass nil for
// reg to skip metric registration.
func New(store catalog.Store, crawler Crawler, rec Reconciler, opts Opts, log *slog.Logger, reg *metrics.Registry) *Scheduler {
	if opts.FleetInterval == 0 {
		opts.FleetInterval = DefaultOpts.FleetInterval
	}
	if opts.MinResync == 0 {
		opts.MinResync = DefaultOpts.MinResync
	}
	if opts.ShuffleInterval == 0 {
		opts.ShuffleInterval = DefaultOpts.ShuffleInterval
	}
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Scheduler{
		store:        store,
		crawler:      crawler,
		rec:          rec,
		opts:         opts,
		log:          log,
		now:          time.Now,
		newRunID:     uuid.NewString,
		inFlight:     make(map[string]bool),
		syncs:        reg.Counter("sched_syncs_total", "Completed source syncs."),
		syncFailures: reg.Counter("sched_sync_failures_total", "Source syncs that ended in error."),
		syncSkips:    reg.Counter("sched_sync_skips_total", "Sources skipped (recent, expired, or in flight)."),
		syncDuration: reg.Histogram("sched_sync_duration_seconds", "Wall time per source sync.", nil),
	}
}

// Start launches the fleet-sync and shuffle loops. They run until Stop or
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.FleetInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SyncAll(ctx); err != nil {
					s.log.Warn("fleet pass skipped", "error", err)
				}
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.ShuffleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.store.ShuffleWeights(ctx); err != nil {
					s.log.Warn("shuffle failed", "error", err)
				}
			}
		}
	}()
	s.log.Info("scheduler started",
		"fleet_interval", s.opts.FleetInterval,
		"min_resync", s.opts.MinResync,
		"shuffle_interval", s.opts.ShuffleInterval)
}

// Stop halts both loops and waits for them to exit. In-progress syncs run to
// completion; there is no mid-crawl cancellation.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// SyncAll runs one sequential pass over every source. A second trigger while
// a pass is running is a no-op returning ErrSyncInFlight.
func (s *Scheduler) SyncAll(ctx context.Context) error {
	s.mu.Lock()
	if s.fleetRunning {
		s.mu.Unlock()
		return domain.ErrSyncInFlight
	}
	s.fleetRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.fleetRunning = false
		s.mu.Unlock()
	}()

	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("fleet pass: list sources: %w", err)
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Expiration outranks sync recency: an expired source must be
		// marked even if it synced moments ago.
		if !src.Expired(s.now()) && s.now().Sub(src.LastSyncedAt) < s.opts.MinResync {
			s.syncSkips.Inc()
			continue
		}
		if err := s.syncSource(ctx, src); err != nil {
			// Already logged and reflected in the source's status.
			continue
		}
	}
	return nil
}

// SyncSource syncs one source on demand, outside the periodic cadence.
func (s *Scheduler) SyncSource(ctx context.Context, id string) error {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return fmt.Errorf("sync %s: %w", id, err)
	}
	return s.syncSource(ctx, src)
}

func (s *Scheduler) syncSource(ctx context.Context, src domain.Source) (err error) {
	if src.Expired(s.now()) {
		s.syncSkips.Inc()
		s.markStatus(ctx, src.ID, domain.SourceExpired)
		return fmt.Errorf("sync %s: %w", src.ID, domain.ErrSourceExpired)
	}
	if !s.acquire(src.ID) {
		s.syncSkips.Inc()
		return fmt.Errorf("sync %s: %w", src.ID, domain.ErrSyncInFlight)
	}
	defer s.release(src.ID)

	runID := s.newRunID()
	ctx, span := otel.Tracer("engine/sched").Start(ctx, "sync.source")
	defer span.End()
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync %s: panic: %v", src.ID, r)
		}
		if err != nil {
			s.syncFailures.Inc()
			s.log.Error("source sync failed", "source", src.ID, "run", runID, "error", err)
			s.markError(ctx, src.ID)
			return
		}
		s.syncs.Inc()
		s.syncDuration.Observe(s.now().Sub(start).Seconds())
	}()

	s.markStatus(ctx, src.ID, domain.SourceSyncing)
	s.log.Info("source sync started", "source", src.ID, "name", src.Name, "run", runID)

	results, err := s.crawler.Crawl(ctx, src)
	if err != nil {
		// A failed crawl never reaches reconciliation: tombstoning the
		// source's vehicles requires a crawl that actually saw the site.
		return fmt.Errorf("sync %s: %w", src.ID, err)
	}
	records := fn.Values(results)
	if skipped := len(results) - len(records); skipped > 0 {
		s.log.Info("crawl skipped pages", "source", src.ID, "run", runID, "skipped", skipped)
	}

	out, err := s.rec.Reconcile(ctx, src, records, runID)
	if err != nil {
		return err
	}
	s.log.Info("source sync finished",
		"source", src.ID, "run", runID,
		"created", out.Created, "updated", out.Updated, "deleted", out.Deleted)
	return nil
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *Scheduler) markStatus(ctx context.Context, id string, status domain.SourceStatus) {
	if err := s.store.UpdateSource(ctx, id, map[string]any{"status": string(status)}); err != nil {
		s.log.Warn("status update failed", "source", id, "status", status, "error", err)
	}
}

// markError stamps last_synced_at alongside the error status so a failing
// source doesn't get hammered every fleet pass.
func (s *Scheduler) markError(ctx context.Context, id string) {
	if err := s.store.UpdateSource(ctx, id, map[string]any{
		"status":         string(domain.SourceError),
		"last_synced_at": s.now().UTC(),
	}); err != nil {
		s.log.Warn("status update failed", "source", id, "error", err)
	}
}
