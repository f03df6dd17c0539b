// Command syncd runs the inventory sync daemon: the periodic fleet sync and
// shuffle jobs, a NATS sync-request listener, and a small admin HTTP API for
// on-demand syncs, source listing, and metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/milan101q/specialoffer/engine/catalog"
	"github.com/milan101q/specialoffer/engine/crawl"
	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/engine/extract"
	"github.com/milan101q/specialoffer/engine/reconcile"
	"github.com/milan101q/specialoffer/engine/sched"
	"github.com/milan101q/specialoffer/pkg/metrics"
	"github.com/milan101q/specialoffer/pkg/mid"
	"github.com/milan101q/specialoffer/pkg/natsutil"
)

// Config holds all environment-based configuration.
type Config struct {
	Port            string
	Neo4jURL        string
	Neo4jUser       string
	Neo4jPass       string
	NatsURL         string
	CORSOrigin      string
	FleetInterval   time.Duration
	MinResync       time.Duration
	ShuffleInterval time.Duration
	MaxPages        int
	DetailWorkers   int
}

func loadConfig() Config {
	return Config{
		Port:            envOr("PORT", "8090"),
		Neo4jURL:        envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:       envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:       envOr("NEO4J_PASS", "password"),
		NatsURL:         envOr("NATS_URL", ""),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
		FleetInterval:   envDurOr("FLEET_INTERVAL", time.Hour),
		MinResync:       envDurOr("MIN_RESYNC_INTERVAL", 45*time.Minute),
		ShuffleInterval: envDurOr("SHUFFLE_INTERVAL", 5*time.Minute),
		MaxPages:        envIntOr("CRAWL_MAX_PAGES", 15),
		DetailWorkers:   envIntOr("CRAWL_DETAIL_WORKERS", 3),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("syncd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)

	store := catalog.NewGraphStore(driver)

	// --- Connect to NATS (optional) ---
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		logger.Info("nats connected", "url", cfg.NatsURL)
	}
	events := catalog.NewEvents(nc, logger)

	// --- Build the pipeline ---
	reg := metrics.New()
	fetcher := crawl.NewFetcher(crawl.DefaultFetcherOpts, logger, reg)
	crawler := crawl.New(fetcher, extract.New(), crawl.CrawlOpts{
		MaxPages:      cfg.MaxPages,
		DetailWorkers: cfg.DetailWorkers,
		PageDelay:     crawl.DefaultCrawlOpts.PageDelay,
	}, logger, reg)
	reconciler := reconcile.New(store, events, logger, reg)
	scheduler := sched.New(store, crawler, reconciler, sched.Opts{
		FleetInterval:   cfg.FleetInterval,
		MinResync:       cfg.MinResync,
		ShuffleInterval: cfg.ShuffleInterval,
	}, logger, reg)

	scheduler.Start(ctx)
	defer scheduler.Stop()

	// --- Sync requests over NATS ---
	if nc != nil {
		sub, err := natsutil.Subscribe(nc, catalog.SubjectSyncRequest, func(ctx context.Context, req catalog.SyncRequest) {
			go func() {
				var err error
				if req.SourceID == "" {
					err = scheduler.SyncAll(ctx)
				} else {
					err = scheduler.SyncSource(ctx, req.SourceID)
				}
				if err != nil {
					logger.Warn("requested sync failed", "source", req.SourceID, "err", err)
				}
			}()
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", catalog.SubjectSyncRequest, err)
		}
		defer sub.Unsubscribe()
	}

	// --- Admin HTTP API ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/sources", handleListSources(store, logger))
	mux.HandleFunc("POST /api/sources/{id}/sync", handleSyncSource(scheduler, logger))
	mux.HandleFunc("POST /api/sync-all", handleSyncAll(scheduler, logger))
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("syncd"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("syncd admin api starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleListSources(store catalog.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := store.ListSources(r.Context())
		if err != nil {
			logger.Error("list sources failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sources)
	}
}

// handleSyncSource fires a sync and returns immediately; the source's status
// field is the caller's progress signal.
func handleSyncSource(scheduler *sched.Scheduler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			http.Error(w, `{"error":"source id is required"}`, http.StatusBadRequest)
			return
		}
		go func() {
			if err := scheduler.SyncSource(context.Background(), id); err != nil {
				logger.Warn("sync failed", "source", id, "err", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "sync started", "source": id})
	}
}

func handleSyncAll(scheduler *sched.Scheduler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			err := scheduler.SyncAll(context.Background())
			if err != nil && !errors.Is(err, domain.ErrSyncInFlight) {
				logger.Warn("fleet sync failed", "err", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "fleet sync started"})
	}
}
