// Command sourcectl manages dealership sources from the command line: add or
// list sources in the catalog, and request syncs through the daemon's NATS
// subject.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/milan101q/specialoffer/engine/catalog"
	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/pkg/natsutil"
)

func main() {
	addURL := flag.String("add", "", "primary entry URL of a source to add")
	name := flag.String("name", "", "display name for the new source")
	extraURLs := flag.String("extra-urls", "", "comma-separated supplementary entry URLs")
	location := flag.String("location", "", `coarse location tag, "City, Region"`)
	zip := flag.String("zip", "", "postal code for region bucketing")
	expires := flag.Duration("expires-in", 0, "time until the source expires (0 = never)")
	list := flag.Bool("list", false, "list all sources")
	sync := flag.String("sync", "", "request a sync for a source id over NATS (\"all\" for the fleet)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *sync != "":
		requestSync(ctx, *sync)
	case *list:
		listSources(ctx)
	case *addURL != "":
		addSource(ctx, domain.Source{
			ID:             uuid.NewString(),
			Name:           *name,
			URL:            *addURL,
			AdditionalURLs: splitURLs(*extraURLs),
			Location:       *location,
			ZipCode:        *zip,
			Status:         domain.SourceActive,
			ExpiresAt:      expiry(*expires),
			CreatedAt:      time.Now().UTC(),
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func connectStore(ctx context.Context) (*catalog.GraphStore, func()) {
	neo4jURL := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(neo4jURL,
		neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
	if err != nil {
		log.Fatalf("neo4j connect: %v", err)
	}
	return catalog.NewGraphStore(driver), func() { driver.Close(ctx) }
}

func addSource(ctx context.Context, src domain.Source) {
	if src.Name == "" {
		src.Name = src.URL
	}
	store, closeStore := connectStore(ctx)
	defer closeStore()

	if err := store.SaveSource(ctx, src); err != nil {
		log.Fatalf("save source: %v", err)
	}
	fmt.Printf("added source %s (%s)\n", src.ID, src.URL)
}

func listSources(ctx context.Context) {
	store, closeStore := connectStore(ctx)
	defer closeStore()

	sources, err := store.ListSources(ctx)
	if err != nil {
		log.Fatalf("list sources: %v", err)
	}
	for _, s := range sources {
		synced := "never"
		if !s.LastSyncedAt.IsZero() {
			synced = s.LastSyncedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-8s  %4d vehicles  synced %s  %s\n",
			s.ID, s.Status, s.VehicleCount, synced, s.URL)
	}
}

func requestSync(ctx context.Context, target string) {
	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL))
	if err != nil {
		log.Fatalf("nats connect: %v", err)
	}
	defer nc.Drain()

	req := catalog.SyncRequest{}
	if target != "all" {
		req.SourceID = target
	}
	if err := natsutil.Publish(ctx, nc, catalog.SubjectSyncRequest, req); err != nil {
		log.Fatalf("publish sync request: %v", err)
	}
	fmt.Printf("sync requested for %s\n", target)
}

func splitURLs(s string) []string {
	if s == "" {
		return nil
	}
	var urls []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func expiry(in time.Duration) time.Time {
	if in == 0 {
		return time.Time{}
	}
	return time.Now().UTC().Add(in)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
