package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/engine/extract"
	"github.com/milan101q/specialoffer/pkg/fn"
)

var testVINs = []string{
	"1HGCM82633A004352",
	"5TDZA23C13S012345",
	"2FMDK3GC4ABA12345",
}

func testFetcher(t *testing.T, opts FetcherOpts) *Fetcher {
	t.Helper()
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1000
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	opts.IgnoreRobots = true
	return NewFetcher(opts, nil, nil)
}

func TestFetcherGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>hello</h1></body></html>`)
	}))
	defer srv.Close()

	doc, err := testFetcher(t, FetcherOpts{}).Get(context.Background(), srv.URL).Unwrap()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := doc.Find("h1").Text(); got != "hello" {
		t.Fatalf("h1 = %q", got)
	}
}

func TestFetcherRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherOpts{MaxRetries: 3})
	if _, err := f.Get(context.Background(), srv.URL).Unwrap(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestFetcher403IsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherOpts{MaxRetries: 3})
	if _, err := f.Get(context.Background(), srv.URL).Unwrap(); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (403 must not retry)", calls.Load())
	}

	// The host breaker is now open: no further request reaches the server.
	if _, err := f.Get(context.Background(), srv.URL).Unwrap(); err == nil ||
		!strings.Contains(err.Error(), "breaker open") {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d after breaker open", calls.Load())
	}
}

func TestFetcher429HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherOpts{MaxRetries: 2})
	start := time.Now()
	if _, err := f.Get(context.Background(), srv.URL).Unwrap(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("retried after %v, want >= Retry-After of 1s", elapsed)
	}
}

func TestFetcherRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(FetcherOpts{RequestsPerSecond: 1000, MaxRetries: 1}, nil, nil)
	if _, err := f.Get(context.Background(), srv.URL+"/private/page").Unwrap(); err == nil {
		t.Fatal("expected robots.txt rejection")
	}
	if _, err := f.Get(context.Background(), srv.URL+"/public/page").Unwrap(); err != nil {
		t.Fatalf("allowed path rejected: %v", err)
	}
}

func TestFetcherRotatesUserAgents(t *testing.T) {
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.UserAgent())
		fmt.Fprint(w, `<html></html>`)
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherOpts{UserAgents: []string{"agent-a", "agent-b"}})
	for i := 0; i < 3; i++ {
		if _, err := f.Get(context.Background(), srv.URL).Unwrap(); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	want := []string{"agent-a", "agent-b", "agent-a"}
	for i := range want {
		if agents[i] != want[i] {
			t.Fatalf("agents = %v, want %v", agents, want)
		}
	}
}

// inventoryServer serves a two-page inventory whose second page links back to
// the first, plus one detail page per VIN.
func inventoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprint(w, `<html><body>
				<a href="/vehicle/0">car 0</a>
				<a href="/vehicle/1">car 1</a>
				<a href="/inventory?page=2">Next</a>
			</body></html>`)
		case "2":
			fmt.Fprint(w, `<html><body>
				<a href="/vehicle/2">car 2</a>
				<a href="/inventory">Next</a>
			</body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	for i, vin := range testVINs {
		vin := vin
		mux.HandleFunc(fmt.Sprintf("/vehicle/%d", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `<html><body><h1>2003 Honda Accord</h1><p>VIN: %s</p></body></html>`, vin)
		})
	}
	return httptest.NewServer(mux)
}

func TestCrawlStopsOnPaginationCycle(t *testing.T) {
	srv := inventoryServer(t)
	defer srv.Close()

	c := New(testFetcher(t, FetcherOpts{}), extract.New(),
		CrawlOpts{LinkPatterns: []string{"/vehicle/"}}, nil, nil)
	src := domain.Source{Name: "test dealer", URL: srv.URL + "/inventory"}

	results, err := c.Crawl(context.Background(), src)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	records := fn.Values(results)
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3 (both pages, no infinite loop)", len(records))
	}
	got := make(map[string]bool)
	for _, rec := range records {
		got[rec.VIN] = true
	}
	for _, vin := range testVINs {
		if !got[vin] {
			t.Errorf("missing VIN %s", vin)
		}
	}
}

func TestCrawlHonorsMaxPages(t *testing.T) {
	var pages atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		n := pages.Add(1)
		fmt.Fprintf(w, `<html><body><a href="/inventory?page=%d">Next</a></body></html>`, n+1)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testFetcher(t, FetcherOpts{}), extract.New(),
		CrawlOpts{MaxPages: 4, LinkPatterns: []string{"/vehicle/"}}, nil, nil)
	if _, err := c.Crawl(context.Background(), domain.Source{URL: srv.URL + "/inventory"}); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if pages.Load() != 4 {
		t.Fatalf("pages fetched = %d, want 4", pages.Load())
	}
}

func TestCrawlContinuesPastFailedDetailPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/vehicle/broken">broken</a>
			<a href="/vehicle/0">car 0</a>
		</body></html>`)
	})
	mux.HandleFunc("/vehicle/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/vehicle/0", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><p>VIN: %s</p></body></html>`, testVINs[0])
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testFetcher(t, FetcherOpts{}), extract.New(),
		CrawlOpts{LinkPatterns: []string{"/vehicle/"}}, nil, nil)
	results, err := c.Crawl(context.Background(), domain.Source{URL: srv.URL + "/inventory"})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	records := fn.Values(results)
	if len(records) != 1 || records[0].VIN != testVINs[0] {
		t.Fatalf("records = %+v, want the one good vehicle", records)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (failure preserved as error)", len(results))
	}
}

func TestCrawlUnionsEntryURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/vehicle/0">a</a></body></html>`)
	})
	mux.HandleFunc("/used", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/vehicle/0">a</a><a href="/vehicle/1">b</a></body></html>`)
	})
	for i, vin := range testVINs[:2] {
		vin := vin
		mux.HandleFunc(fmt.Sprintf("/vehicle/%d", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `<html><body><p>VIN: %s</p></body></html>`, vin)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testFetcher(t, FetcherOpts{}), extract.New(),
		CrawlOpts{LinkPatterns: []string{"/vehicle/"}}, nil, nil)
	src := domain.Source{URL: srv.URL + "/new", AdditionalURLs: []string{srv.URL + "/used"}}

	results, err := c.Crawl(context.Background(), src)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	records := fn.Values(results)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (detail URLs de-duplicated across entries)", len(records))
	}
}

func TestCrawlDeadSiteReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testFetcher(t, FetcherOpts{}), extract.New(),
		CrawlOpts{LinkPatterns: []string{"/vehicle/"}}, nil, nil)
	src := domain.Source{
		Name:           "dead dealer",
		URL:            srv.URL + "/inventory",
		AdditionalURLs: []string{srv.URL + "/specials"},
	}

	results, err := c.Crawl(context.Background(), src)
	if !errors.Is(err, ErrNoListingPages) {
		t.Fatalf("err = %v, want ErrNoListingPages", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %d, want none from an unreachable site", len(results))
	}
}

func TestCrawlTruncatedPaginationIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `<html><body>
			<a href="/vehicle/0">car 0</a>
			<a href="/inventory?page=2">Next</a>
		</body></html>`)
	})
	mux.HandleFunc("/vehicle/0", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><p>VIN: %s</p></body></html>`, testVINs[0])
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testFetcher(t, FetcherOpts{}), extract.New(),
		CrawlOpts{LinkPatterns: []string{"/vehicle/"}}, nil, nil)
	results, err := c.Crawl(context.Background(), domain.Source{URL: srv.URL + "/inventory"})
	if err != nil {
		t.Fatalf("Crawl: %v (a truncated walk keeps what it saw)", err)
	}
	records := fn.Values(results)
	if len(records) != 1 || records[0].VIN != testVINs[0] {
		t.Fatalf("records = %+v", records)
	}
}
