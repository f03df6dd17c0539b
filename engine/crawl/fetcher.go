package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/milan101q/specialoffer/pkg/fn"
	"github.com/milan101q/specialoffer/pkg/metrics"
	"github.com/milan101q/specialoffer/pkg/resilience"
)

// defaultUserAgents rotate per request so a long crawl does not present one
// fingerprint to the target site.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.101 Safari/537.36",
}

// FetcherOpts configures outbound fetch behavior.
type FetcherOpts struct {
	Timeout           time.Duration // per-request hard timeout
	MaxRetries        int           // attempts per URL
	RequestsPerSecond float64       // politeness rate across all hosts
	UserAgents        []string
	IgnoreRobots      bool // for tests against local servers
}

// DefaultFetcherOpts mirror the production crawl posture: 15s timeout, three
// attempts with exponential backoff, one request per second.
var DefaultFetcherOpts = FetcherOpts{
	Timeout:           15 * time.Second,
	MaxRetries:        3,
	RequestsPerSecond: 1,
	UserAgents:        defaultUserAgents,
}

// Fetcher retrieves and parses listing pages with retries, rate limiting,
// robots.txt checks, and a per-host circuit breaker for anti-bot blocks.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	breakers *resilience.HostSet
	opts     FetcherOpts
	log      *slog.Logger

	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData
	nextUA int

	fetches  *metrics.Counter
	failures *metrics.Counter
	blocked  *metrics.Counter
}

// NewFetcher builds a Fetcher. Pass nil for reg to skip metric registration.
func NewFetcher(opts FetcherOpts, log *slog.Logger, reg *metrics.Registry) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultFetcherOpts.Timeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultFetcherOpts.MaxRetries
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = DefaultFetcherOpts.RequestsPerSecond
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaultUserAgents
	}
	if reg == nil {
		reg = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		breakers: resilience.NewHostSet(resilience.BreakerOpts{FailThreshold: 3, Timeout: 10 * time.Minute}),
		opts:     opts,
		log:      log,
		robots:   make(map[string]*robotstxt.RobotsData),
		fetches:  reg.Counter("crawl_fetches_total", "Pages fetched successfully."),
		failures: reg.Counter("crawl_fetch_failures_total", "Fetches that exhausted their retry budget."),
		blocked:  reg.Counter("crawl_fetch_blocked_total", "Fetches refused by robots.txt or an open host breaker."),
	}
}

// Get fetches rawURL and parses it into a document. Retries use exponential
// backoff with jitter; HTTP 429 waits out the Retry-After hint; HTTP 403 is
// terminal and trips the host breaker.
func (f *Fetcher) Get(ctx context.Context, rawURL string) fn.Result[*goquery.Document] {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fn.Err[*goquery.Document](fmt.Errorf("fetch %s: %w", rawURL, err))
	}

	breaker := f.breakers.For(u.Host)
	if !breaker.Allow() {
		f.blocked.Inc()
		return fn.Err[*goquery.Document](fmt.Errorf("fetch %s: host breaker open", u.Host))
	}
	if !f.opts.IgnoreRobots && !f.robotsAllowed(ctx, u) {
		f.blocked.Inc()
		return fn.Err[*goquery.Document](fmt.Errorf("fetch %s: disallowed by robots.txt", rawURL))
	}

	res := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: f.opts.MaxRetries,
		InitialWait: time.Second,
		MaxWait:     time.Minute,
		Jitter:      true,
	}, func(ctx context.Context) fn.Result[*goquery.Document] {
		return f.fetchOnce(ctx, u)
	})

	if res.IsErr() {
		f.failures.Inc()
		breaker.Failure()
	} else {
		f.fetches.Inc()
		breaker.Success()
	}
	return res
}

func (f *Fetcher) fetchOnce(ctx context.Context, u *url.URL) fn.Result[*goquery.Document] {
	if err := f.limiter.Wait(ctx); err != nil {
		return fn.Err[*goquery.Document](err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fn.Err[*goquery.Document](err)
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", u.Scheme+"://"+u.Host)

	resp, err := f.client.Do(req)
	if err != nil {
		return fn.Err[*goquery.Document](fmt.Errorf("fetch %s: %w", u, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		// Anti-bot block. Retrying makes it worse; trip the host breaker so
		// the rest of this crawl backs off the whole site.
		f.breakers.For(u.Host).Trip()
		return fn.Err[*goquery.Document](fn.Permanent(fmt.Errorf("fetch %s: status 403", u)))
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return fn.Err[*goquery.Document](&fn.RetryAfterError{
			After: retryAfter(resp),
			Err:   fmt.Errorf("fetch %s: status 429", u),
		})
	case resp.StatusCode != http.StatusOK:
		return fn.Err[*goquery.Document](fmt.Errorf("fetch %s: status %d", u, resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fn.Err[*goquery.Document](fmt.Errorf("parse %s: %w", u, err))
	}
	return fn.Ok(doc)
}

func (f *Fetcher) userAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua := f.opts.UserAgents[f.nextUA%len(f.opts.UserAgents)]
	f.nextUA++
	return ua
}

// robotsAllowed checks the host's robots.txt, cached per host for the
// fetcher's lifetime. Unreachable or malformed robots.txt permits the fetch.
func (f *Fetcher) robotsAllowed(ctx context.Context, u *url.URL) bool {
	f.mu.Lock()
	data, ok := f.robots[u.Host]
	f.mu.Unlock()

	if !ok {
		data = f.loadRobots(ctx, u)
		f.mu.Lock()
		f.robots[u.Host] = data
		f.mu.Unlock()
	}
	if data == nil {
		return true
	}
	return data.FindGroup(f.opts.UserAgents[0]).Test(u.Path)
}

func (f *Fetcher) loadRobots(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Debug("robots.txt unavailable", "host", u.Host, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		f.log.Debug("robots.txt unparseable", "host", u.Host, "error", err)
		return nil
	}
	return data
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
