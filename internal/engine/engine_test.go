package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// --- Fakes ---

// fakeSite serves page bodies of the form "records=a,b;next=/p2".
type fakeSite struct {
	mu        sync.Mutex
	pages     map[string]string
	failures  map[string]int // retryable failures before success; -1 = always
	permanent map[string]int // status code returned forever
	fetches   map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:     make(map[string]string),
		failures:  make(map[string]int),
		permanent: make(map[string]int),
		fetches:   make(map[string]int),
	}
}

func (s *fakeSite) page(url string, next string, records ...string) {
	s.pages[url] = "records=" + strings.Join(records, ",") + ";next=" + next
}

func (s *fakeSite) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	url := req.URLString()

	s.mu.Lock()
	s.fetches[url]++
	body, ok := s.pages[url]
	status := s.permanent[url]
	remaining := s.failures[url]
	if remaining > 0 {
		s.failures[url]--
	}
	s.mu.Unlock()

	if status != 0 {
		return nil, &types.FetchError{URL: url, StatusCode: status, Err: fmt.Errorf("HTTP %d", status)}
	}
	if remaining != 0 {
		return nil, &types.FetchError{URL: url, StatusCode: 503, Err: errors.New("HTTP 503"), Retryable: true}
	}
	if !ok {
		return nil, &types.FetchError{URL: url, StatusCode: 404, Err: errors.New("HTTP 404")}
	}
	return &types.Response{
		Request:       req,
		StatusCode:    200,
		Body:          []byte(body),
		ContentLength: int64(len(body)),
		FinalURL:      url,
	}, nil
}

func (s *fakeSite) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[url]
}

type fakeParser struct{}

func (fakeParser) Parse(resp *types.Response) ([]*types.Record, string, error) {
	body := string(resp.Body)
	if body == "records=boom;next=" {
		return nil, "", errors.New("bad markup")
	}

	var records []*types.Record
	var next string
	for _, part := range strings.Split(body, ";") {
		key, val, _ := strings.Cut(part, "=")
		switch key {
		case "records":
			for _, v := range strings.Split(val, ",") {
				if v == "" {
					continue
				}
				rec := types.NewRecord("test", resp.URL())
				rec.Set("value", v)
				records = append(records, rec)
			}
		case "next":
			next = val
		}
	}
	return records, next, nil
}

func testConfig() *config.EngineConfig {
	return &config.EngineConfig{
		Concurrency:    2,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}
}

type outcome struct {
	values []string
	errs   []error
}

func collect(t *testing.T, e *Engine, seeds ...string) outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out outcome
	for rec, err := range e.Crawl(ctx, seeds) {
		if err != nil {
			out.errs = append(out.errs, err)
			continue
		}
		out.values = append(out.values, rec.GetString("value"))
	}
	if ctx.Err() != nil {
		t.Fatal("crawl did not terminate")
	}
	return out
}

// --- Crawl Tests ---

func TestCrawlFollowsNextLinksInOrder(t *testing.T) {
	site := newFakeSite()
	site.page("https://example.com/p1", "/p2", "a", "b")
	site.page("https://example.com/p2", "p3", "c")
	site.page("https://example.com/p3", "", "d")

	e := New(testConfig(), site, fakeParser{}, testLogger)
	out := collect(t, e, "https://example.com/p1")

	if len(out.errs) != 0 {
		t.Fatalf("unexpected errors: %v", out.errs)
	}
	if got := strings.Join(out.values, ""); got != "abcd" {
		t.Errorf("records = %q, want %q", got, "abcd")
	}
	if got := e.Metrics().RecordsScraped.Load(); got != 4 {
		t.Errorf("records_scraped = %d, want 4", got)
	}
}

func TestCrawlTerminatesOnCycles(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeSite)
		pages int
	}{
		{"self loop", func(s *fakeSite) {
			s.page("https://example.com/p1", "/p1", "a")
		}, 1},
		{"two page cycle", func(s *fakeSite) {
			s.page("https://example.com/p1", "/p2", "a")
			s.page("https://example.com/p2", "/p1", "b")
		}, 2},
		{"trailing slash variant", func(s *fakeSite) {
			s.page("https://example.com/p1", "/p2/", "a")
			s.page("https://example.com/p2/", "/p1/", "b")
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newFakeSite()
			tt.setup(site)

			e := New(testConfig(), site, fakeParser{}, testLogger)
			out := collect(t, e, "https://example.com/p1")

			if len(out.values) != tt.pages {
				t.Errorf("got %d records, want %d", len(out.values), tt.pages)
			}
			if got := e.Metrics().RequestsTotal.Load(); got != int64(tt.pages) {
				t.Errorf("fetched %d pages, want %d", got, tt.pages)
			}
		})
	}
}

func TestCrawlBranchFailureIsolated(t *testing.T) {
	site := newFakeSite()
	site.permanent["https://example.com/broken"] = 404
	site.page("https://example.com/ok", "/ok2", "a")
	site.page("https://example.com/ok2", "", "b")

	e := New(testConfig(), site, fakeParser{}, testLogger)
	out := collect(t, e, "https://example.com/broken", "https://example.com/ok")

	if strings.Join(out.values, "") != "ab" {
		t.Errorf("records = %v", out.values)
	}
	if len(out.errs) != 1 {
		t.Fatalf("expected 1 error, got %v", out.errs)
	}
	var fe *types.FetchError
	if !errors.As(out.errs[0], &fe) || fe.StatusCode != 404 {
		t.Errorf("expected 404 FetchError, got %v", out.errs[0])
	}
	if site.count("https://example.com/broken") != 1 {
		t.Error("non-retryable failure should not be retried")
	}
	if got := e.Metrics().RequestsFailed.Load(); got != 1 {
		t.Errorf("requests_failed = %d, want 1", got)
	}
}

func TestCrawlRetriesRetryableFailures(t *testing.T) {
	site := newFakeSite()
	site.page("https://example.com/flaky", "", "a")
	site.failures["https://example.com/flaky"] = 2

	e := New(testConfig(), site, fakeParser{}, testLogger)
	out := collect(t, e, "https://example.com/flaky")

	if len(out.errs) != 0 || len(out.values) != 1 {
		t.Fatalf("values=%v errs=%v", out.values, out.errs)
	}
	if got := site.count("https://example.com/flaky"); got != 3 {
		t.Errorf("fetched %d times, want 3", got)
	}
	if got := e.Metrics().RequestsRetried.Load(); got != 2 {
		t.Errorf("requests_retried = %d, want 2", got)
	}
}

func TestCrawlRetriesExhausted(t *testing.T) {
	site := newFakeSite()
	site.failures["https://example.com/down"] = -1

	cfg := testConfig()
	cfg.MaxRetries = 1
	e := New(cfg, site, fakeParser{}, testLogger)
	out := collect(t, e, "https://example.com/down")

	if len(out.errs) != 1 {
		t.Fatalf("expected 1 error, got %v", out.errs)
	}
	var fe *types.FetchError
	if !errors.As(out.errs[0], &fe) || !fe.IsRetryable() {
		t.Errorf("expected retryable FetchError, got %v", out.errs[0])
	}
	if got := site.count("https://example.com/down"); got != 2 {
		t.Errorf("fetched %d times, want 2", got)
	}
}

func TestCrawlParseErrorEndsBranch(t *testing.T) {
	site := newFakeSite()
	site.pages["https://example.com/bad"] = "records=boom;next="
	site.page("https://example.com/good", "", "a")

	e := New(testConfig(), site, fakeParser{}, testLogger)
	out := collect(t, e, "https://example.com/bad", "https://example.com/good")

	if len(out.values) != 1 || len(out.errs) != 1 {
		t.Fatalf("values=%v errs=%v", out.values, out.errs)
	}
	var pe *types.ParseError
	if !errors.As(out.errs[0], &pe) {
		t.Errorf("expected ParseError, got %v", out.errs[0])
	}
}

func TestCrawlHookErrorIsFatal(t *testing.T) {
	site := newFakeSite()
	site.page("https://example.com/p1", "/p2", "a")
	site.page("https://example.com/p2", "", "b")

	hook := func(resp *types.Response) error { return errors.New("disk full") }
	cfg := testConfig()
	cfg.Concurrency = 1
	e := New(cfg, site, fakeParser{}, testLogger, WithResponseHook(hook))
	out := collect(t, e, "https://example.com/p1")

	if len(out.values) != 0 {
		t.Errorf("no records expected after hook failure, got %v", out.values)
	}
	if len(out.errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", out.errs)
	}
	var se *types.StorageError
	if !errors.As(out.errs[0], &se) {
		t.Errorf("expected StorageError, got %v", out.errs[0])
	}
	if site.count("https://example.com/p2") != 0 {
		t.Error("crawl should stop after a hook failure")
	}
}

func TestCrawlHookSeesEveryPage(t *testing.T) {
	site := newFakeSite()
	site.page("https://example.com/p1", "/p2", "a")
	site.page("https://example.com/p2", "", "b")

	var mu sync.Mutex
	var seen []string
	hook := func(resp *types.Response) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, resp.URL())
		return nil
	}
	e := New(testConfig(), site, nil, testLogger, WithResponseHook(hook))
	out := collect(t, e, "https://example.com/p1", "https://example.com/p2")

	if len(out.values) != 0 || len(out.errs) != 0 {
		t.Fatalf("values=%v errs=%v", out.values, out.errs)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("hook saw %v", seen)
	}
}

func TestCrawlFilters(t *testing.T) {
	chain := func(s *fakeSite) {
		s.page("https://example.com/p1", "/p2", "a")
		s.page("https://example.com/p2", "/p3", "b")
		s.page("https://example.com/p3", "/p4", "c")
		s.page("https://example.com/p4", "", "d")
	}

	t.Run("max pages", func(t *testing.T) {
		site := newFakeSite()
		chain(site)
		cfg := testConfig()
		cfg.MaxPages = 2
		out := collect(t, New(cfg, site, fakeParser{}, testLogger), "https://example.com/p1")
		if strings.Join(out.values, "") != "ab" {
			t.Errorf("records = %v", out.values)
		}
	})

	t.Run("max depth", func(t *testing.T) {
		site := newFakeSite()
		chain(site)
		cfg := testConfig()
		cfg.MaxDepth = 2
		out := collect(t, New(cfg, site, fakeParser{}, testLogger), "https://example.com/p1")
		if strings.Join(out.values, "") != "abc" {
			t.Errorf("records = %v", out.values)
		}
	})

	t.Run("allowed domains", func(t *testing.T) {
		site := newFakeSite()
		site.page("https://example.com/p1", "https://sub.example.com/p2", "a")
		site.page("https://sub.example.com/p2", "https://other.org/p3", "b")
		site.page("https://other.org/p3", "", "c")

		e := New(testConfig(), site, fakeParser{}, testLogger, WithAllowedDomains("example.com"))
		out := collect(t, e, "https://example.com/p1")
		if strings.Join(out.values, "") != "ab" {
			t.Errorf("records = %v", out.values)
		}
		if e.Metrics().URLsFiltered.Load() != 1 {
			t.Errorf("urls_filtered = %d", e.Metrics().URLsFiltered.Load())
		}
	})
}

func TestCrawlInvalidSeed(t *testing.T) {
	site := newFakeSite()
	site.page("https://example.com/p1", "", "a")

	out := collect(t, New(testConfig(), site, fakeParser{}, testLogger), "not a url", "https://example.com/p1")
	if len(out.values) != 1 {
		t.Errorf("records = %v", out.values)
	}
	if len(out.errs) != 1 || !errors.Is(out.errs[0], types.ErrInvalidURL) {
		t.Errorf("errs = %v", out.errs)
	}
}

func TestCrawlBreakStopsEarly(t *testing.T) {
	site := newFakeSite()
	for i := 1; i <= 20; i++ {
		site.page(fmt.Sprintf("https://example.com/p%d", i), fmt.Sprintf("/p%d", i+1), "x", "y")
	}

	e := New(testConfig(), site, fakeParser{}, testLogger)
	n := 0
	for rec, err := range e.Crawl(context.Background(), []string{"https://example.com/p1"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec != nil {
			n++
		}
		if n == 3 {
			break
		}
	}
	if got := e.Metrics().RequestsTotal.Load(); got >= 20 {
		t.Errorf("crawl kept running after break: %d requests", got)
	}
}

func TestCrawlCancelledContext(t *testing.T) {
	site := newFakeSite()
	site.page("https://example.com/p1", "", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for _, err := range New(testConfig(), site, fakeParser{}, testLogger).Crawl(ctx, []string{"https://example.com/p1"}) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 || !errors.Is(errs[len(errs)-1], types.ErrCrawlStopped) {
		t.Errorf("expected ErrCrawlStopped, got %v", errs)
	}
}

// --- Frontier Tests ---

func TestFrontierFIFO(t *testing.T) {
	f := NewFrontier()
	for i := 0; i < 5; i++ {
		r, _ := types.NewRequest(fmt.Sprintf("https://example.com/%d", i))
		f.Push(r)
	}

	for i := 0; i < 5; i++ {
		got := f.TryPop()
		if want := fmt.Sprintf("https://example.com/%d", i); got.URLString() != want {
			t.Errorf("pop %d = %s, want %s", i, got.URLString(), want)
		}
	}
	if f.TryPop() != nil {
		t.Error("expected nil from empty frontier")
	}
}

func TestFrontierPopReturnsNilWhenClosed(t *testing.T) {
	f := NewFrontier()
	r, _ := types.NewRequest("https://example.com/")
	f.Push(r)
	f.Close()

	if f.Pop(context.Background()) == nil {
		t.Fatal("queued request should still be returned after close")
	}
	if f.Pop(context.Background()) != nil {
		t.Error("expected nil from closed, empty frontier")
	}

	f.Push(r)
	if !f.IsEmpty() {
		t.Error("push after close should be ignored")
	}
}

// --- Visited set Tests ---

func TestVisitedSetVisit(t *testing.T) {
	d := NewVisitedSet(16)

	if !d.Visit("https://example.com") {
		t.Error("first visit should be new")
	}
	if d.Visit("https://example.com/") {
		t.Error("second visit should not be new")
	}
	if !d.Seen("https://EXAMPLE.com") {
		t.Error("hostname should be case-insensitive")
	}
	if d.Len() != 1 {
		t.Errorf("len = %d, want 1", d.Len())
	}
}

func TestVisitedSetConcurrentVisit(t *testing.T) {
	d := NewVisitedSet(16)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Visit("https://example.com/page") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one new visit, got %d", wins)
	}
}

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.COM/Path?b=2&a=1", "https://example.com/Path?a=1&b=2"},
		{"https://example.com:443/page/1/", "https://example.com/page/1"},
		{"http://example.com:80", "http://example.com/"},
		{"https://example.com/a#frag", "https://example.com/a"},
	}
	for _, tt := range tests {
		if got := CanonicalizeURL(tt.in); got != tt.want {
			t.Errorf("CanonicalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Robots Tests ---

func TestParseRobots(t *testing.T) {
	rules := parseRobots(strings.NewReader(`
User-agent: otherbot
Disallow: /

User-agent: *
Disallow: /private
Allow: /private/ok
Crawl-delay: 2 # seconds
`), "scrapegoat-spiders")
	if rules.crawlDelay != 2*time.Second {
		t.Errorf("crawl delay = %s", rules.crawlDelay)
	}
	if len(rules.disallow) != 1 || len(rules.allow) != 1 {
		t.Errorf("rules = %v / %v", rules.disallow, rules.allow)
	}

	for path, want := range map[string]bool{
		"/":              true,
		"/private":       false,
		"/private/page":  false,
		"/private/ok":    true,
		"/private/ok/me": true,
	} {
		if got := rules.allows(path); got != want {
			t.Errorf("allows(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestParseRobotsAgentGroup(t *testing.T) {
	rules := parseRobots(strings.NewReader(`
User-agent: googlebot
User-agent: scrapegoat-spiders
Disallow: /tag/
`), productToken("scrapegoat-spiders/dev"))
	if rules.allows("/tag/humor/") {
		t.Error("group naming our agent should apply")
	}
	if !parseRobots(strings.NewReader("User-agent: googlebot\nDisallow: /\n"), "scrapegoat-spiders").allows("/") {
		t.Error("group for another agent should not apply")
	}
}

func TestMatchRobotsPattern(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"/private", "/private/page", true},
		{"/private", "/public", false},
		{"/*.php$", "/index.php", true},
		{"/*.php$", "/index.php?x=1", false},
		{"/page$", "/page", true},
		{"", "/anything", false},
	}
	for _, tt := range tests {
		if got := matchRobotsPattern(tt.pattern, tt.path); got != tt.want {
			t.Errorf("match(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

// --- Benchmarks ---

func BenchmarkFrontierPushPop(b *testing.B) {
	f := NewFrontier()
	req, _ := types.NewRequest("https://example.com/page")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Push(req)
	}
	for i := 0; i < b.N; i++ {
		f.TryPop()
	}
}

func BenchmarkVisitedSet(b *testing.B) {
	d := NewVisitedSet(1_000_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Visit(fmt.Sprintf("https://example.com/page/%d", i%1000))
	}
}
