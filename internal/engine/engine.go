package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/observability"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// Fetcher is the interface for all fetcher implementations.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
}

// Parser extracts records and the next-page link from a response.
type Parser interface {
	Parse(resp *types.Response) ([]*types.Record, string, error)
}

// ResponseHook runs on every successfully fetched page before extraction.
// A non-nil error stops the whole crawl.
type ResponseHook func(resp *types.Response) error

// Engine drives a paginated crawl: each page is fetched, its records are
// extracted and emitted in page order, and its next link is queued.
type Engine struct {
	cfg        *config.EngineConfig
	logger     *slog.Logger
	fetcher    Fetcher
	parser     Parser
	robots     *RobotsManager
	metrics    *observability.Metrics
	allowed    []string
	onResponse ResponseHook
}

// Option configures an Engine.
type Option func(*Engine)

// WithAllowedDomains restricts followed links to these domains and their
// subdomains. Seeds are always fetched.
func WithAllowedDomains(domains ...string) Option {
	return func(e *Engine) {
		for _, d := range domains {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				e.allowed = append(e.allowed, d)
			}
		}
	}
}

// WithMetrics shares a metrics instance with the engine.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithResponseHook registers the per-response hook.
func WithResponseHook(hook ResponseHook) Option {
	return func(e *Engine) { e.onResponse = hook }
}

// WithRobots replaces the robots.txt manager.
func WithRobots(rm *RobotsManager) Option {
	return func(e *Engine) { e.robots = rm }
}

// New creates a new Engine with the given configuration.
func New(cfg *config.EngineConfig, fetcher Fetcher, parser Parser, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  logger.With("component", "engine"),
		fetcher: fetcher,
		parser:  parser,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.robots == nil {
		ua := ""
		if len(cfg.UserAgents) > 0 {
			ua = cfg.UserAgents[0]
		}
		e.robots = NewRobotsManager(cfg.RespectRobotsTxt, ua)
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics(logger)
	}
	return e
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *observability.Metrics {
	return e.metrics
}

// result is one item of the crawl stream.
type result struct {
	rec *types.Record
	err error
}

// crawl holds the state of a single Crawl call.
type crawl struct {
	engine   *Engine
	frontier *Frontier
	visited  *VisitedSet
	limiter  *rate.Limiter
	out      chan result
	cancel   context.CancelFunc

	// pending counts accepted requests not yet finished, retries included.
	// The frontier closes when it drops to zero.
	pending atomic.Int64
	pages   atomic.Int64
}

// Crawl walks from the seeds, following next links until none remain.
//
// Records are yielded in page order along each chain of next links.
// Branch failures are yielded as *types.FetchError or *types.ParseError
// and the crawl continues. A response hook failure is yielded as a
// *types.StorageError and ends the crawl. Breaking out of the loop
// cancels all in-flight work.
func (e *Engine) Crawl(ctx context.Context, seeds []string) iter.Seq2[*types.Record, error] {
	return func(yield func(*types.Record, error) bool) {
		parent := ctx
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		c := &crawl{
			engine:   e,
			frontier: NewFrontier(),
			visited:  NewVisitedSet(1024),
			limiter:  e.newLimiter(),
			out:      make(chan result),
			cancel:   cancel,
		}

		var seedErrs []error
		for _, seed := range seeds {
			req, err := types.NewRequest(seed)
			if err == nil {
				req.MaxRetries = e.cfg.MaxRetries
				err = c.enqueue(ctx, req, true)
			}
			if err != nil {
				e.logger.Warn("seed rejected", "url", seed, "error", err)
				seedErrs = append(seedErrs, err)
			}
		}
		if c.pending.Load() == 0 {
			c.frontier.Close()
		}

		e.logger.Info("crawl starting",
			"seeds", len(seeds),
			"concurrency", e.cfg.Concurrency,
			"max_depth", e.cfg.MaxDepth,
			"max_pages", e.cfg.MaxPages,
			"respect_robots", e.cfg.RespectRobotsTxt,
		)
		start := time.Now()

		var wg sync.WaitGroup
		c.startWorkers(ctx, &wg)
		go func() {
			wg.Wait()
			close(c.out)
		}()

		stopped := false
		for _, err := range seedErrs {
			if !yield(nil, err) {
				stopped = true
				break
			}
		}

		if !stopped {
			for r := range c.out {
				if !yield(r.rec, r.err) {
					stopped = true
					break
				}
				var se *types.StorageError
				if errors.As(r.err, &se) {
					stopped = true
					break
				}
			}
		}

		cancel()
		for range c.out {
		}

		e.logger.Info("crawl finished",
			"pages", c.pages.Load(),
			"visited", c.visited.Len(),
			"duration", time.Since(start),
		)

		if !stopped && parent.Err() != nil {
			yield(nil, fmt.Errorf("%w: %w", types.ErrCrawlStopped, parent.Err()))
		}
	}
}

func (e *Engine) newLimiter() *rate.Limiter {
	if e.cfg.PolitenessDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(e.cfg.PolitenessDelay), 1)
}

// enqueue applies the crawl filters and queues the request. Seeds skip
// the allowed-domains filter.
func (c *crawl) enqueue(ctx context.Context, req *types.Request, seed bool) error {
	e := c.engine
	urlStr := req.URLString()

	if !seed && !e.isDomainAllowed(req.Domain()) {
		e.metrics.URLsFiltered.Add(1)
		return fmt.Errorf("%w: %s", types.ErrOffsite, req.Domain())
	}

	if e.cfg.MaxDepth > 0 && req.Depth > e.cfg.MaxDepth {
		e.metrics.URLsFiltered.Add(1)
		return types.ErrMaxDepth
	}

	if !e.robots.IsAllowed(ctx, urlStr) {
		e.metrics.URLsFiltered.Add(1)
		return types.ErrBlocked
	}
	if e.cfg.RespectRobotsTxt {
		c.applyCrawlDelay(req.URL)
	}

	if !c.visited.Visit(urlStr) {
		e.metrics.URLsFiltered.Add(1)
		return types.ErrDuplicate
	}

	if n := c.pages.Add(1); e.cfg.MaxPages > 0 && n > int64(e.cfg.MaxPages) {
		c.pages.Add(-1)
		e.metrics.URLsFiltered.Add(1)
		return types.ErrMaxPages
	}

	c.pending.Add(1)
	c.frontier.Push(req)
	e.metrics.URLsEnqueued.Add(1)
	e.metrics.QueueDepth.Store(int64(c.frontier.Len()))
	return nil
}

// applyCrawlDelay slows the limiter down when robots.txt asks for a
// longer delay than configured.
func (c *crawl) applyCrawlDelay(u *url.URL) {
	delay := c.engine.robots.CrawlDelay(u.Scheme + "://" + u.Host)
	if delay <= 0 || delay <= c.engine.cfg.PolitenessDelay {
		return
	}
	if limit := rate.Every(delay); limit < c.limiter.Limit() {
		c.limiter.SetLimit(limit)
		c.engine.logger.Info("robots.txt crawl-delay applied", "host", u.Host, "delay", delay)
	}
}

// done marks one accepted request finished.
func (c *crawl) done() {
	if c.pending.Add(-1) == 0 {
		c.frontier.Close()
	}
}

// emit sends a result to the consumer unless the crawl was cancelled.
func (c *crawl) emit(ctx context.Context, r result) bool {
	select {
	case c.out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// isDomainAllowed reports whether domain is an allowed domain or one of
// its subdomains. An empty allow list allows everything.
func (e *Engine) isDomainAllowed(domain string) bool {
	if len(e.allowed) == 0 {
		return true
	}
	domain = strings.ToLower(domain)
	for _, d := range e.allowed {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
