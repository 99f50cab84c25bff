package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// startWorkers launches the worker pool.
func (c *crawl) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	concurrency := max(c.engine.cfg.Concurrency, 1)
	c.engine.logger.Debug("starting worker pool", "workers", concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go c.worker(ctx, wg, i)
	}
}

// worker is a single crawl worker goroutine. It exits when the frontier
// is closed and drained, or the crawl is cancelled.
func (c *crawl) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()
	logger := c.engine.logger.With("worker_id", id)
	m := c.engine.metrics

	for {
		req := c.frontier.Pop(ctx)
		if req == nil {
			return
		}
		m.QueueDepth.Store(int64(c.frontier.Len()))

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		m.ActiveWorkers.Add(1)
		c.processRequest(ctx, logger, req)
		m.ActiveWorkers.Add(-1)
	}
}

// processRequest handles a single request: fetch, hook, extract, follow.
func (c *crawl) processRequest(ctx context.Context, logger *slog.Logger, req *types.Request) {
	e := c.engine
	logger = logger.With("url", req.URLString(), "depth", req.Depth)

	fetchCtx, fetchCancel := ctx, context.CancelFunc(func() {})
	if e.cfg.RequestTimeout > 0 {
		fetchCtx, fetchCancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
	}
	e.metrics.RequestsTotal.Add(1)
	resp, err := e.fetcher.Fetch(fetchCtx, req)
	fetchCancel()

	if err != nil {
		c.handleFetchError(ctx, logger, req, err)
		return
	}
	defer c.done()

	e.metrics.ObserveResponse(resp.StatusCode, resp.ContentLength)
	logger.Debug("fetched", "status", resp.StatusCode, "size", resp.ContentLength, "duration", resp.FetchDuration)

	if e.onResponse != nil {
		if err := e.onResponse(resp); err != nil {
			var se *types.StorageError
			if !errors.As(err, &se) {
				err = &types.StorageError{Backend: "response_hook", Err: err}
			}
			logger.Error("response hook failed, stopping crawl", "error", err)
			c.emit(ctx, result{err: err})
			c.cancel()
			return
		}
	}

	if e.parser == nil {
		return
	}

	records, next, err := e.parser.Parse(resp)
	if err != nil {
		e.metrics.ParseErrors.Add(1)
		var pe *types.ParseError
		if !errors.As(err, &pe) {
			err = &types.ParseError{URL: resp.URL(), Err: err}
		}
		logger.Warn("extraction failed", "error", err)
		c.emit(ctx, result{err: err})
		return
	}

	for _, rec := range records {
		e.metrics.RecordsScraped.Add(1)
		if !c.emit(ctx, result{rec: rec}) {
			return
		}
	}
	logger.Debug("page extracted", "records", len(records), "next", next)

	if next == "" {
		return
	}
	child, err := req.Follow(resp.URL(), next)
	if err != nil {
		logger.Warn("invalid next link", "next", next, "error", err)
		return
	}
	if err := c.enqueue(ctx, child, false); err != nil {
		logger.Debug("next link not followed", "next", child.URLString(), "reason", err)
	}
}

// handleFetchError retries retryable failures and reports the rest.
func (c *crawl) handleFetchError(ctx context.Context, logger *slog.Logger, req *types.Request, err error) {
	e := c.engine

	if ctx.Err() != nil {
		c.done()
		return
	}

	var fetchErr *types.FetchError
	if !errors.As(err, &fetchErr) {
		fetchErr = &types.FetchError{URL: req.URLString(), Err: err}
		err = fetchErr
	}

	if fetchErr.IsRetryable() && req.RetryCount < req.MaxRetries {
		req.RetryCount++
		e.metrics.RequestsRetried.Add(1)
		delay := c.retryDelay(req, fetchErr)
		logger.Warn("retrying request",
			"retry", req.RetryCount,
			"max_retries", req.MaxRetries,
			"delay", delay,
			"error", err,
		)
		// Still pending while the timer runs, so the frontier stays open.
		time.AfterFunc(delay, func() { c.frontier.Push(req) })
		return
	}

	e.metrics.RequestsFailed.Add(1)
	logger.Error("fetch failed permanently", "error", err, "retries", req.RetryCount)
	c.emit(ctx, result{err: err})
	c.done()
}

// retryDelay honours Retry-After, otherwise backs off exponentially from
// the configured retry delay.
func (c *crawl) retryDelay(req *types.Request, fetchErr *types.FetchError) time.Duration {
	if fetchErr.RetryAfter > 0 {
		return fetchErr.RetryAfter
	}
	base := c.engine.cfg.RetryDelay
	if base <= 0 {
		return 0
	}
	return base << (req.RetryCount - 1)
}
