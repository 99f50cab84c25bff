package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters for a crawl run.
type Metrics struct {
	// Request metrics
	RequestsTotal   atomic.Int64
	RequestsFailed  atomic.Int64
	RequestsRetried atomic.Int64

	// Response metrics
	ResponsesTotal atomic.Int64
	Responses2xx   atomic.Int64
	Responses3xx   atomic.Int64
	Responses4xx   atomic.Int64
	Responses5xx   atomic.Int64

	// Record metrics
	RecordsScraped atomic.Int64
	RecordsDropped atomic.Int64
	RecordsStored  atomic.Int64
	ParseErrors    atomic.Int64
	PagesDumped    atomic.Int64

	// Engine metrics
	ActiveWorkers   atomic.Int32
	QueueDepth      atomic.Int64
	URLsEnqueued    atomic.Int64
	URLsFiltered    atomic.Int64
	BytesDownloaded atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ObserveResponse counts a response by status class and adds its size.
func (m *Metrics) ObserveResponse(status int, size int64) {
	m.ResponsesTotal.Add(1)
	m.BytesDownloaded.Add(size)
	switch {
	case status >= 500:
		m.Responses5xx.Add(1)
	case status >= 400:
		m.Responses4xx.Add(1)
	case status >= 300:
		m.Responses3xx.Add(1)
	case status >= 200:
		m.Responses2xx.Add(1)
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		kind  string
		value int64
	}{
		{"scrapegoat_requests_total", "Total requests made", "counter", m.RequestsTotal.Load()},
		{"scrapegoat_requests_failed_total", "Total requests that failed permanently", "counter", m.RequestsFailed.Load()},
		{"scrapegoat_requests_retried_total", "Total retried requests", "counter", m.RequestsRetried.Load()},
		{"scrapegoat_responses_total", "Total responses received", "counter", m.ResponsesTotal.Load()},
		{"scrapegoat_responses_2xx_total", "Total 2xx responses", "counter", m.Responses2xx.Load()},
		{"scrapegoat_responses_3xx_total", "Total 3xx responses", "counter", m.Responses3xx.Load()},
		{"scrapegoat_responses_4xx_total", "Total 4xx responses", "counter", m.Responses4xx.Load()},
		{"scrapegoat_responses_5xx_total", "Total 5xx responses", "counter", m.Responses5xx.Load()},
		{"scrapegoat_records_scraped_total", "Total records extracted", "counter", m.RecordsScraped.Load()},
		{"scrapegoat_records_dropped_total", "Total records rejected by the pipeline", "counter", m.RecordsDropped.Load()},
		{"scrapegoat_records_stored_total", "Total records written to the feed", "counter", m.RecordsStored.Load()},
		{"scrapegoat_parse_errors_total", "Total pages that failed extraction", "counter", m.ParseErrors.Load()},
		{"scrapegoat_pages_dumped_total", "Total raw pages saved", "counter", m.PagesDumped.Load()},
		{"scrapegoat_urls_enqueued_total", "Total URLs accepted into the queue", "counter", m.URLsEnqueued.Load()},
		{"scrapegoat_urls_filtered_total", "Total URLs rejected by crawl filters", "counter", m.URLsFiltered.Load()},
		{"scrapegoat_bytes_downloaded_total", "Total bytes downloaded", "counter", m.BytesDownloaded.Load()},
		{"scrapegoat_active_workers", "Currently active workers", "gauge", int64(m.ActiveWorkers.Load())},
		{"scrapegoat_queue_depth", "Current URL queue depth", "gauge", m.QueueDepth.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.kind)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer serves metrics on port until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_total":   m.RequestsTotal.Load(),
		"requests_failed":  m.RequestsFailed.Load(),
		"requests_retried": m.RequestsRetried.Load(),
		"responses_total":  m.ResponsesTotal.Load(),
		"responses_2xx":    m.Responses2xx.Load(),
		"responses_4xx":    m.Responses4xx.Load(),
		"responses_5xx":    m.Responses5xx.Load(),
		"records_scraped":  m.RecordsScraped.Load(),
		"records_dropped":  m.RecordsDropped.Load(),
		"records_stored":   m.RecordsStored.Load(),
		"parse_errors":     m.ParseErrors.Load(),
		"pages_dumped":     m.PagesDumped.Load(),
		"urls_enqueued":    m.URLsEnqueued.Load(),
		"urls_filtered":    m.URLsFiltered.Load(),
		"bytes_downloaded": m.BytesDownloaded.Load(),
	}
}

// LogSummary writes the final counters at info level.
func (m *Metrics) LogSummary() {
	snap := m.Snapshot()
	args := make([]any, 0, len(snap)*2)
	for _, k := range []string{
		"requests_total", "requests_failed", "requests_retried",
		"records_scraped", "records_dropped", "records_stored",
		"parse_errors", "pages_dumped", "urls_filtered", "bytes_downloaded",
	} {
		args = append(args, k, snap[k])
	}
	m.logger.Info("crawl summary", args...)
}
