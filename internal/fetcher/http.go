package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

const (
	defaultRetryAfter = 5 * time.Second
	maxRetryAfter     = 2 * time.Minute
)

var browserHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Accept-Encoding": "gzip, deflate, br",
}

// HTTPFetcher fetches pages over plain HTTP. Cookies live in the shared
// Sessions, so a prior login carries over.
type HTTPFetcher struct {
	client      *http.Client
	maxBodySize int64
	logger      *slog.Logger

	agents []string
	next   atomic.Uint64
}

// NewHTTPFetcher creates an HTTP fetcher. A nil sessions gets a private
// cookie store.
func NewHTTPFetcher(cfg *config.Config, sessions *Sessions, logger *slog.Logger) (*HTTPFetcher, error) {
	if sessions == nil {
		var err error
		if sessions, err = NewSessions(logger); err != nil {
			return nil, err
		}
	}

	fc := cfg.Fetcher
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        fc.MaxIdleConns,
		MaxIdleConnsPerHost: max(fc.MaxIdleConns/2, 1),
		IdleConnTimeout:     fc.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: fc.TLSInsecure},
		// Decoding happens in Fetch so brotli is covered too.
		DisableCompression: true,
	}

	client := &http.Client{
		Transport: transport,
		Jar:       sessions,
		Timeout:   cfg.Engine.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			switch {
			case !fc.FollowRedirects:
				return http.ErrUseLastResponse
			case len(via) >= fc.MaxRedirects:
				return fmt.Errorf("stopped after %d redirects", fc.MaxRedirects)
			}
			return nil
		},
	}

	agents := cfg.Engine.UserAgents
	if len(agents) == 0 {
		agents = []string{"scrapegoat-spiders/" + config.Version}
	}

	return &HTTPFetcher{
		client:      client,
		maxBodySize: fc.MaxBodySize,
		logger:      logger.With("component", "http_fetcher"),
		agents:      agents,
	}, nil
}

// Fetch performs a GET (or req.Method) for the request. Statuses outside
// 2xx come back as *types.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	target := req.URLString()
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, nil)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err}
	}
	httpReq.Header.Set("User-Agent", f.userAgent())
	for k, v := range browserHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Set(k, v)
		}
	}

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err, Retryable: isRetryableError(err)}
	}
	defer httpResp.Body.Close()

	if err := statusError(target, httpResp); err != nil {
		return nil, err
	}

	body, err := f.readBody(httpResp)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err, Retryable: isRetryableError(err)}
	}

	f.logger.Debug("fetched", "url", target, "status", httpResp.StatusCode, "bytes", len(body), "took", elapsed)
	return types.NewResponse(req, httpResp, body, elapsed), nil
}

// statusError classifies a non-2xx response. 429, 408 and 5xx are
// retryable; 429 also carries the server's Retry-After.
func statusError(target string, resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	fe := &types.FetchError{
		URL:        target,
		StatusCode: code,
		Err:        fmt.Errorf("HTTP %d: %s", code, strings.TrimSpace(string(snippet))),
		Retryable:  code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests,
	}
	if code == http.StatusTooManyRequests {
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return fe
}

// readBody reads and decodes the body. Both the raw and the decoded body
// are held to maxBodySize.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	raw, err := readLimited(resp.Body, f.maxBodySize)
	if err != nil {
		return nil, err
	}
	r, err := decompressReader(resp.Header.Get("Content-Encoding"), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if r == nil {
		return raw, nil
	}
	return readLimited(r, f.maxBodySize)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", types.ErrBodyTooLarge, limit)
	}
	return data, nil
}

// Close drops idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Type returns "http".
func (f *HTTPFetcher) Type() string {
	return "http"
}

// userAgent cycles through the configured agents.
func (f *HTTPFetcher) userAgent() string {
	n := f.next.Add(1) - 1
	return f.agents[n%uint64(len(f.agents))]
}

// decompressReader wraps r for the content encoding, or returns nil when
// the body is not encoded.
func decompressReader(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	case "br":
		return brotli.NewReader(r), nil
	}
	return nil, nil
}

// isRetryableError reports whether a transport error is worth another
// attempt: per-request timeouts, truncated bodies, refused or reset
// connections. Cancellation and oversized bodies never are.
func isRetryableError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, types.ErrBodyTooLarge):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date, capped at
// two minutes.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	var d time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(header); err == nil {
		d = max(time.Until(at), time.Second)
	} else {
		return defaultRetryAfter
	}
	return min(d, maxRetryAfter)
}
