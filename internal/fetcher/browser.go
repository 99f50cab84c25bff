package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// BrowserFetcher renders pages in headless Chromium. Cookies are copied
// from Sessions into each page before navigation and back afterwards, so
// it shares a login with the HTTP fetcher.
type BrowserFetcher struct {
	browser  *rod.Browser
	sessions *Sessions
	profile  *BrowserProfile
	timeout  time.Duration
	logger   *slog.Logger

	agents []string
	next   atomic.Uint64

	pages    chan *rod.Page
	maxPages int
}

// BrowserOption configures the BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// WithProfile turns on stealth pages presenting the given profile.
func WithProfile(p *BrowserProfile) BrowserOption {
	return func(bf *BrowserFetcher) { bf.profile = p }
}

// WithMaxPages caps the number of pooled tabs.
func WithMaxPages(n int) BrowserOption {
	return func(bf *BrowserFetcher) { bf.maxPages = n }
}

// NewBrowserFetcher launches headless Chromium and connects to it.
func NewBrowserFetcher(cfg *config.Config, sessions *Sessions, logger *slog.Logger, opts ...BrowserOption) (*BrowserFetcher, error) {
	if sessions == nil {
		var err error
		if sessions, err = NewSessions(logger); err != nil {
			return nil, err
		}
	}

	bf := &BrowserFetcher{
		sessions: sessions,
		timeout:  cfg.Engine.RequestTimeout,
		logger:   logger.With("component", "browser_fetcher"),
		agents:   cfg.Engine.UserAgents,
		maxPages: max(cfg.Engine.Concurrency, 1),
	}
	for _, opt := range opts {
		opt(bf)
	}

	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")
	if bf.profile != nil {
		l = l.Set("window-size", bf.profile.WindowSize())
		if bf.profile.UserDataDir != "" {
			l = l.UserDataDir(bf.profile.UserDataDir)
		}
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	bf.browser = rod.New().ControlURL(controlURL)
	if err := bf.browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	bf.pages = make(chan *rod.Page, bf.maxPages)

	bf.logger.Info("browser ready", "max_pages", bf.maxPages, "stealth", bf.profile != nil)
	return bf, nil
}

// Fetch navigates a pooled tab to the request URL and returns the
// rendered HTML. Rod does not report the document status, so a rendered
// page is a 200.
func (bf *BrowserFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	target := req.URLString()
	start := time.Now()

	page, err := bf.acquire()
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err, Retryable: true}
	}
	defer bf.release(page)
	p := page.Context(ctx)

	if ua := bf.userAgent(req); ua != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			bf.logger.Warn("set user agent", "error", err)
		}
	}
	if params := cookieParams(bf.sessions.Cookies(req.URL), target); len(params) > 0 {
		if err := p.SetCookies(params); err != nil {
			bf.logger.Warn("set cookies", "url", target, "error", err)
		}
	}

	if err := p.Timeout(bf.timeout).Navigate(target); err != nil {
		return nil, &types.FetchError{URL: target, Err: err, Retryable: true}
	}
	if err := p.Timeout(bf.timeout).WaitStable(300 * time.Millisecond); err != nil {
		bf.logger.Debug("page never settled", "url", target, "error", err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err, Retryable: true}
	}

	finalURL := target
	if info, err := p.Info(); err == nil && info != nil && info.URL != "" {
		finalURL = info.URL
	}
	bf.storeCookies(p, finalURL)

	elapsed := time.Since(start)
	bf.logger.Debug("rendered", "url", target, "final_url", finalURL, "bytes", len(html), "took", elapsed)
	return types.NewBrowserResponse(req, http.StatusOK, []byte(html), finalURL, elapsed), nil
}

func (bf *BrowserFetcher) storeCookies(p *rod.Page, pageURL string) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	cookies, err := p.Cookies([]string{pageURL})
	if err != nil || len(cookies) == 0 {
		return
	}
	bf.sessions.SetCookies(u, httpCookies(cookies))
}

func (bf *BrowserFetcher) userAgent(req *types.Request) string {
	if ua := req.Headers.Get("User-Agent"); ua != "" {
		return ua
	}
	if len(bf.agents) == 0 {
		return ""
	}
	n := bf.next.Add(1) - 1
	return bf.agents[n%uint64(len(bf.agents))]
}

// Close closes pooled tabs and the browser.
func (bf *BrowserFetcher) Close() error {
	close(bf.pages)
	for page := range bf.pages {
		_ = page.Close()
	}
	return bf.browser.Close()
}

// Type returns "browser".
func (bf *BrowserFetcher) Type() string {
	return "browser"
}

func (bf *BrowserFetcher) acquire() (*rod.Page, error) {
	select {
	case page := <-bf.pages:
		return page, nil
	default:
	}

	if bf.profile == nil {
		return bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}

	page, err := stealth.Page(bf.browser)
	if err != nil {
		return nil, fmt.Errorf("stealth page: %w", err)
	}
	if _, err := page.EvalOnNewDocument(bf.profile.InitScript()); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("profile script: %w", err)
	}
	viewport := &proto.EmulationSetDeviceMetricsOverride{Width: bf.profile.Width, Height: bf.profile.Height}
	if err := page.SetViewport(viewport); err != nil {
		bf.logger.Warn("set viewport", "error", err)
	}
	return page, nil
}

func (bf *BrowserFetcher) release(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case bf.pages <- page:
	default:
		_ = page.Close()
	}
}

// cookieParams converts jar cookies for pageURL into browser cookies.
func cookieParams(cookies []*http.Cookie, pageURL string) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{Name: c.Name, Value: c.Value, URL: pageURL})
	}
	return params
}

// httpCookies converts browser cookies back for the shared jar.
func httpCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}
