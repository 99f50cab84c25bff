package fetcher

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Sessions is the cookie store shared by the login flow and the crawl
// fetchers. It implements http.CookieJar, so clients keep a reference to
// Sessions itself and Clear takes effect everywhere.
type Sessions struct {
	jar    *cookiejar.Jar
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewSessions creates an empty cookie store.
func NewSessions(logger *slog.Logger) (*Sessions, error) {
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	return &Sessions{
		jar:    jar,
		logger: logger.With("component", "sessions"),
	}, nil
}

func newJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// SetCookies implements http.CookieJar.
func (s *Sessions) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()

	jar.SetCookies(u, cookies)
	if len(cookies) > 0 {
		s.logger.Debug("cookies stored", "host", u.Host, "count", len(cookies))
	}
}

// Cookies implements http.CookieJar.
func (s *Sessions) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jar.Cookies(u)
}

// HasCookies reports whether any cookie would be sent to rawURL.
func (s *Sessions) HasCookies(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return len(s.Cookies(u)) > 0
}

// Clear drops every stored cookie.
func (s *Sessions) Clear() {
	jar, err := newJar()
	if err != nil {
		s.logger.Error("reset cookie jar", "error", err)
		return
	}
	s.mu.Lock()
	s.jar = jar
	s.mu.Unlock()
}
