package engine

import (
	"net/url"
	"strings"
	"sync"
)

// VisitedSet records the pages a crawl has accepted, keyed by canonical
// URL so that trivially different spellings of a page count once.
type VisitedSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// NewVisitedSet creates an empty set sized for about n pages.
func NewVisitedSet(n int) *VisitedSet {
	return &VisitedSet{urls: make(map[string]struct{}, n)}
}

// Visit marks rawURL as visited and reports whether it was new. Concurrent
// callers racing on the same page see exactly one true.
func (v *VisitedSet) Visit(rawURL string) bool {
	key := CanonicalizeURL(rawURL)

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.urls[key]; ok {
		return false
	}
	v.urls[key] = struct{}{}
	return true
}

// Seen reports whether rawURL was visited.
func (v *VisitedSet) Seen(rawURL string) bool {
	key := CanonicalizeURL(rawURL)

	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.urls[key]
	return ok
}

// Len returns the number of distinct pages visited.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.urls)
}

// CanonicalizeURL normalizes a page URL: scheme and host lowercased,
// default port and fragment dropped, query sorted, trailing slash removed
// except on the root path.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	switch port := u.Port(); {
	case u.Scheme == "http" && port == "80", u.Scheme == "https" && port == "443":
		u.Host = u.Hostname()
	}

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
