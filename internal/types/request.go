package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Request represents an HTTP request to be fetched by the crawler.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// Depth counts how many next links were followed from the seed.
	Depth int

	// MaxRetries is the maximum number of retries for this request.
	MaxRetries int

	// RetryCount tracks the current retry attempt.
	RetryCount int

	// ParentURL tracks which page this request was discovered on.
	ParentURL string

	// CreatedAt is when this request was created.
	CreatedAt time.Time
}

// NewRequest creates a new GET Request.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w %q: not absolute", ErrInvalidURL, rawURL)
	}

	return &Request{
		URL:        u,
		Method:     http.MethodGet,
		Headers:    make(http.Header),
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}, nil
}

// Follow creates a request for a link found on this request's page.
// Relative links are resolved against base.
func (r *Request) Follow(base, link string) (*Request, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, base, err)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, link, err)
	}
	resolved := baseURL.ResolveReference(ref)
	resolved.Fragment = ""

	next, err := NewRequest(resolved.String())
	if err != nil {
		return nil, err
	}
	next.Depth = r.Depth + 1
	next.MaxRetries = r.MaxRetries
	next.ParentURL = r.URLString()
	return next, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}
