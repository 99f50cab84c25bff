package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrMaxRetries    = errors.New("max retries exceeded")
	ErrBlocked       = errors.New("blocked by robots.txt")
	ErrMaxDepth      = errors.New("max depth exceeded")
	ErrMaxPages      = errors.New("max pages reached")
	ErrDuplicate     = errors.New("duplicate URL")
	ErrOffsite       = errors.New("offsite URL")
	ErrInvalidURL    = errors.New("invalid URL")
	ErrCrawlStopped  = errors.New("crawl has been stopped")
	ErrUnknownField  = errors.New("unknown field")
	ErrUnknownSpider = errors.New("unknown spider")
	ErrFormNotFound  = errors.New("login form not found")
	ErrBodyTooLarge  = errors.New("response body too large")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ParseError wraps errors that occur during extraction.
type ParseError struct {
	URL      string
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("parse error for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("parse error for %s (selector=%q): %v", e.URL, e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur while writing output. It is fatal
// for a run.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PipelineError wraps errors that occur in the processing pipeline.
type PipelineError struct {
	Stage  string
	Record *Record
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// LoginError wraps transport failures of the login flow.
type LoginError struct {
	Step string
	URL  string
	Err  error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login %s %s: %v", e.Step, e.URL, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }
