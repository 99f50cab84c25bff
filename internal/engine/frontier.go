package engine

import (
	"context"
	"sync"

	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// Frontier is the crawl's FIFO work queue. Workers block in Pop until a
// request arrives or the frontier is closed and drained.
type Frontier struct {
	mu     sync.Mutex
	queue  []*types.Request
	closed bool

	// wake holds at most one pending signal; each waiter re-checks the
	// queue and passes the signal on while work or closure remains.
	wake chan struct{}
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		queue: make([]*types.Request, 0, 64),
		wake:  make(chan struct{}, 1),
	}
}

func (f *Frontier) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Push appends a request. Pushes after Close are dropped.
func (f *Frontier) Push(req *types.Request) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, req)
	f.mu.Unlock()
	f.signal()
}

// Pop returns the oldest request, waiting for one if necessary. It
// returns nil once the frontier is closed and empty, or when ctx is done.
func (f *Frontier) Pop(ctx context.Context) *types.Request {
	for {
		if ctx.Err() != nil {
			return nil
		}

		f.mu.Lock()
		req := f.shift()
		more, closed := len(f.queue) > 0, f.closed
		f.mu.Unlock()

		if req != nil || closed {
			if more || closed {
				f.signal()
			}
			return req
		}

		select {
		case <-ctx.Done():
			return nil
		case <-f.wake:
		}
	}
}

// TryPop dequeues without waiting; nil when empty.
func (f *Frontier) TryPop() *types.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shift()
}

func (f *Frontier) shift() *types.Request {
	if len(f.queue) == 0 {
		return nil
	}
	req := f.queue[0]
	f.queue[0] = nil
	f.queue = f.queue[1:]
	return req
}

// Len returns the number of queued requests.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// IsEmpty reports whether nothing is queued.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// Close stops accepting requests and wakes every waiter. Queued requests
// can still be popped.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.signal()
}
