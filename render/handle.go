package render

import (
	"context"

	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/pixcache"
)

// Handle is one caller's interest in a render. It resolves exactly once, to a pixmap pinned in
// the cache or to an error. The pin is held until Release or Cancel.
type Handle struct {
	s        *Scheduler
	req      document.RenderRequest
	priority Priority
	done     chan struct{}

	// guarded by s.mu until done is closed
	job        *job
	resolved   bool
	released   bool
	background bool
	lease      *pixcache.Lease
	err        error
}

func newHandle(s *Scheduler, req document.RenderRequest, priority Priority) *Handle {
	return &Handle{s: s, req: req, priority: priority, done: make(chan struct{})}
}

// Request is the normalized request the handle waits for
func (h *Handle) Request() document.RenderRequest { return h.req }

// Priority the handle was requested with
func (h *Handle) Priority() Priority { return h.priority }

// Done is closed once the handle has resolved
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the render resolves or ctx ends. Giving up on ctx does not cancel the render.
func (h *Handle) Wait(ctx context.Context) (*document.Pixmap, error) {
	select {
	case <-h.done:
		return h.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrPending
func (h *Handle) Result() (*document.Pixmap, error) {
	select {
	case <-h.done:
		return h.result()
	default:
		return nil, ErrPending
	}
}

func (h *Handle) result() (*document.Pixmap, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.lease.Pixmap(), nil
}

// Cancel withdraws interest. When no other handle waits for the same request, a queued render is
// dropped and a running one is asked to stop; a running render that completes anyway still
// feeds the cache. Cancel never blocks on the render.
func (h *Handle) Cancel() {
	s := h.s
	s.mu.Lock()
	if !h.resolved && h.job != nil {
		j := h.job
		delete(j.handles, h)
		h.job = nil
		s.resolveLocked(h, nil, ErrCancelled)
		if len(j.handles) == 0 {
			s.abandonLocked(j)
		}
	}
	s.mu.Unlock()
	h.Release()
}

// Release unpins the resolved pixmap. The pixmap stays valid for the caller; it may just be
// evicted from the cache afterwards.
func (h *Handle) Release() {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	h.released = true
	if h.lease != nil {
		h.lease.Release()
	}
}
