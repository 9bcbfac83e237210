// Package render turns page view demand into a bounded set of concurrent renders. Identical
// requests share one render and visible pages are rendered before prefetched ones.
package render

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/pixcache"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Stats is a snapshot of scheduler activity
type Stats struct {
	Workers  int   `json:"workers"`
	Queued   int   `json:"queued"`
	Running  int   `json:"running"`
	Rendered int64 `json:"rendered"`
	Failed   int64 `json:"failed"`
}

// Scheduler runs renders on a fixed pool of workers and publishes results to the cache
type Scheduler struct {
	cache   *pixcache.Cache
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   jobQueue
	jobs    map[document.RenderRequest]*job
	docs    map[ulid.ULID]*document.Document
	seq     uint64
	running int
	closed  bool
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// job is the single render shared by every handle waiting for one request
type job struct {
	req      document.RenderRequest
	doc      *document.Document
	page     *document.Page
	priority Priority
	seq      uint64
	index    int
	running  bool
	handles  map[*Handle]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// New starts a scheduler with workers render goroutines; zero or less means one per CPU
func New(cache *pixcache.Cache, workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cache:   cache,
		workers: workers,
		jobs:    make(map[document.RenderRequest]*job),
		docs:    make(map[ulid.ULID]*document.Document),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.cond = sync.NewCond(&s.mu)
	s.group = &errgroup.Group{}
	for i := 0; i < workers; i++ {
		s.group.Go(s.worker)
	}
	Logger.Info("Render scheduler started", "workers", workers)
	return s
}

// Cache the scheduler publishes to
func (s *Scheduler) Cache() *pixcache.Cache { return s.cache }

// Track makes doc renderable. Closing doc fails its pending renders and drops its cached
// pixmaps before Close returns.
func (s *Scheduler) Track(doc *document.Document) {
	s.mu.Lock()
	s.docs[doc.ID()] = doc
	s.mu.Unlock()
	doc.OnClose(s.documentClosed)
}

// RequestRender returns at once with a handle for req. A cached pixmap resolves the handle
// immediately; an identical request already queued or running is joined, raising its priority
// if needed; otherwise a new render is queued.
func (s *Scheduler) RequestRender(req document.RenderRequest, priority Priority) *Handle {
	req, err := req.Normalize()
	h := newHandle(s, req, priority)
	if err != nil {
		s.resolveUnlocked(h, err)
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.resolveLocked(h, nil, ErrSchedulerClosed)
		return h
	}
	doc, ok := s.docs[req.Document]
	if !ok || doc.Closed() {
		s.resolveLocked(h, nil, fmt.Errorf("%w: %s is not open", document.ErrDocumentClosed, req.Document))
		return h
	}
	page, err := doc.GetPage(req.Page)
	if err != nil {
		s.resolveLocked(h, nil, err)
		return h
	}

	if lease, ok := s.cache.Acquire(req); ok {
		s.resolveLocked(h, lease, nil)
		return h
	}

	if j, ok := s.jobs[req]; ok {
		j.handles[h] = struct{}{}
		h.job = j
		if priority > j.priority {
			j.priority = priority
			if j.index >= 0 {
				heap.Fix(&s.queue, j.index)
			}
		}
		Logger.Debug("Joined render in flight", "request", req, "waiting", len(j.handles))
		return h
	}

	j := &job{req: req, doc: doc, page: page, priority: priority, index: -1, handles: map[*Handle]struct{}{h: {}}}
	h.job = j
	s.jobs[req] = j
	s.enqueueLocked(j)
	return h
}

// Prefetch queues background renders of the pages within distance of around. The closest
// neighbours get Nearby priority, the rest Prefetch. Their results only warm the cache.
func (s *Scheduler) Prefetch(doc *document.Document, around, distance int, zoom float64, rotation document.Rotation) int {
	issued := 0
	for d := 1; d <= distance; d++ {
		priority := Prefetch
		if d == 1 {
			priority = Nearby
		}
		for _, index := range []int{around + d, around - d} {
			if index < 0 || index >= doc.PageCount() {
				continue
			}
			req := document.RenderRequest{Document: doc.ID(), Page: index, Zoom: zoom, Rotation: rotation}
			h := s.RequestRender(req, priority)
			s.mu.Lock()
			h.background = true
			if h.resolved {
				h.released = true
				if h.lease != nil {
					h.lease.Release()
				}
			}
			s.mu.Unlock()
			issued++
		}
	}
	return issued
}

func (s *Scheduler) enqueueLocked(j *job) {
	j.ctx, j.cancel = context.WithCancel(s.ctx)
	s.seq++
	j.seq = s.seq
	heap.Push(&s.queue, j)
	s.cond.Signal()
}

func (s *Scheduler) worker() error {
	for {
		s.mu.Lock()
		for !s.closed && s.queue.Len() == 0 {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		j := heap.Pop(&s.queue).(*job)
		j.running = true
		s.running++
		s.mu.Unlock()

		s.run(j)
	}
}

func (s *Scheduler) run(j *job) {
	Logger.Debug("Rendering", "request", j.req, "priority", j.priority)
	img, err := j.page.Render(j.ctx, j.req.Zoom, j.req.Rotation, j.req.Region)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.running = false
	s.running--
	current := s.jobs[j.req] == j

	switch {
	case s.closed:
		s.failLocked(j, ErrSchedulerClosed)
	case j.doc.Closed():
		// the close hook may not have run yet; never publish pixmaps of a closed document
		s.failLocked(j, document.ErrDocumentClosed)
	case err == nil:
		s.stats.Rendered++
		px := &document.Pixmap{Request: j.req, Image: img}
		if len(j.handles) == 0 {
			s.cache.Put(j.req, px)
			Logger.Debug("Cached render nobody waits for", "request", j.req)
			break
		}
		lease := s.cache.PutAcquire(j.req, px)
		for h := range j.handles {
			s.resolveLocked(h, lease.Share(), nil)
		}
		lease.Release()
	case j.ctx.Err() != nil && errors.Is(err, context.Canceled):
		if len(j.handles) > 0 {
			// cancelled by its last caller, then requested again before the worker noticed
			Logger.Debug("Requeueing aborted render", "request", j.req)
			s.enqueueLocked(j)
			return
		}
	default:
		s.stats.Failed++
		Logger.Warn("Render failed", "request", j.req, "error", err)
		s.failLocked(j, &RenderError{Page: j.req.Page, Err: err})
	}
	j.handles = nil
	j.cancel()
	if current {
		delete(s.jobs, j.req)
	}
}

// abandonLocked drops a job nobody waits for. A running render keeps going only until the
// backend notices its context.
func (s *Scheduler) abandonLocked(j *job) {
	if j.index >= 0 {
		heap.Remove(&s.queue, j.index)
		delete(s.jobs, j.req)
	}
	if j.cancel != nil {
		j.cancel()
	}
}

func (s *Scheduler) resolveLocked(h *Handle, lease *pixcache.Lease, err error) {
	if h.resolved {
		if lease != nil {
			lease.Release()
		}
		return
	}
	h.resolved = true
	h.job = nil
	h.lease = lease
	h.err = err
	if lease != nil && (h.released || h.background) {
		lease.Release()
	}
	close(h.done)
}

func (s *Scheduler) failLocked(j *job, err error) {
	for h := range j.handles {
		s.resolveLocked(h, nil, err)
	}
}

func (s *Scheduler) resolveUnlocked(h *Handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveLocked(h, nil, err)
}

// documentClosed runs inside Document.Close. Holding s.mu orders it against run, so a render
// finishing concurrently either lands in the cache before the invalidation or sees the closed
// document and is discarded.
func (s *Scheduler) documentClosed(id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	failed := 0
	for req, j := range s.jobs {
		if req.Document != id {
			continue
		}
		for h := range j.handles {
			s.resolveLocked(h, nil, document.ErrDocumentClosed)
			failed++
		}
		j.handles = nil
		if j.index >= 0 {
			heap.Remove(&s.queue, j.index)
		}
		j.cancel()
		delete(s.jobs, req)
	}
	removed := s.cache.InvalidateDocument(id)
	Logger.Debug("Dropped renders of closed document", "document", id, "handles", failed, "pixmaps", removed)
}

// Stats returns a snapshot of queue depth and totals
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Workers = s.workers
	stats.Queued = s.queue.Len()
	stats.Running = s.running
	return stats
}

// Close stops the workers. Pending handles resolve with ErrSchedulerClosed; Close waits for
// renders already running to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, j := range s.jobs {
		for h := range j.handles {
			s.resolveLocked(h, nil, ErrSchedulerClosed)
		}
		j.handles = nil
		if j.cancel != nil {
			j.cancel()
		}
	}
	s.jobs = make(map[document.RenderRequest]*job)
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	err := s.group.Wait()
	Logger.Info("Render scheduler stopped")
	return err
}
