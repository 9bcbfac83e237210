// Package search scans document text page by page and streams matches as they are found
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/drummonds/goviewer/document"
	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrEmptyQuery is returned when a search has nothing to look for
var ErrEmptyQuery = errors.New("empty search query")

// Direction is the page scan order
type Direction int

const (
	Forward Direction = iota
	Backward
)

// ParseDirection reads "forward" or "backward"; empty means forward
func ParseDirection(name string) (Direction, error) {
	switch strings.ToLower(name) {
	case "", "forward", "next":
		return Forward, nil
	case "backward", "previous", "prev":
		return Backward, nil
	}
	return Forward, fmt.Errorf("unknown search direction %q", name)
}

// Options control matching
type Options struct {
	CaseSensitive bool
	WholeWord     bool
	Direction     Direction
	// Language is a BCP 47 tag used for case folding, empty for the root locale
	Language string
}

// Occurrence is one match. Start and End are byte offsets into the page text; Rect is in
// document units.
type Occurrence struct {
	Page  int           `json:"page"`
	Index int           `json:"index"`
	Rect  document.Rect `json:"rect"`
	Start int           `json:"start"`
	End   int           `json:"end"`
	Text  string        `json:"text"`
}

// Observer receives results of a session. Calls come from the session goroutine, in order, and
// never after Cancel has returned. An observer must not call Cancel on its own session.
type Observer interface {
	OccurrenceFound(Occurrence)
	SearchComplete(total int)
}

// ObserverFuncs adapts two functions to Observer; either may be nil
type ObserverFuncs struct {
	Found    func(Occurrence)
	Complete func(total int)
}

func (o ObserverFuncs) OccurrenceFound(occ Occurrence) {
	if o.Found != nil {
		o.Found(occ)
	}
}

func (o ObserverFuncs) SearchComplete(total int) {
	if o.Complete != nil {
		o.Complete(total)
	}
}

// State of a session
type State int32

const (
	Idle State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Engine keeps at most one running session per document
type Engine struct {
	mu       sync.Mutex
	active   map[ulid.ULID]*Session
	byID     map[ulid.ULID]*Session
	watching map[ulid.ULID]bool
}

// NewEngine creates an engine with no sessions
func NewEngine() *Engine {
	return &Engine{
		active:   make(map[ulid.ULID]*Session),
		byID:     make(map[ulid.ULID]*Session),
		watching: make(map[ulid.ULID]bool),
	}
}

// StartSearch cancels any session already running on doc and starts scanning for query. Pages
// are extracted one at a time in the background.
func (e *Engine) StartSearch(doc *document.Document, query string, opts Options, obs Observer) (*Session, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if doc.Closed() {
		return nil, document.ErrDocumentClosed
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      ulid.Make(),
		doc:     doc,
		query:   query,
		opts:    opts,
		obs:     obs,
		matcher: newMatcher(query, opts),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	previous := e.active[doc.ID()]
	e.active[doc.ID()] = s
	e.byID[s.id] = s
	watch := !e.watching[doc.ID()]
	e.watching[doc.ID()] = true
	e.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}
	if watch {
		doc.OnClose(e.documentClosed)
	}

	s.state.Store(int32(Running))
	Logger.Debug("Search started", "session", s.id, "document", doc.ID(), "query", query, "direction", opts.Direction)
	go func() {
		s.run()
		e.finished(s)
	}()
	return s, nil
}

// Session looks a session up by id while it runs
func (e *Engine) Session(id ulid.ULID) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.byID[id]
	return s, ok
}

// Active returns the session running on doc, if any
func (e *Engine) Active(doc ulid.ULID) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.active[doc]
	return s, ok
}

func (e *Engine) finished(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byID, s.id)
	if e.active[s.doc.ID()] == s {
		delete(e.active, s.doc.ID())
	}
	if s.doc.Closed() {
		delete(e.watching, s.doc.ID())
	}
}

func (e *Engine) documentClosed(id ulid.ULID) {
	e.mu.Lock()
	s := e.active[id]
	delete(e.watching, id)
	e.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// Close cancels every running session
func (e *Engine) Close() {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.active))
	for _, s := range e.active {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		s.Cancel()
	}
}

// Session is one search over one document
type Session struct {
	id      ulid.ULID
	doc     *document.Document
	query   string
	opts    Options
	obs     Observer
	matcher *matcher

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	state     atomic.Int32
	done      chan struct{}

	// deliver is held while the observer runs; Cancel takes it to wait out a delivery
	deliver sync.Mutex
	total   int
}

// ID identifies the session
func (s *Session) ID() ulid.ULID { return s.id }

// Query the session looks for
func (s *Session) Query() string { return s.query }

// Document being searched
func (s *Session) Document() ulid.ULID { return s.doc.ID() }

// State is the current state
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the session goroutine has exited
func (s *Session) Done() <-chan struct{} { return s.done }

// Total is the number of occurrences delivered so far
func (s *Session) Total() int {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	return s.total
}

// Wait blocks until the session completes or is cancelled
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Cancel stops the session. Once Cancel returns no further occurrence or completion is
// delivered; text extraction already under way finishes in the background and is discarded.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
	s.deliver.Lock()
	s.state.CompareAndSwap(int32(Running), int32(Cancelled))
	s.deliver.Unlock()
}

func (s *Session) pageOrder() []int {
	n := s.doc.PageCount()
	order := make([]int, n)
	for i := range order {
		if s.opts.Direction == Backward {
			order[i] = n - 1 - i
		} else {
			order[i] = i
		}
	}
	return order
}

func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	for _, index := range s.pageOrder() {
		if s.cancelled.Load() {
			break
		}
		page, err := s.doc.GetPage(index)
		if err != nil {
			s.stop(err)
			return
		}
		layer, err := page.ExtractText(s.ctx)
		if err != nil {
			if errors.Is(err, document.ErrDocumentClosed) || s.ctx.Err() != nil {
				s.stop(err)
				return
			}
			Logger.Warn("Skipping page search could not read", "document", s.doc.ID(), "page", index, "error", err)
			continue
		}
		if !s.deliverPage(index, layer) {
			return
		}
	}

	s.deliver.Lock()
	defer s.deliver.Unlock()
	if s.cancelled.Load() {
		s.state.CompareAndSwap(int32(Running), int32(Cancelled))
		return
	}
	s.state.Store(int32(Completed))
	Logger.Debug("Search complete", "session", s.id, "occurrences", s.total)
	s.obs.SearchComplete(s.total)
}

// deliverPage reports the matches of one page and returns false once the session is cancelled
func (s *Session) deliverPage(index int, layer document.TextLayer) bool {
	if layer.Empty() {
		return true
	}
	matches := s.matcher.findAll(layer.Text)

	s.deliver.Lock()
	defer s.deliver.Unlock()
	if s.cancelled.Load() {
		return false
	}
	for i, m := range matches {
		if s.cancelled.Load() {
			return false
		}
		s.obs.OccurrenceFound(Occurrence{
			Page:  index,
			Index: i,
			Rect:  layer.Bounds(m[0], m[1]),
			Start: m[0],
			End:   m[1],
			Text:  layer.Text[m[0]:m[1]],
		})
		s.total++
	}
	return true
}

func (s *Session) stop(err error) {
	Logger.Debug("Search stopped", "session", s.id, "error", err)
	s.deliver.Lock()
	s.cancelled.Store(true)
	s.state.CompareAndSwap(int32(Running), int32(Cancelled))
	s.deliver.Unlock()
}
