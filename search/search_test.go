package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/document/doctest"
)

// recorder collects everything a session delivers. When hold is set the first occurrence
// blocks until hold is closed.
type recorder struct {
	mu       sync.Mutex
	found    []Occurrence
	total    int
	complete int
	first    chan struct{}
	once     sync.Once
	hold     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{first: make(chan struct{}), total: -1}
}

func (r *recorder) OccurrenceFound(occ Occurrence) {
	r.mu.Lock()
	r.found = append(r.found, occ)
	r.mu.Unlock()
	r.once.Do(func() { close(r.first) })
	if r.hold != nil {
		<-r.hold
	}
}

func (r *recorder) SearchComplete(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
	r.complete++
}

func (r *recorder) pages() [][2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][2]int
	for _, occ := range r.found {
		out = append(out, [2]int{occ.Page, occ.Index})
	}
	return out
}

func waitSession(t *testing.T, s *Session) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Timed out waiting for search %s: state %v", s.ID(), state)
	}
	return state
}

func waitFirst(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.first:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the first occurrence")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func equalPairs(a, b [][2]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func tenPages() *doctest.Source {
	return &doctest.Source{Pages: 10, Texts: map[int]string{
		0: "nothing to see",
		2: "foo bar foo",
		5: "fo o f oo",
		7: "a FOO\nfoo",
	}}
}

func TestSearchDeliversInPageOrder(t *testing.T) {
	doc := doctest.Open(t, tenPages())
	engine := NewEngine()
	rec := newRecorder()

	s, err := engine.StartSearch(doc, "foo", Options{}, rec)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	if state := waitSession(t, s); state != Completed {
		t.Fatalf("Expected completed, got %v", state)
	}

	want := [][2]int{{2, 0}, {2, 1}, {7, 0}, {7, 1}}
	if got := rec.pages(); !equalPairs(got, want) {
		t.Errorf("Expected occurrences %v, got %v", want, got)
	}
	if rec.total != 4 || rec.complete != 1 {
		t.Errorf("Expected one completion with total 4, got %d completions total %d", rec.complete, rec.total)
	}
	if s.Total() != 4 {
		t.Errorf("Expected session total 4, got %d", s.Total())
	}

	t.Run("offsets and bounds", func(t *testing.T) {
		first, second := rec.found[0], rec.found[1]
		if first.Start != 0 || first.End != 3 || second.Start != 8 || second.End != 11 {
			t.Errorf("Unexpected offsets on page 2: %+v %+v", first, second)
		}
		upper, lower := rec.found[2], rec.found[3]
		if upper.Text != "FOO" || lower.Text != "foo" {
			t.Errorf("Expected the matched text as written, got %q and %q", upper.Text, lower.Text)
		}
		if upper.Rect.Y != 0 || lower.Rect.Y != 10 {
			t.Errorf("Expected matches on lines 0 and 1 of page 7, got y %v and %v", upper.Rect.Y, lower.Rect.Y)
		}
	})
}

func TestSearchBackward(t *testing.T) {
	doc := doctest.Open(t, tenPages())
	rec := newRecorder()
	s, err := NewEngine().StartSearch(doc, "foo", Options{Direction: Backward}, rec)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	waitSession(t, s)

	want := [][2]int{{7, 0}, {7, 1}, {2, 0}, {2, 1}}
	if got := rec.pages(); !equalPairs(got, want) {
		t.Errorf("Expected occurrences %v, got %v", want, got)
	}
}

func TestSearchOptions(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		query string
		opts  Options
		want  [][2]int
	}{
		{"case insensitive", "say HELLO hello", "Hello", Options{}, [][2]int{{4, 9}, {10, 15}}},
		{"case sensitive", "say HELLO hello", "hello", Options{CaseSensitive: true}, [][2]int{{10, 15}}},
		{"accented", "L'ÉCOLE et l'école", "école", Options{}, [][2]int{{2, 8}, {14, 20}}},
		{"whole word", "foo food foo_bar (foo)", "foo", Options{WholeWord: true}, [][2]int{{0, 3}, {18, 21}}},
		{"substring", "foo food foo_bar (foo)", "foo", Options{}, [][2]int{{0, 3}, {4, 7}, {9, 12}, {18, 21}}},
		{"non overlapping", "aaaa", "aa", Options{CaseSensitive: true}, [][2]int{{0, 2}, {2, 4}}},
		{"no match", "lorem ipsum", "dolor", Options{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newMatcher(tt.query, tt.opts).findAll(tt.text)
			if !equalPairs(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSearchSkipsUnreadablePages(t *testing.T) {
	src := tenPages()
	src.FailText = map[int]bool{2: true}
	doc := doctest.Open(t, src)
	rec := newRecorder()

	s, err := NewEngine().StartSearch(doc, "foo", Options{}, rec)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	if state := waitSession(t, s); state != Completed {
		t.Fatalf("Expected completed, got %v", state)
	}
	if rec.total != 2 {
		t.Errorf("Expected total 2 without page 2, got %d", rec.total)
	}
	if n := src.Extracts.Load(); n != 10 {
		t.Errorf("Expected every page extracted once, got %d", n)
	}
}

func TestSearchEmptyDocument(t *testing.T) {
	doc := doctest.Open(t, &doctest.Source{Pages: 3})
	rec := newRecorder()
	s, err := NewEngine().StartSearch(doc, "anything", Options{}, rec)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	waitSession(t, s)
	if rec.total != 0 || rec.complete != 1 || len(rec.found) != 0 {
		t.Errorf("Expected a single empty completion, got %d completions and %d occurrences", rec.complete, len(rec.found))
	}
}

func TestSearchCancel(t *testing.T) {
	doc := doctest.Open(t, tenPages())
	engine := NewEngine()
	rec := newRecorder()
	rec.hold = make(chan struct{})

	s, err := engine.StartSearch(doc, "foo", Options{}, rec)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	waitFirst(t, rec)

	cancelled := make(chan struct{})
	go func() {
		s.Cancel()
		close(cancelled)
	}()
	eventually(t, "cancel flag", s.cancelled.Load)
	select {
	case <-cancelled:
		t.Fatal("Cancel returned while an occurrence was being delivered")
	default:
	}
	close(rec.hold)
	<-cancelled

	if state := waitSession(t, s); state != Cancelled {
		t.Errorf("Expected cancelled, got %v", state)
	}
	if got := rec.pages(); len(got) != 1 {
		t.Errorf("Expected delivery to stop after the first occurrence, got %v", got)
	}
	if rec.complete != 0 {
		t.Error("Cancelled search must not report completion")
	}
	eventually(t, "session removal", func() bool {
		_, ok := engine.Session(s.ID())
		return !ok
	})
}

func TestNewSearchCancelsPrevious(t *testing.T) {
	doc := doctest.Open(t, tenPages())
	engine := NewEngine()
	first := newRecorder()
	first.hold = make(chan struct{})

	old, err := engine.StartSearch(doc, "foo", Options{}, first)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	waitFirst(t, first)
	if active, ok := engine.Active(doc.ID()); !ok || active != old {
		t.Fatal("Expected the first search to be active")
	}

	second := newRecorder()
	started := make(chan *Session)
	go func() {
		s, err := engine.StartSearch(doc, "bar", Options{}, second)
		if err != nil {
			t.Errorf("Second StartSearch failed: %v", err)
		}
		started <- s
	}()
	eventually(t, "previous search cancel", old.cancelled.Load)
	close(first.hold)
	current := <-started

	if state := waitSession(t, old); state != Cancelled {
		t.Errorf("Expected previous search cancelled, got %v", state)
	}
	if state := waitSession(t, current); state != Completed {
		t.Errorf("Expected new search completed, got %v", state)
	}
	if first.complete != 0 || len(first.found) != 1 {
		t.Errorf("Previous search kept delivering: %v", first.pages())
	}
	if second.total != 1 {
		t.Errorf("Expected one bar, got %d", second.total)
	}
}

func TestDocumentCloseCancelsSearch(t *testing.T) {
	src := tenPages()
	doc := doctest.Open(t, src)
	engine := NewEngine()
	rec := newRecorder()
	rec.hold = make(chan struct{})

	s, err := engine.StartSearch(doc, "foo", Options{}, rec)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	waitFirst(t, rec)

	closed := make(chan error)
	go func() { closed <- doc.Close() }()
	eventually(t, "close hook", s.cancelled.Load)
	close(rec.hold)
	if err := <-closed; err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if state := waitSession(t, s); state != Cancelled {
		t.Errorf("Expected cancelled, got %v", state)
	}
	if !src.IsClosed() {
		t.Error("Expected the source released")
	}
	if _, err := engine.StartSearch(doc, "foo", Options{}, nil); !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("Expected ErrDocumentClosed, got %v", err)
	}
}

func TestClosedDocumentNotWatched(t *testing.T) {
	doc := doctest.Open(t, tenPages())
	engine := NewEngine()
	rec := newRecorder()
	rec.hold = make(chan struct{})

	s, err := engine.StartSearch(doc, "foo", Options{}, rec)
	if err != nil {
		t.Fatalf("StartSearch failed: %v", err)
	}
	waitFirst(t, rec)

	closed := make(chan error)
	go func() { closed <- doc.Close() }()
	eventually(t, "close hook", s.cancelled.Load)
	// a search that registered for close notifications after the hooks ran
	engine.mu.Lock()
	engine.watching[doc.ID()] = true
	engine.mu.Unlock()
	close(rec.hold)
	if err := <-closed; err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitSession(t, s)

	eventually(t, "watch released", func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		_, ok := engine.watching[doc.ID()]
		return !ok
	})
}

func TestStartSearchRejectsEmptyQuery(t *testing.T) {
	doc := doctest.Open(t, tenPages())
	if _, err := NewEngine().StartSearch(doc, "", Options{}, nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Expected ErrEmptyQuery, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	for name, want := range map[string]Direction{"": Forward, "forward": Forward, "Backward": Backward, "prev": Backward} {
		got, err := ParseDirection(name)
		if err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("Expected an error for an unknown direction")
	}
}
