// Package doctest provides an in-memory document backend for tests of the render pipeline.
package doctest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/drummonds/goviewer/document"
)

// ErrBrokenPage is returned by Source for pages listed in FailPages
var ErrBrokenPage = errors.New("broken page")

// Source is a fake document. Pages are solid colour images of Size at zoom 1; texts come
// from Texts. Gate, when set, holds every render until it is closed or the render is cancelled.
// SizeGate holds PageSize the same way, announcing each entry on SizeEntered when that is set.
type Source struct {
	Pages       int
	Size        document.Size
	Texts       map[int]string
	FailPages   map[int]bool
	FailText    map[int]bool
	Gate        chan struct{}
	SizeGate    chan struct{}
	SizeEntered chan int
	IgnoreCtx   bool
	Stateless   bool
	Meta        document.Metadata
	OutlineList []document.OutlineItem

	Renders    atomic.Int64
	Extracts   atomic.Int64
	inFlight   sync.Map // page -> *atomic.Int32
	MaxOverlap atomic.Int32

	// MaxActive is the most Render and PageText calls seen running together across all pages
	MaxActive      atomic.Int32
	active         atomic.Int32
	UsedAfterClose atomic.Bool

	closed    atomic.Bool
	started   chan int
	startOnce sync.Once
}

// Started reports each page index as its render begins
func (s *Source) Started() <-chan int {
	s.startOnce.Do(func() { s.started = make(chan int, 1024) })
	return s.started
}

func (s *Source) PageCount() int { return s.Pages }

func (s *Source) PageSize(index int) (document.Size, error) {
	if s.SizeGate != nil {
		if s.SizeEntered != nil {
			s.SizeEntered <- index
		}
		<-s.SizeGate
	}
	s.checkOpen()
	return s.size(), nil
}

func (s *Source) size() document.Size {
	if s.Size.Width == 0 {
		return document.Size{Width: 20, Height: 30}
	}
	return s.Size
}

func (s *Source) RenderPage(ctx context.Context, index int, zoom float64) (image.Image, error) {
	s.Started()
	s.Renders.Add(1)
	defer s.enter()()
	counter, _ := s.inFlight.LoadOrStore(index, new(atomic.Int32))
	n := counter.(*atomic.Int32).Add(1)
	defer counter.(*atomic.Int32).Add(-1)
	for {
		old := s.MaxOverlap.Load()
		if n <= old || s.MaxOverlap.CompareAndSwap(old, n) {
			break
		}
	}
	select {
	case s.started <- index:
	default:
	}

	if s.Gate != nil {
		if s.IgnoreCtx {
			<-s.Gate
		} else {
			select {
			case <-s.Gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if s.FailPages[index] {
		return nil, fmt.Errorf("%w: %d", ErrBrokenPage, index)
	}
	s.checkOpen()
	size := s.size()
	w := int(size.Width * zoom)
	h := int(size.Height * zoom)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: uint8(index * 20), G: uint8(zoom * 10), B: 200, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	return img, nil
}

func (s *Source) PageText(ctx context.Context, index int) (document.TextLayer, error) {
	s.Extracts.Add(1)
	defer s.enter()()
	s.checkOpen()
	if s.FailText[index] {
		return document.TextLayer{}, fmt.Errorf("%w: %d", ErrBrokenPage, index)
	}
	var b document.TextBuilder
	for i, line := range strings.Split(s.Texts[index], "\n") {
		b.Separator("\n")
		b.Add(line, document.Rect{X: 0, Y: float64(i * 10), Width: float64(len(line) * 5), Height: 10})
	}
	return b.Layer(), nil
}

func (s *Source) Metadata() document.Metadata {
	s.checkOpen()
	return s.Meta
}

// enter counts a call as active until the returned func runs
func (s *Source) enter() func() {
	n := s.active.Add(1)
	for {
		old := s.MaxActive.Load()
		if n <= old || s.MaxActive.CompareAndSwap(old, n) {
			break
		}
	}
	return func() { s.active.Add(-1) }
}

func (s *Source) checkOpen() {
	if s.closed.Load() {
		s.UsedAfterClose.Store(true)
	}
}

func (s *Source) Outline() ([]document.OutlineItem, error) { return s.OutlineList, nil }

func (s *Source) Concurrent() bool { return s.Stateless }

func (s *Source) Close() error {
	s.closed.Store(true)
	return nil
}

// IsClosed reports whether the document released the source
func (s *Source) IsClosed() bool { return s.closed.Load() }

// Backend returns a backend that always opens src, claiming the .fake extension
func Backend(name string, src *Source) *document.Backend {
	return &document.Backend{
		Name:       name,
		MimeTypes:  []string{"application/x-fake"},
		Extensions: []string{".fake"},
		Open: func(ctx context.Context, path string) (document.Source, error) {
			return src, nil
		},
	}
}

// Open registers src under a throwaway registry and opens it
func Open(tb interface {
	Helper()
	TempDir() string
	Fatalf(string, ...any)
}, src *Source) *document.Document {
	tb.Helper()
	registry := document.NewRegistry(document.Preferences{})
	if err := registry.Register(Backend("fake", src)); err != nil {
		tb.Fatalf("Failed to register fake backend: %v", err)
	}
	path := filepath.Join(tb.TempDir(), "doc.fake")
	if err := os.WriteFile(path, []byte("fake"), 0644); err != nil {
		tb.Fatalf("Failed to write fake document: %v", err)
	}
	doc, err := registry.Open(context.Background(), path)
	if err != nil {
		tb.Fatalf("Failed to open fake document: %v", err)
	}
	return doc
}
