package document_test

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/document/doctest"
	"github.com/oklog/ulid/v2"
)

func TestGetPage(t *testing.T) {
	src := &doctest.Source{Pages: 3}
	doc := doctest.Open(t, src)
	defer doc.Close()

	for i := 0; i < 3; i++ {
		page, err := doc.GetPage(i)
		if err != nil {
			t.Fatalf("Failed to get page %d: %v", i, err)
		}
		if page.Index() != i || page.Document() != doc.ID() {
			t.Errorf("Page %d has wrong identity", i)
		}
		again, _ := doc.GetPage(i)
		if again != page {
			t.Errorf("Expected stable page handle for %d", i)
		}
	}
	for _, bad := range []int{-1, 3, 100} {
		if _, err := doc.GetPage(bad); !errors.Is(err, document.ErrIndexOutOfRange) {
			t.Errorf("GetPage(%d): expected ErrIndexOutOfRange, got %v", bad, err)
		}
	}
}

func TestClose(t *testing.T) {
	src := &doctest.Source{Pages: 2, Texts: map[int]string{0: "hello"}}
	doc := doctest.Open(t, src)
	page, _ := doc.GetPage(0)

	var hooked atomic.Int32
	var hookedID ulid.ULID
	doc.OnClose(func(id ulid.ULID) {
		hooked.Add(1)
		hookedID = id
	})

	if err := doc.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if hooked.Load() != 1 || hookedID != doc.ID() {
		t.Errorf("Expected one close hook call with the document id, got %d", hooked.Load())
	}
	if !src.IsClosed() {
		t.Error("Expected backend source to be closed")
	}

	if _, err := doc.GetPage(0); !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("GetPage after close: expected ErrDocumentClosed, got %v", err)
	}
	if _, err := page.Render(context.Background(), 1, document.Rotate0, image.Rectangle{}); !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("Render after close: expected ErrDocumentClosed, got %v", err)
	}
	if _, err := page.ExtractText(context.Background()); !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("ExtractText after close: expected ErrDocumentClosed, got %v", err)
	}
	if _, err := page.IntrinsicSize(); !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("IntrinsicSize after close: expected ErrDocumentClosed, got %v", err)
	}

	t.Run("hook registered after close runs at once", func(t *testing.T) {
		var late ulid.ULID
		doc.OnClose(func(id ulid.ULID) { late = id })
		if late != doc.ID() {
			t.Error("Expected the late hook to run with the document id")
		}
	})
}

func TestCloseWaitsForRunningCalls(t *testing.T) {
	src := &doctest.Source{Pages: 2, SizeGate: make(chan struct{}), SizeEntered: make(chan int, 1)}
	doc := doctest.Open(t, src)
	page, _ := doc.GetPage(1)

	sizeErr := make(chan error, 1)
	go func() {
		_, err := page.IntrinsicSize()
		sizeErr <- err
	}()
	select {
	case <-src.SizeEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for PageSize to start")
	}

	closed := make(chan error, 1)
	go func() { closed <- doc.Close() }()
	deadline := time.Now().Add(5 * time.Second)
	for !doc.Closed() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for Close to begin")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-closed:
		t.Fatal("Close returned while PageSize was still running")
	case <-time.After(50 * time.Millisecond):
	}
	if src.IsClosed() {
		t.Fatal("Source released under a running call")
	}

	close(src.SizeGate)
	if err := <-sizeErr; !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("Expected the interrupted size query to fail with ErrDocumentClosed, got %v", err)
	}
	if err := <-closed; err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !src.IsClosed() {
		t.Error("Expected backend source to be closed")
	}
	if src.UsedAfterClose.Load() {
		t.Error("Source was called after it was released")
	}
	if _, err := doc.Metadata(); !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("Metadata after close: expected ErrDocumentClosed, got %v", err)
	}
}

func TestQueuedCallsSkippedAfterClose(t *testing.T) {
	src := &doctest.Source{Pages: 2, Gate: make(chan struct{}), Texts: map[int]string{1: "queued"}}
	doc := doctest.Open(t, src)
	first, _ := doc.GetPage(0)
	second, _ := doc.GetPage(1)

	renderErr := make(chan error, 1)
	go func() {
		_, err := first.Render(context.Background(), 1, document.Rotate0, image.Rectangle{})
		renderErr <- err
	}()
	select {
	case <-src.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the render to start")
	}

	textErr := make(chan error, 1)
	go func() {
		_, err := second.ExtractText(context.Background())
		textErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if n := src.Extracts.Load(); n != 0 {
		t.Fatalf("Text extraction ran beside a render on a serial source: %d calls", n)
	}

	closed := make(chan error, 1)
	go func() { closed <- doc.Close() }()
	for !doc.Closed() {
		time.Sleep(time.Millisecond)
	}
	close(src.Gate)

	if err := <-renderErr; !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("Expected the running render to fail with ErrDocumentClosed, got %v", err)
	}
	if err := <-textErr; !errors.Is(err, document.ErrDocumentClosed) {
		t.Errorf("Expected the queued extraction to fail with ErrDocumentClosed, got %v", err)
	}
	if n := src.Extracts.Load(); n != 0 {
		t.Errorf("Queued extraction reached the source after close: %d calls", n)
	}
	if err := <-closed; err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if src.UsedAfterClose.Load() {
		t.Error("Source was called after it was released")
	}
}

func TestRender(t *testing.T) {
	src := &doctest.Source{Pages: 1, Size: document.Size{Width: 40, Height: 20}}
	doc := doctest.Open(t, src)
	defer doc.Close()
	page, _ := doc.GetPage(0)
	ctx := context.Background()

	t.Run("zoom scales output", func(t *testing.T) {
		img, err := page.Render(ctx, 2, document.Rotate0, image.Rectangle{})
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if got := img.Bounds().Size(); got != image.Pt(80, 40) {
			t.Errorf("Expected 80x40, got %v", got)
		}
	})

	t.Run("rotation swaps dimensions", func(t *testing.T) {
		for _, rot := range []document.Rotation{document.Rotate90, document.Rotate270} {
			img, err := page.Render(ctx, 1, rot, image.Rectangle{})
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if got := img.Bounds().Size(); got != image.Pt(20, 40) {
				t.Errorf("Rotation %d: expected 20x40, got %v", rot, got)
			}
		}
	})

	t.Run("region crops", func(t *testing.T) {
		img, err := page.Render(ctx, 1, document.Rotate0, image.Rect(10, 5, 30, 15))
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if got := img.Bounds().Size(); got != image.Pt(20, 10) {
			t.Errorf("Expected 20x10, got %v", got)
		}
	})

	t.Run("region outside page", func(t *testing.T) {
		_, err := page.Render(ctx, 1, document.Rotate0, image.Rect(100, 100, 120, 120))
		if !errors.Is(err, document.ErrInvalidRegion) {
			t.Errorf("Expected ErrInvalidRegion, got %v", err)
		}
	})

	t.Run("invalid zoom", func(t *testing.T) {
		for _, z := range []float64{0, -1, document.MaxZoom + 1} {
			if _, err := page.Render(ctx, z, document.Rotate0, image.Rectangle{}); !errors.Is(err, document.ErrInvalidZoom) {
				t.Errorf("Zoom %v: expected ErrInvalidZoom, got %v", z, err)
			}
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		broken := &doctest.Source{Pages: 2, FailPages: map[int]bool{1: true}}
		doc := doctest.Open(t, broken)
		defer doc.Close()
		page, _ := doc.GetPage(1)
		if _, err := page.Render(ctx, 1, document.Rotate0, image.Rectangle{}); !errors.Is(err, doctest.ErrBrokenPage) {
			t.Errorf("Expected backend error, got %v", err)
		}
	})
}

func TestExtractText(t *testing.T) {
	src := &doctest.Source{Pages: 1, Texts: map[int]string{0: "first line\nsecond"}}
	doc := doctest.Open(t, src)
	defer doc.Close()
	page, _ := doc.GetPage(0)

	layer, err := page.ExtractText(context.Background())
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if layer.Text != "first line\nsecond" {
		t.Errorf("Unexpected text %q", layer.Text)
	}
	if len(layer.Spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(layer.Spans))
	}
}

func TestRotationNormalize(t *testing.T) {
	cases := map[int]document.Rotation{
		0: document.Rotate0, 90: document.Rotate90, 360: document.Rotate0,
		450: document.Rotate90, -90: document.Rotate270, -180: document.Rotate180,
	}
	for in, want := range cases {
		got, err := document.NormalizeRotation(in)
		if err != nil || got != want {
			t.Errorf("NormalizeRotation(%d) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := document.NormalizeRotation(45); !errors.Is(err, document.ErrInvalidRotation) {
		t.Errorf("Expected ErrInvalidRotation for 45, got %v", err)
	}
}

func TestRenderRequestKey(t *testing.T) {
	id := ulid.Make()
	a, err := document.NewRenderRequest(id, 3, 1.0/3.0, 450, image.Rectangle{})
	if err != nil {
		t.Fatalf("NewRenderRequest failed: %v", err)
	}
	b, _ := document.NewRenderRequest(id, 3, 0.33333333334, 90, image.Rect(5, 5, 5, 5))
	if a != b {
		t.Errorf("Expected equal keys, got %v and %v", a, b)
	}
	c, _ := document.NewRenderRequest(id, 3, 0.5, 90, image.Rectangle{})
	if a == c {
		t.Error("Different zooms must not share a key")
	}
	d, _ := document.NewRenderRequest(id, 3, 1.0/3.0, 90, image.Rect(10, 10, 0, 0))
	e, _ := document.NewRenderRequest(id, 3, 1.0/3.0, 90, image.Rect(0, 0, 10, 10))
	if d != e {
		t.Errorf("Expected canonical regions to match, got %v and %v", d.Region, e.Region)
	}
}

func TestFit(t *testing.T) {
	a4 := document.Size{Width: 595, Height: 842}
	if z := document.FitWidth(a4, document.Rotate0, 1190); z != 2 {
		t.Errorf("FitWidth expected 2, got %v", z)
	}
	if z := document.FitWidth(a4, document.Rotate90, 842); z != 1 {
		t.Errorf("FitWidth rotated expected 1, got %v", z)
	}
	if z := document.FitPage(a4, document.Rotate0, 1190, 842); z != 1 {
		t.Errorf("FitPage expected 1, got %v", z)
	}
	if z := document.FitPage(document.Size{}, document.Rotate0, 100, 100); z != 1 {
		t.Errorf("FitPage with empty page expected 1, got %v", z)
	}
}

func TestTextLayer(t *testing.T) {
	var b document.TextBuilder
	b.Add("hello", document.Rect{X: 0, Y: 0, Width: 25, Height: 10})
	b.Separator(" ")
	b.Add("world", document.Rect{X: 30, Y: 0, Width: 25, Height: 10})
	b.Separator("\n")
	b.Add("again", document.Rect{X: 0, Y: 12, Width: 25, Height: 10})
	layer := b.Layer()

	if layer.Text != "hello world\nagain" {
		t.Fatalf("Unexpected text %q", layer.Text)
	}
	if got := layer.Bounds(6, 11); got != (document.Rect{X: 30, Y: 0, Width: 25, Height: 10}) {
		t.Errorf("Bounds of world: got %+v", got)
	}
	if got := layer.Bounds(3, 8); got != (document.Rect{X: 0, Y: 0, Width: 55, Height: 10}) {
		t.Errorf("Bounds across spans: got %+v", got)
	}
	if got := layer.TextIn(document.Rect{X: 0, Y: 5, Width: 10, Height: 10}); got != "hello again" {
		t.Errorf("TextIn: got %q", got)
	}
	if !(document.TextLayer{}).Empty() {
		t.Error("Zero layer should be empty")
	}
}
