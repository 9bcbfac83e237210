package document

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
)

// Document is an opened file. It exclusively owns its pages and the backend source behind them.
type Document struct {
	id       ulid.ULID
	path     string
	mimeType string
	backend  string

	src        Source
	concurrent bool
	pageCount  int
	pages      []*Page

	// every backend call holds callMu shared, and serial too for sources that are not Concurrent.
	// Close takes callMu exclusively so backend resources are never released under a running call.
	callMu sync.RWMutex
	serial sync.Mutex
	closed atomic.Bool

	hookMu     sync.Mutex
	closeHooks []func(ulid.ULID)
	hooksRun   bool
}

// Page is a stable (document, index) pair
type Page struct {
	doc   *Document
	index int
}

func newDocument(id ulid.ULID, path, mimeType, backend string, src Source) *Document {
	doc := &Document{
		id:        id,
		path:      path,
		mimeType:  mimeType,
		backend:   backend,
		src:       src,
		pageCount: src.PageCount(),
	}
	if c, ok := src.(Concurrent); ok && c.Concurrent() {
		doc.concurrent = true
	}
	if doc.pageCount < 0 {
		doc.pageCount = 0
	}
	doc.pages = make([]*Page, doc.pageCount)
	for i := range doc.pages {
		doc.pages[i] = &Page{doc: doc, index: i}
	}
	return doc
}

// ID is the opaque identity used in render keys
func (d *Document) ID() ulid.ULID { return d.id }

// Path of the opened file
func (d *Document) Path() string { return d.path }

// MimeType detected when the document was opened
func (d *Document) MimeType() string { return d.mimeType }

// BackendName of the backend that opened the document
func (d *Document) BackendName() string { return d.backend }

// PageCount is constant for the lifetime of the document
func (d *Document) PageCount() int { return d.pageCount }

// Closed reports whether Close has been called
func (d *Document) Closed() bool { return d.closed.Load() }

// GetPage returns the page at a zero based index
func (d *Document) GetPage(index int) (*Page, error) {
	if d.closed.Load() {
		return nil, ErrDocumentClosed
	}
	if index < 0 || index >= d.pageCount {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, d.pageCount)
	}
	return d.pages[index], nil
}

// Metadata returns the backend supplied metadata
func (d *Document) Metadata() (Metadata, error) {
	release, err := d.acquire()
	if err != nil {
		return Metadata{}, err
	}
	meta := d.src.Metadata()
	release()
	if d.closed.Load() {
		return Metadata{}, ErrDocumentClosed
	}
	return meta, nil
}

// Fonts lists document fonts if the backend knows them
func (d *Document) Fonts() ([]FontInfo, error) {
	release, err := d.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if lister, ok := d.src.(FontLister); ok {
		return lister.Fonts(), nil
	}
	return nil, nil
}

// Outline returns the table of contents, empty when the backend has none
func (d *Document) Outline() ([]OutlineItem, error) {
	release, err := d.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if provider, ok := d.src.(OutlineProvider); ok {
		return provider.Outline()
	}
	return nil, nil
}

// OnClose registers a hook run synchronously by Close before backend resources are released.
// A hook registered once Close has run its hooks is called straight away.
func (d *Document) OnClose(hook func(ulid.ULID)) {
	d.hookMu.Lock()
	if !d.hooksRun {
		d.closeHooks = append(d.closeHooks, hook)
		d.hookMu.Unlock()
		return
	}
	d.hookMu.Unlock()
	hook(d.id)
}

// Close invalidates every page and derived render, then releases the backend. It waits for a
// backend call already in progress to return.
func (d *Document) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.hookMu.Lock()
	hooks := d.closeHooks
	d.closeHooks = nil
	d.hooksRun = true
	d.hookMu.Unlock()
	for _, hook := range hooks {
		hook(d.id)
	}

	d.callMu.Lock()
	defer d.callMu.Unlock()
	Logger.Debug("Closing document", "id", d.id, "path", d.path, "backend", d.backend)
	return d.src.Close()
}

// acquire enters a backend call. The returned release must be called when it is done.
func (d *Document) acquire() (func(), error) {
	d.callMu.RLock()
	if d.closed.Load() {
		d.callMu.RUnlock()
		return nil, ErrDocumentClosed
	}
	if d.concurrent {
		return d.callMu.RUnlock, nil
	}
	d.serial.Lock()
	if d.closed.Load() {
		d.serial.Unlock()
		d.callMu.RUnlock()
		return nil, ErrDocumentClosed
	}
	return func() {
		d.serial.Unlock()
		d.callMu.RUnlock()
	}, nil
}

// Document returns the identity of the owning document
func (p *Page) Document() ulid.ULID { return p.doc.id }

// Index is the zero based page index
func (p *Page) Index() int { return p.index }

// IntrinsicSize is the page size in document units, independent of zoom
func (p *Page) IntrinsicSize() (Size, error) {
	release, err := p.doc.acquire()
	if err != nil {
		return Size{}, err
	}
	size, err := p.doc.src.PageSize(p.index)
	release()
	if err != nil {
		return Size{}, err
	}
	if p.doc.closed.Load() {
		return Size{}, ErrDocumentClosed
	}
	return size, nil
}

// Render rasterizes the page. This is the slow call the render scheduler runs on its workers.
func (p *Page) Render(ctx context.Context, zoom float64, rotation Rotation, region image.Rectangle) (image.Image, error) {
	req, err := RenderRequest{Document: p.doc.id, Page: p.index, Zoom: zoom, Rotation: rotation, Region: region}.Normalize()
	if err != nil {
		return nil, err
	}
	release, err := p.doc.acquire()
	if err != nil {
		return nil, err
	}
	img, err := p.doc.src.RenderPage(ctx, p.index, req.Zoom)
	release()
	if err != nil {
		return nil, err
	}
	if p.doc.closed.Load() {
		return nil, ErrDocumentClosed
	}
	if img == nil {
		return nil, fmt.Errorf("backend %s returned no image for page %d", p.doc.backend, p.index)
	}
	return transform(img, req.Rotation, req.Region)
}

// ExtractText returns the text layer of the page
func (p *Page) ExtractText(ctx context.Context) (TextLayer, error) {
	release, err := p.doc.acquire()
	if err != nil {
		return TextLayer{}, err
	}
	layer, err := p.doc.src.PageText(ctx, p.index)
	release()
	if err != nil {
		return TextLayer{}, err
	}
	if p.doc.closed.Load() {
		return TextLayer{}, ErrDocumentClosed
	}
	return layer, nil
}

// transform rotates clockwise and crops to region. imaging rotates counter-clockwise.
func transform(img image.Image, rotation Rotation, region image.Rectangle) (image.Image, error) {
	switch rotation {
	case Rotate90:
		img = imaging.Rotate270(img)
	case Rotate180:
		img = imaging.Rotate180(img)
	case Rotate270:
		img = imaging.Rotate90(img)
	}
	if region.Empty() {
		return img, nil
	}
	bounds := img.Bounds()
	clip := region.Add(bounds.Min).Intersect(bounds)
	if clip.Empty() {
		return nil, fmt.Errorf("%w: %v not within %v", ErrInvalidRegion, region, bounds.Sub(bounds.Min))
	}
	return imaging.Crop(img, clip), nil
}
