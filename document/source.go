package document

import (
	"context"
	"image"
)

// Source is what a backend produces for one opened file. Calls for a single Source are
// serialized by Document unless the Source also implements Concurrent.
type Source interface {
	// PageCount is fixed for the lifetime of the source
	PageCount() int
	// PageSize returns the intrinsic size of a page in document units
	PageSize(index int) (Size, error)
	// RenderPage rasterizes a whole unrotated page at zoom. It may block for a long time and
	// should give up early when ctx is cancelled if the backend can.
	RenderPage(ctx context.Context, index int, zoom float64) (image.Image, error)
	// PageText extracts the text of a page. Backends without text return an empty layer.
	PageText(ctx context.Context, index int) (TextLayer, error)
	Metadata() Metadata
	Close() error
}

// FontLister is implemented by sources that can list the fonts of the document
type FontLister interface {
	Fonts() []FontInfo
}

// OutlineProvider is implemented by sources with a table of contents
type OutlineProvider interface {
	Outline() ([]OutlineItem, error)
}

// Concurrent is implemented by stateless sources that allow parallel calls on different pages
type Concurrent interface {
	Concurrent() bool
}

// OpenFunc opens path and returns a Source or fails
type OpenFunc func(ctx context.Context, path string) (Source, error)

// Backend identifies a format handling plugin
type Backend struct {
	Name string
	// MimeTypes and Extensions are the types the backend claims, most specific first
	MimeTypes  []string
	Extensions []string
	Open       OpenFunc
}
