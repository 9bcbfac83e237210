package document

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/oklog/ulid/v2"
)

// Rotation is a clockwise page rotation in degrees
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// NormalizeRotation maps any multiple of 90 (negative included) onto 0, 90, 180 or 270
func NormalizeRotation(degrees int) (Rotation, error) {
	if degrees%90 != 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRotation, degrees)
	}
	degrees %= 360
	if degrees < 0 {
		degrees += 360
	}
	return Rotation(degrees), nil
}

// Swapped reports whether the rotation exchanges width and height
func (r Rotation) Swapped() bool {
	return r == Rotate90 || r == Rotate270
}

// MaxZoom is the largest accepted zoom factor
const MaxZoom = 64.0

// zoomQuantum is the granularity of zoom factors inside render keys. Fit-width computations
// that differ only by float rounding land on the same key.
const zoomQuantum = 1024.0

// QuantizeZoom rounds zoom to the key granularity
func QuantizeZoom(zoom float64) float64 {
	return math.Round(zoom*zoomQuantum) / zoomQuantum
}

// Size is an intrinsic page size in document units (points for PDF, pixels for images)
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Scaled returns the pixel size of the page at zoom and rotation
func (s Size) Scaled(zoom float64, rotation Rotation) image.Point {
	w := int(math.Round(s.Width * zoom))
	h := int(math.Round(s.Height * zoom))
	if rotation.Swapped() {
		w, h = h, w
	}
	return image.Pt(w, h)
}

// Rect is a rectangle in document units
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Union returns the smallest rectangle containing both
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0 := math.Min(r.X, o.X)
	y0 := math.Min(r.Y, o.Y)
	x1 := math.Max(r.X+r.Width, o.X+o.Width)
	y1 := math.Max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Intersects reports whether the two rectangles overlap
func (r Rect) Intersects(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.X < o.X+o.Width && o.X < r.X+r.Width && r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// RenderRequest identifies one rendering of one page. Equal normalized requests are the same
// cache entry.
type RenderRequest struct {
	Document ulid.ULID
	Page     int
	Zoom     float64
	Rotation Rotation
	// Region is in output pixel space; the zero rectangle means the whole page
	Region image.Rectangle
}

// NewRenderRequest builds a normalized request
func NewRenderRequest(doc ulid.ULID, page int, zoom float64, rotationDegrees int, region image.Rectangle) (RenderRequest, error) {
	rotation, err := NormalizeRotation(rotationDegrees)
	if err != nil {
		return RenderRequest{}, err
	}
	req := RenderRequest{Document: doc, Page: page, Zoom: zoom, Rotation: rotation, Region: region}
	return req.Normalize()
}

// Normalize quantizes the zoom and canonicalizes the region so equal renders share one key
func (r RenderRequest) Normalize() (RenderRequest, error) {
	if math.IsNaN(r.Zoom) || r.Zoom <= 0 || r.Zoom > MaxZoom {
		return RenderRequest{}, fmt.Errorf("%w: %v", ErrInvalidZoom, r.Zoom)
	}
	rotation, err := NormalizeRotation(int(r.Rotation))
	if err != nil {
		return RenderRequest{}, err
	}
	r.Rotation = rotation
	r.Zoom = QuantizeZoom(r.Zoom)
	if r.Zoom == 0 {
		r.Zoom = 1 / zoomQuantum
	}
	r.Region = r.Region.Canon()
	if r.Region.Empty() {
		r.Region = image.Rectangle{}
	}
	return r, nil
}

// String gives a compact representation for logs
func (r RenderRequest) String() string {
	if r.Region.Empty() {
		return fmt.Sprintf("%s/p%d@%gx/r%d", r.Document, r.Page, r.Zoom, r.Rotation)
	}
	return fmt.Sprintf("%s/p%d@%gx/r%d/%v", r.Document, r.Page, r.Zoom, r.Rotation, r.Region)
}

// Pixmap is a completed render. It is shared by the cache and its readers and never mutated.
type Pixmap struct {
	Request RenderRequest
	Image   image.Image
}

// BytesPerPixel is the memory cost assumed per rendered pixel
const BytesPerPixel = 4

// Cost approximates the resident memory of the pixmap in bytes
func (p *Pixmap) Cost() int64 {
	if p == nil || p.Image == nil {
		return 0
	}
	b := p.Image.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * BytesPerPixel
}

// TextSpan is a run of page text with its location. Start and End are byte offsets into
// TextLayer.Text.
type TextSpan struct {
	Start int  `json:"start"`
	End   int  `json:"end"`
	Rect  Rect `json:"rect"`
}

// TextLayer is the extracted text of one page
type TextLayer struct {
	Text  string     `json:"text"`
	Spans []TextSpan `json:"spans"`
}

// Empty reports whether the page had no extractable text
func (t TextLayer) Empty() bool {
	return len(t.Text) == 0
}

// TextBuilder assembles a TextLayer span by span
type TextBuilder struct {
	buf   []byte
	spans []TextSpan
}

// Add appends s located at rect. Empty strings are ignored.
func (b *TextBuilder) Add(s string, rect Rect) {
	if s == "" {
		return
	}
	start := len(b.buf)
	b.buf = append(b.buf, s...)
	b.spans = append(b.spans, TextSpan{Start: start, End: len(b.buf), Rect: rect})
}

// Separator appends unlocated text such as a newline between lines
func (b *TextBuilder) Separator(s string) {
	if len(b.buf) == 0 {
		return
	}
	b.buf = append(b.buf, s...)
}

// Layer returns the built text layer
func (b *TextBuilder) Layer() TextLayer {
	return TextLayer{Text: string(b.buf), Spans: b.spans}
}

// Bounds returns the union of every span overlapping the byte range [start, end)
func (t TextLayer) Bounds(start, end int) Rect {
	var out Rect
	i := sort.Search(len(t.Spans), func(i int) bool { return t.Spans[i].End > start })
	for ; i < len(t.Spans) && t.Spans[i].Start < end; i++ {
		out = out.Union(t.Spans[i].Rect)
	}
	return out
}

// TextIn returns the text of spans intersecting rect, in text order
func (t TextLayer) TextIn(rect Rect) string {
	var out []byte
	for _, span := range t.Spans {
		if !span.Rect.Intersects(rect) {
			continue
		}
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, t.Text[span.Start:span.End]...)
	}
	return string(out)
}

// Metadata holds optional backend supplied document information
type Metadata struct {
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Keywords string `json:"keywords,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Producer string `json:"producer,omitempty"`
	Created  string `json:"created,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// FontInfo describes a font used by the document
type FontInfo struct {
	Name     string `json:"name"`
	Embedded bool   `json:"embedded"`
}

// OutlineItem is one table of contents entry
type OutlineItem struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Page  int    `json:"page"`
}
