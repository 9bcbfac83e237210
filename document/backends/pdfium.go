package backends

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/goviewer/document"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// Pdfium renders PDFs with go-pdfium running PDFium in WebAssembly (pure Go, no CGo). The
// WebAssembly pool is started on first use and shared by every document it opens.
type Pdfium struct {
	workers int

	once    sync.Once
	pool    pdfium.Pool
	initErr error
}

// NewPdfium creates the backend; workers bounds the number of concurrently open documents
func NewPdfium(workers int) *Pdfium {
	if workers <= 0 {
		workers = 1
	}
	return &Pdfium{workers: workers}
}

// Backend describes the pdfium plugin for the registry
func (p *Pdfium) Backend() *document.Backend {
	return &document.Backend{
		Name:       "pdfium",
		MimeTypes:  []string{document.MimePDF},
		Extensions: []string{".pdf"},
		Open:       p.open,
	}
}

func (p *Pdfium) instance() (pdfium.Pdfium, error) {
	p.once.Do(func() {
		p.pool, p.initErr = webassembly.Init(webassembly.Config{
			MinIdle:  1,
			MaxIdle:  p.workers,
			MaxTotal: p.workers,
		})
		if p.initErr != nil {
			p.initErr = fmt.Errorf("failed to initialize PDFium WebAssembly: %w", p.initErr)
		}
	})
	if p.initErr != nil {
		return nil, p.initErr
	}
	instance, err := p.pool.GetInstance(time.Second * 30)
	if err != nil {
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}
	return instance, nil
}

// Close shuts the WebAssembly pool down
func (p *Pdfium) Close() error {
	if p.pool == nil {
		return nil
	}
	err := p.pool.Close()
	p.pool = nil
	return err
}

type pdfiumSource struct {
	instance pdfium.Pdfium
	doc      references.FPDF_DOCUMENT
	pages    int
	sizes    []document.Size
}

func (p *Pdfium) open(ctx context.Context, path string) (document.Source, error) {
	pdfBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}
	instance, err := p.instance()
	if err != nil {
		return nil, err
	}
	doc, err := instance.OpenDocument(&requests.OpenDocument{File: &pdfBytes})
	if err != nil {
		instance.Close()
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	s := &pdfiumSource{instance: instance, doc: doc.Document}

	pageCount, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: doc.Document})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}
	s.pages = pageCount.PageCount
	if s.pages <= 0 {
		s.Close()
		return nil, fmt.Errorf("document has no pages")
	}
	s.sizes = make([]document.Size, s.pages)
	return s, nil
}

func (s *pdfiumSource) page(index int) requests.Page {
	return requests.Page{ByIndex: &requests.PageByIndex{Document: s.doc, Index: index}}
}

func (s *pdfiumSource) PageCount() int { return s.pages }

func (s *pdfiumSource) PageSize(index int) (document.Size, error) {
	if err := checkIndex(index, s.pages); err != nil {
		return document.Size{}, err
	}
	if cached := s.sizes[index]; cached.Width > 0 {
		return cached, nil
	}
	resp, err := s.instance.GetPageSize(&requests.GetPageSize{Page: s.page(index)})
	if err != nil {
		return document.Size{}, fmt.Errorf("unable to get size of page %d: %w", index, err)
	}
	size := document.Size{Width: resp.Width, Height: resp.Height}
	s.sizes[index] = size
	return size, nil
}

func (s *pdfiumSource) RenderPage(ctx context.Context, index int, zoom float64) (image.Image, error) {
	size, err := s.PageSize(index)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width := max(1, int(math.Round(size.Width*zoom)))
	height := max(1, int(math.Round(size.Height*zoom)))
	pageRender, err := s.instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Width:  width,
		Height: height,
		Page:   s.page(index),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	// the bitmap belongs to the WebAssembly instance until Cleanup
	img := imaging.Clone(pageRender.Result.Image)
	pageRender.Cleanup()
	return img, nil
}

func (s *pdfiumSource) PageText(ctx context.Context, index int) (document.TextLayer, error) {
	size, err := s.PageSize(index)
	if err != nil {
		return document.TextLayer{}, err
	}
	resp, err := s.instance.GetPageTextStructured(&requests.GetPageTextStructured{
		Page: s.page(index),
		Mode: requests.GetPageTextStructuredModeRects,
	})
	if err != nil {
		return document.TextLayer{}, fmt.Errorf("unable to extract text of page %d: %w", index, err)
	}
	var b document.TextBuilder
	var lastBottom float64
	for i, rect := range resp.Rects {
		pos := rect.PointPosition
		if i > 0 {
			if math.Abs(pos.Bottom-lastBottom) > (pos.Top-pos.Bottom)/2 {
				b.Separator("\n")
			} else {
				b.Separator(" ")
			}
		}
		lastBottom = pos.Bottom
		b.Add(rect.Text, document.Rect{
			X:      pos.Left,
			Y:      size.Height - pos.Top,
			Width:  pos.Right - pos.Left,
			Height: pos.Top - pos.Bottom,
		})
	}
	return b.Layer(), nil
}

func (s *pdfiumSource) Metadata() document.Metadata {
	tag := func(name string) string {
		resp, err := s.instance.FPDF_GetMetaText(&requests.FPDF_GetMetaText{Document: s.doc, Tag: name})
		if err != nil {
			return ""
		}
		return resp.Value
	}
	return document.Metadata{
		Title:    tag("Title"),
		Author:   tag("Author"),
		Subject:  tag("Subject"),
		Keywords: tag("Keywords"),
		Creator:  tag("Creator"),
		Producer: tag("Producer"),
		Created:  tag("CreationDate"),
		Modified: tag("ModDate"),
	}
}

func (s *pdfiumSource) Close() error {
	s.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: s.doc})
	return s.instance.Close()
}
