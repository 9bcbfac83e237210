package backends

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"slices"
	"strings"
	"unicode"

	"github.com/drummonds/goviewer/document"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// MuPDF renders every format MuPDF understands through go-fitz (requires CGo and MuPDF)
func MuPDF() *document.Backend {
	return &document.Backend{
		Name: "mupdf",
		MimeTypes: []string{
			document.MimePDF, document.MimeEPUB, document.MimeXPS, document.MimeOXPS,
			document.MimeComicZip, document.MimeFB2, document.MimeMOBI,
		},
		Extensions: []string{".pdf", ".epub", ".xps", ".oxps", ".cbz", ".fb2", ".mobi"},
		Open:       openMuPDF,
	}
}

type mupdfSource struct {
	path  string
	doc   *fitz.Document
	pages int
	// text comes from the PDF content streams when the file is a PDF, giving glyph positions
	// that fitz plain text does not expose
	textFile *os.File
	text     *pdf.Reader
}

func openMuPDF(ctx context.Context, path string) (src document.Source, err error) {
	defer recoverPanic("mupdf", &err)

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open document: %w", err)
	}
	s := &mupdfSource{path: path, doc: doc, pages: doc.NumPage()}
	if s.pages <= 0 {
		doc.Close()
		return nil, fmt.Errorf("document has no pages")
	}

	if document.DetectMime(path) == document.MimePDF {
		f, r, perr := openPositionalText(path)
		if perr != nil {
			// fitz reads files the content stream parser rejects; fall back to plain text
			Logger.Debug("PDF text positions unavailable", "path", path, "error", perr)
		} else {
			s.textFile, s.text = f, r
		}
	}
	return s, nil
}

func openPositionalText(path string) (f *os.File, r *pdf.Reader, err error) {
	defer recoverPanic("mupdf", &err)
	f, r, err = pdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if r.NumPage() == 0 {
		f.Close()
		return nil, nil, fmt.Errorf("no pages in content stream reader")
	}
	return f, r, nil
}

func (s *mupdfSource) PageCount() int { return s.pages }

func (s *mupdfSource) PageSize(index int) (document.Size, error) {
	if err := checkIndex(index, s.pages); err != nil {
		return document.Size{}, err
	}
	bounds, err := s.doc.Bound(index)
	if err != nil {
		return document.Size{}, fmt.Errorf("unable to get bounds of page %d: %w", index, err)
	}
	return document.Size{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())}, nil
}

// RenderPage rasterizes at 72 DPI times zoom since page units are points
func (s *mupdfSource) RenderPage(ctx context.Context, index int, zoom float64) (img image.Image, err error) {
	defer recoverPanic("mupdf", &err)
	if err := checkIndex(index, s.pages); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rgba, err := s.doc.ImageDPI(index, 72*zoom)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	return rgba, nil
}

func (s *mupdfSource) PageText(ctx context.Context, index int) (layer document.TextLayer, err error) {
	defer recoverPanic("mupdf", &err)
	if err := checkIndex(index, s.pages); err != nil {
		return document.TextLayer{}, err
	}
	if s.text != nil && index < s.text.NumPage() {
		layer := pdfPageText(s.text.Page(index + 1))
		if !layer.Empty() {
			return layer, nil
		}
	}

	text, err := s.doc.Text(index)
	if err != nil {
		return document.TextLayer{}, fmt.Errorf("unable to extract text of page %d: %w", index, err)
	}
	size, err := s.PageSize(index)
	if err != nil {
		return document.TextLayer{}, err
	}
	return bandedText(text, size), nil
}

func (s *mupdfSource) Metadata() document.Metadata {
	m := s.doc.Metadata()
	return document.Metadata{
		Title:    m["title"],
		Author:   m["author"],
		Subject:  m["subject"],
		Keywords: m["keywords"],
		Creator:  m["creator"],
		Producer: m["producer"],
		Created:  m["creationDate"],
		Modified: m["modDate"],
	}
}

func (s *mupdfSource) Outline() ([]document.OutlineItem, error) {
	toc, err := s.doc.ToC()
	if err != nil {
		// most documents have no outline at all
		return nil, nil
	}
	items := make([]document.OutlineItem, 0, len(toc))
	for _, entry := range toc {
		items = append(items, document.OutlineItem{Level: entry.Level, Title: entry.Title, Page: entry.Page})
	}
	return items, nil
}

// Fonts lists the base fonts referenced by every page of a PDF
func (s *mupdfSource) Fonts() (fonts []document.FontInfo) {
	if s.text == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Warn("Unable to list fonts", "path", s.path, "panic", r)
		}
	}()
	seen := make(map[string]bool)
	for i := 1; i <= s.text.NumPage(); i++ {
		page := s.text.Page(i)
		for _, name := range page.Fonts() {
			font := page.Font(name)
			base := font.BaseFont()
			if base == "" || seen[base] {
				continue
			}
			seen[base] = true
			fonts = append(fonts, document.FontInfo{Name: base, Embedded: fontEmbedded(font.V)})
		}
	}
	slices.SortFunc(fonts, func(a, b document.FontInfo) int { return strings.Compare(a.Name, b.Name) })
	return fonts
}

func fontEmbedded(font pdf.Value) bool {
	descriptor := font.Key("FontDescriptor")
	if descriptor.IsNull() {
		descriptor = font.Key("DescendantFonts").Index(0).Key("FontDescriptor")
	}
	for _, key := range []string{"FontFile", "FontFile2", "FontFile3"} {
		if !descriptor.Key(key).IsNull() {
			return true
		}
	}
	return false
}

func (s *mupdfSource) Close() error {
	if s.textFile != nil {
		s.textFile.Close()
	}
	return s.doc.Close()
}

// pdfPageText groups the glyphs of a content stream into words and lines. PDF y grows upwards
// so rectangles are flipped against the media box height.
func pdfPageText(page pdf.Page) document.TextLayer {
	if page.V.IsNull() {
		return document.TextLayer{}
	}
	height := page.MediaBox().Index(3).Float64() - page.MediaBox().Index(1).Float64()
	var b document.TextBuilder

	var word strings.Builder
	var wordRect document.Rect
	var lineY, prevEnd float64
	first := true
	flush := func() {
		if word.Len() > 0 {
			b.Add(word.String(), wordRect)
			word.Reset()
			wordRect = document.Rect{}
		}
	}

	for _, glyph := range page.Content().Text {
		size := glyph.FontSize
		if size <= 0 {
			size = 10
		}
		switch {
		case first:
			first = false
		case math.Abs(glyph.Y-lineY) > size/2:
			flush()
			b.Separator("\n")
		case glyph.X-prevEnd > size/4:
			flush()
			b.Separator(" ")
		}
		lineY = glyph.Y
		prevEnd = glyph.X + glyph.W

		if strings.TrimFunc(glyph.S, unicode.IsSpace) == "" {
			flush()
			b.Separator(" ")
			continue
		}
		word.WriteString(glyph.S)
		wordRect = wordRect.Union(document.Rect{X: glyph.X, Y: height - glyph.Y - size, Width: glyph.W, Height: size})
	}
	flush()
	return b.Layer()
}

// bandedText lays plain text lines out as equal horizontal bands when positions are unknown
func bandedText(text string, size document.Size) document.TextLayer {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || size.Height <= 0 {
		return document.TextLayer{}
	}
	band := size.Height / float64(len(lines))
	var b document.TextBuilder
	for i, line := range lines {
		b.Separator("\n")
		b.Add(line, document.Rect{X: 0, Y: float64(i) * band, Width: size.Width, Height: band})
	}
	return b.Layer()
}
