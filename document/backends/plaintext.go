package backends

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/drummonds/goviewer/document"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PlainTextOptions set the page geometry of reflowed text documents
type PlainTextOptions struct {
	LinesPerPage int
	Columns      int
}

const (
	textMargin     = 16
	glyphAdvance   = 7
	lineHeight     = 13
	defaultLines   = 60
	defaultColumns = 80
	tabWidth       = 4
	maxTextFileLen = 64 << 20
)

// PlainText lays text and markdown files out as fixed pitch pages
func PlainText(opts PlainTextOptions) *document.Backend {
	if opts.LinesPerPage <= 0 {
		opts.LinesPerPage = defaultLines
	}
	if opts.Columns <= 0 {
		opts.Columns = defaultColumns
	}
	return &document.Backend{
		Name:       "plaintext",
		MimeTypes:  []string{document.MimePlainText, document.MimeMarkdown},
		Extensions: []string{".txt", ".text", ".md", ".markdown"},
		Open: func(ctx context.Context, path string) (document.Source, error) {
			return openPlainText(path, opts)
		},
	}
}

type textSource struct {
	opts  PlainTextOptions
	pages [][]string
	meta  document.Metadata
}

func openPlainText(path string, opts PlainTextOptions) (document.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxTextFileLen {
		return nil, fmt.Errorf("text file too large: %d bytes", info.Size())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("file is not UTF-8 text")
	}

	s := &textSource{opts: opts}
	body := string(raw)
	if document.DetectMime(path) == document.MimeMarkdown {
		body, s.meta.Title = markdownText(raw)
	}
	lines := wrapLines(body, opts.Columns)
	for len(lines) > opts.LinesPerPage {
		s.pages = append(s.pages, lines[:opts.LinesPerPage])
		lines = lines[opts.LinesPerPage:]
	}
	if len(lines) > 0 || len(s.pages) == 0 {
		s.pages = append(s.pages, lines)
	}
	return s, nil
}

// markdownText flattens markdown into readable lines and returns the first heading as a title
func markdownText(source []byte) (string, string) {
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(source))

	var out strings.Builder
	var title string
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindListItem && n.Kind() != ast.KindDocument {
				out.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if title == "" {
				title = string(headingText(node, source))
			}
		case *ast.ListItem:
			out.WriteString("- ")
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				out.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			out.Write(node.Segment.Value(source))
			if node.HardLineBreak() {
				out.WriteString("\n")
			} else if node.SoftLineBreak() {
				out.WriteString(" ")
			}
		case *ast.String:
			out.Write(node.Value)
		case *ast.AutoLink:
			out.Write(node.URL(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimRight(out.String(), "\n"), title
}

func headingText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			buf.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return buf.Bytes()
}

// wrapLines expands tabs and breaks lines at spaces so none exceeds columns runes
func wrapLines(body string, columns int) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\t", strings.Repeat(" ", tabWidth))
	if strings.TrimSpace(body) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		runes := []rune(strings.TrimRight(line, " "))
		for len(runes) > columns {
			cut := columns
			for i := columns; i > columns/2; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
			out = append(out, strings.TrimRight(string(runes[:cut]), " "))
			runes = runes[cut:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		out = append(out, string(runes))
	}
	return out
}

func (s *textSource) PageCount() int { return len(s.pages) }

func (s *textSource) PageSize(index int) (document.Size, error) {
	if err := checkIndex(index, len(s.pages)); err != nil {
		return document.Size{}, err
	}
	return document.Size{
		Width:  float64(2*textMargin + s.opts.Columns*glyphAdvance),
		Height: float64(2*textMargin + s.opts.LinesPerPage*lineHeight),
	}, nil
}

// RenderPage draws the page with the 7x13 bitmap face then scales it. Output depends only on
// the page and zoom so repeated renders are bit identical.
func (s *textSource) RenderPage(ctx context.Context, index int, zoom float64) (image.Image, error) {
	size, err := s.PageSize(index)
	if err != nil {
		return nil, err
	}
	page := image.NewRGBA(image.Rect(0, 0, int(size.Width), int(size.Height)))
	draw.Draw(page, page.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	drawer := &font.Drawer{Dst: page, Src: image.NewUniform(color.Black), Face: basicfont.Face7x13}
	for i, line := range s.pages[index] {
		if i%16 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		drawer.Dot = fixed.P(textMargin, textMargin+i*lineHeight+basicfont.Face7x13.Ascent)
		drawer.DrawString(line)
	}
	if zoom == 1 {
		return page, nil
	}
	width := max(1, int(math.Round(size.Width*zoom)))
	height := max(1, int(math.Round(size.Height*zoom)))
	return imaging.Resize(page, width, height, imaging.Linear), nil
}

// PageText returns one span per word positioned on the character grid
func (s *textSource) PageText(ctx context.Context, index int) (document.TextLayer, error) {
	if err := checkIndex(index, len(s.pages)); err != nil {
		return document.TextLayer{}, err
	}
	var b document.TextBuilder
	for i, line := range s.pages[index] {
		b.Separator("\n")
		col := 0
		for _, word := range strings.SplitAfter(line, " ") {
			trimmed := strings.TrimRight(word, " ")
			n := utf8.RuneCountInString(trimmed)
			if n > 0 {
				b.Add(trimmed, document.Rect{
					X:      float64(textMargin + col*glyphAdvance),
					Y:      float64(textMargin + i*lineHeight),
					Width:  float64(n * glyphAdvance),
					Height: lineHeight,
				})
			}
			if len(trimmed) < len(word) {
				b.Separator(word[len(trimmed):])
			}
			col += utf8.RuneCountInString(word)
		}
	}
	return b.Layer(), nil
}

func (s *textSource) Metadata() document.Metadata { return s.meta }

func (s *textSource) Concurrent() bool { return true }

func (s *textSource) Close() error { return nil }
