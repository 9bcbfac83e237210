package backends

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"path"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/drummonds/goviewer/document"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ComicBookOptions control the optional OCR text layer of image only pages
type ComicBookOptions struct {
	OCR         bool
	OCRLanguage string
}

// ComicBook reads zip archives of page images. Pages are decoded independently so a comic book
// source can serve several pages at once.
func ComicBook(opts ComicBookOptions) *document.Backend {
	return &document.Backend{
		Name:       "comicbook",
		MimeTypes:  []string{document.MimeComicZip, document.MimeZip},
		Extensions: []string{".cbz", ".zip"},
		Open: func(ctx context.Context, path string) (document.Source, error) {
			return openComicBook(path, opts)
		},
	}
}

var comicImageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}

type comicPage struct {
	file *zip.File
	size document.Size
}

type comicSource struct {
	archive *zip.ReadCloser
	pages   []comicPage
	meta    document.Metadata
	opts    ComicBookOptions
}

// comicInfo is the subset of ComicInfo.xml the viewer shows
type comicInfo struct {
	Title   string `xml:"Title"`
	Series  string `xml:"Series"`
	Writer  string `xml:"Writer"`
	Summary string `xml:"Summary"`
	Genre   string `xml:"Genre"`
	Year    string `xml:"Year"`
}

func openComicBook(archivePath string, opts ComicBookOptions) (document.Source, error) {
	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open archive: %w", err)
	}
	s := &comicSource{archive: archive, opts: opts}

	var files []*zip.File
	for _, f := range archive.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), "ComicInfo.xml") {
			s.meta = readComicInfo(f)
			continue
		}
		if slices.Contains(comicImageExts, strings.ToLower(path.Ext(f.Name))) {
			files = append(files, f)
		}
	}
	slices.SortFunc(files, func(a, b *zip.File) int { return naturalCompare(a.Name, b.Name) })

	for _, f := range files {
		cfg, err := decodeConfig(f)
		if err != nil {
			Logger.Warn("Skipping unreadable comic page", "archive", archivePath, "entry", f.Name, "error", err)
			continue
		}
		s.pages = append(s.pages, comicPage{file: f, size: document.Size{Width: float64(cfg.Width), Height: float64(cfg.Height)}})
	}
	if len(s.pages) == 0 {
		archive.Close()
		return nil, fmt.Errorf("archive contains no images")
	}
	return s, nil
}

func decodeConfig(f *zip.File) (image.Config, error) {
	r, err := f.Open()
	if err != nil {
		return image.Config{}, err
	}
	defer r.Close()
	cfg, _, err := image.DecodeConfig(r)
	return cfg, err
}

func readComicInfo(f *zip.File) document.Metadata {
	r, err := f.Open()
	if err != nil {
		return document.Metadata{}
	}
	defer r.Close()
	var info comicInfo
	if err := xml.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&info); err != nil {
		Logger.Debug("Ignoring malformed ComicInfo.xml", "error", err)
		return document.Metadata{}
	}
	title := info.Title
	if title == "" {
		title = info.Series
	}
	return document.Metadata{Title: title, Author: info.Writer, Subject: info.Summary, Keywords: info.Genre, Created: info.Year}
}

func (s *comicSource) PageCount() int { return len(s.pages) }

func (s *comicSource) PageSize(index int) (document.Size, error) {
	if err := checkIndex(index, len(s.pages)); err != nil {
		return document.Size{}, err
	}
	return s.pages[index].size, nil
}

func (s *comicSource) decode(index int) (image.Image, error) {
	if err := checkIndex(index, len(s.pages)); err != nil {
		return nil, err
	}
	r, err := s.pages[index].file.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open page %d: %w", index, err)
	}
	defer r.Close()
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("unable to decode page %d: %w", index, err)
	}
	return img, nil
}

func (s *comicSource) RenderPage(ctx context.Context, index int, zoom float64) (image.Image, error) {
	img, err := s.decode(index)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if zoom == 1 {
		return img, nil
	}
	b := img.Bounds()
	width := max(1, int(math.Round(float64(b.Dx())*zoom)))
	height := max(1, int(math.Round(float64(b.Dy())*zoom)))
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

// PageText runs OCR when enabled; comic pages carry no text otherwise
func (s *comicSource) PageText(ctx context.Context, index int) (document.TextLayer, error) {
	if err := checkIndex(index, len(s.pages)); err != nil {
		return document.TextLayer{}, err
	}
	if !s.opts.OCR {
		return document.TextLayer{}, nil
	}
	img, err := s.decode(index)
	if err != nil {
		return document.TextLayer{}, err
	}
	return recognizeText(ctx, img, s.opts.OCRLanguage)
}

func (s *comicSource) Metadata() document.Metadata { return s.meta }

func (s *comicSource) Concurrent() bool { return true }

func (s *comicSource) Close() error { return s.archive.Close() }

// naturalCompare orders page2 before page10
func naturalCompare(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for a != "" && b != "" {
		da, ra := leadingDigits(a)
		db, rb := leadingDigits(b)
		if da != "" && db != "" {
			na := strings.TrimLeft(da, "0")
			nb := strings.TrimLeft(db, "0")
			if len(na) != len(nb) {
				return len(na) - len(nb)
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return int(a[0]) - int(b[0])
		}
		a, b = a[1:], b[1:]
	}
	return len(a) - len(b)
}

func leadingDigits(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}
