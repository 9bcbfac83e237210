// Package backends holds the format plugins bundled with the viewer
package backends

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/drummonds/goviewer/config"
	"github.com/drummonds/goviewer/document"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Bundle is the set of bundled backends plus the shared resources some of them hold
type Bundle struct {
	Backends []*document.Backend
	pdfium   *Pdfium
}

// DefaultBackends builds every bundled backend in default preference order
func DefaultBackends(cfg config.ViewerConfig) *Bundle {
	pdfium := NewPdfium(cfg.PdfiumWorkers)
	return &Bundle{
		Backends: []*document.Backend{
			MuPDF(),
			pdfium.Backend(),
			ComicBook(ComicBookOptions{OCR: cfg.OCREnabled, OCRLanguage: cfg.OCRLanguage}),
			PlainText(PlainTextOptions{LinesPerPage: cfg.TextLinesPerPage, Columns: cfg.TextColumns}),
		},
		pdfium: pdfium,
	}
}

// RegisterAll adds every backend of the bundle to registry
func (b *Bundle) RegisterAll(registry *document.Registry) error {
	var errs []error
	for _, backend := range b.Backends {
		if err := registry.Register(backend); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases shared backend resources. Documents opened by the bundle must be closed first.
func (b *Bundle) Close() error {
	if b.pdfium != nil {
		return b.pdfium.Close()
	}
	return nil
}

// recoverPanic turns a panic raised by a parsing library into an error
func recoverPanic(backend string, err *error) {
	if r := recover(); r != nil {
		Logger.Error("Recovered from panic in backend", "backend", backend, "panic", r)
		*err = fmt.Errorf("%s: %v", backend, r)
	}
}

func checkIndex(index, count int) error {
	if index < 0 || index >= count {
		return fmt.Errorf("%w: %d", document.ErrIndexOutOfRange, index)
	}
	return nil
}
