package document_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/document/doctest"
)

func namedBackend(name string, exts []string, mimes []string, open document.OpenFunc) *document.Backend {
	return &document.Backend{Name: name, Extensions: exts, MimeTypes: mimes, Open: open}
}

func openFake(pages int) document.OpenFunc {
	return func(ctx context.Context, path string) (document.Source, error) {
		return &doctest.Source{Pages: pages}, nil
	}
}

func failOpen(msg string) document.OpenFunc {
	return func(ctx context.Context, path string) (document.Source, error) {
		return nil, errors.New(msg)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func names(backends []*document.Backend) []string {
	out := make([]string, 0, len(backends))
	for _, b := range backends {
		out = append(out, b.Name)
	}
	return out
}

func TestRegisterDuplicate(t *testing.T) {
	r := document.NewRegistry(document.Preferences{})
	if err := r.Register(namedBackend("a", []string{".pdf"}, nil, openFake(1))); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	err := r.Register(namedBackend("a", []string{".cbz"}, nil, openFake(1)))
	if !errors.Is(err, document.ErrDuplicateBackend) {
		t.Fatalf("Expected ErrDuplicateBackend, got %v", err)
	}
	if got := len(r.Backends()); got != 1 {
		t.Errorf("Expected 1 backend after duplicate, got %d", got)
	}
}

func TestResolveOrdering(t *testing.T) {
	t.Run("registration order without preferences", func(t *testing.T) {
		r := document.NewRegistry(document.Preferences{})
		r.Register(namedBackend("a", []string{".cbz"}, []string{document.MimeComicZip}, openFake(1)))
		r.Register(namedBackend("b", []string{".cbz"}, []string{document.MimeComicZip}, openFake(1)))
		r.Register(namedBackend("c", []string{".pdf"}, []string{document.MimePDF}, openFake(1)))

		got, mimeType := r.Resolve("/books/x.cbz", "")
		if mimeType != document.MimeComicZip {
			t.Errorf("Expected mime %s, got %s", document.MimeComicZip, mimeType)
		}
		if strings.Join(names(got), ",") != "a,b" {
			t.Errorf("Expected a,b got %v", names(got))
		}
	})

	t.Run("configured order", func(t *testing.T) {
		r := document.NewRegistry(document.Preferences{Order: []string{"b"}})
		r.Register(namedBackend("a", []string{".cbz"}, nil, openFake(1)))
		r.Register(namedBackend("b", []string{".cbz"}, nil, openFake(1)))
		got, _ := r.Resolve("x.cbz", "")
		if strings.Join(names(got), ",") != "b,a" {
			t.Errorf("Expected b,a got %v", names(got))
		}
	})

	t.Run("override wins over registration order", func(t *testing.T) {
		r := document.NewRegistry(document.Preferences{Order: []string{"a", "b"}})
		r.Register(namedBackend("a", []string{".cbz"}, []string{document.MimeComicZip}, openFake(1)))
		r.Register(namedBackend("b", []string{".cbz"}, []string{document.MimeComicZip}, openFake(2)))
		if err := r.SetOverride(document.MimeComicZip, "b"); err != nil {
			t.Fatalf("Failed to set override: %v", err)
		}
		got, _ := r.Resolve("x.cbz", "")
		if names(got)[0] != "b" {
			t.Fatalf("Expected b first, got %v", names(got))
		}

		path := writeFile(t, "comic.cbz", "zip")
		doc, err := r.Open(context.Background(), path)
		if err != nil {
			t.Fatalf("Failed to open: %v", err)
		}
		defer doc.Close()
		if doc.BackendName() != "b" {
			t.Errorf("Expected document opened by b, got %s", doc.BackendName())
		}
		if doc.PageCount() != 2 {
			t.Errorf("Expected 2 pages, got %d", doc.PageCount())
		}
	})

	t.Run("override of unknown backend", func(t *testing.T) {
		r := document.NewRegistry(document.Preferences{})
		if err := r.SetOverride(document.MimePDF, "nobody"); !errors.Is(err, document.ErrUnknownBackend) {
			t.Errorf("Expected ErrUnknownBackend, got %v", err)
		}
	})

	t.Run("clearing an override", func(t *testing.T) {
		r := document.NewRegistry(document.Preferences{Overrides: map[string]string{"Application/PDF": "b"}})
		if r.Overrides()[document.MimePDF] != "b" {
			t.Fatalf("Expected normalized override, got %v", r.Overrides())
		}
		r.SetOverride(document.MimePDF, "")
		if len(r.Overrides()) != 0 {
			t.Errorf("Expected no overrides, got %v", r.Overrides())
		}
	})

	t.Run("mime hint replaces detection", func(t *testing.T) {
		r := document.NewRegistry(document.Preferences{})
		r.Register(namedBackend("pdf", []string{".pdf"}, []string{document.MimePDF}, openFake(1)))
		r.Register(namedBackend("text", []string{".txt"}, []string{document.MimePlainText}, openFake(1)))
		got, mimeType := r.Resolve("notes.pdf", "text/plain; charset=utf-8")
		if mimeType != document.MimePlainText || strings.Join(names(got), ",") != "text" {
			t.Errorf("Expected text backend for hint, got %v (%s)", names(got), mimeType)
		}
	})
}

func TestOpenFallsThrough(t *testing.T) {
	r := document.NewRegistry(document.Preferences{})
	r.Register(namedBackend("broken", []string{".pdf"}, []string{document.MimePDF}, failOpen("bad xref")))
	r.Register(namedBackend("good", []string{".pdf"}, []string{document.MimePDF}, openFake(3)))

	doc, err := r.Open(context.Background(), writeFile(t, "a.pdf", "%PDF-1.4"))
	if err != nil {
		t.Fatalf("Expected fallback to second backend, got %v", err)
	}
	defer doc.Close()
	if doc.BackendName() != "good" {
		t.Errorf("Expected good backend, got %s", doc.BackendName())
	}
}

func TestOpenAggregateFailure(t *testing.T) {
	r := document.NewRegistry(document.Preferences{})
	r.Register(namedBackend("one", []string{".pdf"}, []string{document.MimePDF}, failOpen("bad xref")))
	r.Register(namedBackend("two", []string{".pdf"}, []string{document.MimePDF}, failOpen("encrypted")))

	_, err := r.Open(context.Background(), writeFile(t, "a.pdf", "%PDF-1.4"))
	if !errors.Is(err, document.ErrNoBackendAvailable) {
		t.Fatalf("Expected ErrNoBackendAvailable, got %v", err)
	}
	var openErr *document.OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected *OpenError, got %T", err)
	}
	if len(openErr.Attempts) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(openErr.Attempts))
	}
	if !strings.Contains(err.Error(), "bad xref") || !strings.Contains(err.Error(), "encrypted") {
		t.Errorf("Expected both reasons in %q", err.Error())
	}

	t.Run("unclaimed type", func(t *testing.T) {
		_, err := r.Open(context.Background(), writeFile(t, "a.djvu", "AT&T"))
		if !errors.Is(err, document.ErrNoBackendAvailable) {
			t.Errorf("Expected ErrNoBackendAvailable, got %v", err)
		}
	})
}

func TestOpenWith(t *testing.T) {
	r := document.NewRegistry(document.Preferences{})
	r.Register(namedBackend("a", []string{".pdf"}, []string{document.MimePDF}, openFake(1)))
	r.Register(namedBackend("b", []string{".pdf"}, []string{document.MimePDF}, openFake(4)))
	path := writeFile(t, "a.pdf", "%PDF-1.4")

	doc, err := r.OpenWith(context.Background(), path, "b")
	if err != nil {
		t.Fatalf("Failed to open with b: %v", err)
	}
	defer doc.Close()
	if doc.BackendName() != "b" || doc.PageCount() != 4 {
		t.Errorf("Expected b with 4 pages, got %s with %d", doc.BackendName(), doc.PageCount())
	}
	if _, err := r.OpenWith(context.Background(), path, "zzz"); !errors.Is(err, document.ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}

func TestDetectMime(t *testing.T) {
	cases := map[string]string{
		"a.PDF":      document.MimePDF,
		"b.cbz":      document.MimeComicZip,
		"c.md":       document.MimeMarkdown,
		"d.epub":     document.MimeEPUB,
		"e.txt":      document.MimePlainText,
		"f.markdown": document.MimeMarkdown,
	}
	for name, want := range cases {
		if got := document.DetectMime(name); got != want {
			t.Errorf("DetectMime(%s) = %s, want %s", name, got, want)
		}
	}

	t.Run("sniff without extension", func(t *testing.T) {
		path := writeFile(t, "noext", "%PDF-1.7\n1 0 obj")
		if got := document.DetectMime(path); got != document.MimePDF {
			t.Errorf("Expected sniffed %s, got %s", document.MimePDF, got)
		}
	})
}
