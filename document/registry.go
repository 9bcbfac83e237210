package document

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Preferences orders backends. Order lists backend names most preferred first; backends not
// listed keep registration order after the listed ones. Overrides pins one backend per mime
// type and wins over Order.
type Preferences struct {
	Order     []string
	Overrides map[string]string
}

// Registry discovers and ranks backends. Registration happens at startup; afterwards only the
// per mime type overrides change.
type Registry struct {
	mu        sync.RWMutex
	backends  []*Backend
	byName    map[string]*Backend
	order     []string
	overrides map[string]string
}

// NewRegistry creates an empty registry using prefs for ranking
func NewRegistry(prefs Preferences) *Registry {
	overrides := make(map[string]string, len(prefs.Overrides))
	for mimeType, name := range prefs.Overrides {
		overrides[normalizeMime(mimeType)] = name
	}
	return &Registry{
		byName:    make(map[string]*Backend),
		order:     slices.Clone(prefs.Order),
		overrides: overrides,
	}
}

// Register adds a backend. Names are unique.
func (r *Registry) Register(backend *Backend) error {
	if backend == nil || backend.Name == "" || backend.Open == nil {
		return fmt.Errorf("backend needs a name and an open function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[backend.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, backend.Name)
	}
	r.backends = append(r.backends, backend)
	r.byName[backend.Name] = backend
	Logger.Debug("Registered backend", "name", backend.Name, "mimeTypes", backend.MimeTypes)
	return nil
}

// Backends returns every registered backend in registration order
func (r *Registry) Backends() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.backends)
}

// Backend looks a backend up by name
func (r *Registry) Backend(name string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

// SetOverride records a persisted user choice of backend for one mime type. An empty name
// removes the override.
func (r *Registry) SetOverride(mimeType, backendName string) error {
	mimeType = normalizeMime(mimeType)
	r.mu.Lock()
	defer r.mu.Unlock()
	if backendName == "" {
		delete(r.overrides, mimeType)
		return nil
	}
	if _, ok := r.byName[backendName]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, backendName)
	}
	r.overrides[mimeType] = backendName
	return nil
}

// Overrides returns a copy of the current per mime type choices
func (r *Registry) Overrides() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.overrides))
	for k, v := range r.overrides {
		out[k] = v
	}
	return out
}

// Resolve returns every backend claiming the detected type of path, most preferred first.
// mimeHint, when not empty, replaces detection.
func (r *Registry) Resolve(path, mimeHint string) ([]*Backend, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	mimeType := normalizeMime(mimeHint)
	if mimeType == "" {
		mimeType = r.detectLocked(path, ext)
	}

	var candidates []*Backend
	for _, b := range r.backends {
		if claimsMime(b, mimeType) || (mimeHint == "" && claimsExtension(b, ext)) {
			candidates = append(candidates, b)
		}
	}
	r.rankLocked(candidates, mimeType)
	return candidates, mimeType
}

// rankLocked sorts candidates: override first, then configured order, then registration order
func (r *Registry) rankLocked(candidates []*Backend, mimeType string) {
	rank := func(b *Backend) int {
		if r.overrides[mimeType] == b.Name {
			return -1
		}
		if i := slices.Index(r.order, b.Name); i >= 0 {
			return i
		}
		return len(r.order)
	}
	slices.SortStableFunc(candidates, func(a, b *Backend) int {
		return rank(a) - rank(b)
	})
}

// Open tries each candidate backend in order and returns the first document that opens
func (r *Registry) Open(ctx context.Context, path string) (*Document, error) {
	return r.OpenWithHint(ctx, path, "")
}

// OpenWithHint is Open with a declared mime type
func (r *Registry) OpenWithHint(ctx context.Context, path, mimeHint string) (*Document, error) {
	candidates, mimeType := r.Resolve(path, mimeHint)
	openErr := &OpenError{Path: path, MimeType: mimeType}
	if len(candidates) == 0 {
		Logger.Warn("No backend claims document type", "path", path, "mimeType", mimeType)
		return nil, openErr
	}
	for _, backend := range candidates {
		doc, err := r.openWith(ctx, backend, path, mimeType)
		if err == nil {
			return doc, nil
		}
		attempt := &BackendOpenError{Backend: backend.Name, Err: err}
		openErr.Attempts = append(openErr.Attempts, attempt)
		Logger.Warn("Backend failed to open document", "backend", backend.Name, "path", path, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, openErr
}

// OpenWith opens path with one named backend, bypassing ranking
func (r *Registry) OpenWith(ctx context.Context, path, backendName string) (*Document, error) {
	backend, ok := r.Backend(backendName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backendName)
	}
	_, mimeType := r.Resolve(path, "")
	doc, err := r.openWith(ctx, backend, path, mimeType)
	if err != nil {
		Logger.Warn("Backend failed to open document", "backend", backend.Name, "path", path, "error", err)
		return nil, &OpenError{Path: path, MimeType: mimeType, Attempts: []*BackendOpenError{{Backend: backend.Name, Err: err}}}
	}
	return doc, nil
}

func (r *Registry) openWith(ctx context.Context, backend *Backend, path, mimeType string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := backend.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("backend returned no document")
	}
	doc := newDocument(ulid.Make(), path, mimeType, backend.Name, src)
	Logger.Info("Opened document", "id", doc.ID(), "path", path, "backend", backend.Name, "pages", doc.PageCount())
	return doc, nil
}

func claimsMime(b *Backend, mimeType string) bool {
	if mimeType == "" {
		return false
	}
	for _, m := range b.MimeTypes {
		if normalizeMime(m) == mimeType {
			return true
		}
	}
	return false
}

func claimsExtension(b *Backend, ext string) bool {
	if ext == "" {
		return false
	}
	for _, e := range b.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
