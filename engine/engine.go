// Package engine exposes the viewer core over HTTP and runs its periodic maintenance
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/drummonds/goviewer/config"
	"github.com/drummonds/goviewer/database"
	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/render"
	"github.com/drummonds/goviewer/search"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// errUnknownDocument is returned for ids that name no open document
var errUnknownDocument = errors.New("unknown document")

// ViewerHandler will inject the viewer services needed into routes
type ViewerHandler struct {
	DB        database.Repository
	Echo      *echo.Echo
	Config    config.ViewerConfig
	Registry  *document.Registry
	Scheduler *render.Scheduler
	Search    *search.Engine

	mu   sync.RWMutex
	docs map[ulid.ULID]*document.Document
}

// NewViewerHandler wires the viewer services together. Routes are added by RegisterRoutes.
func NewViewerHandler(e *echo.Echo, db database.Repository, cfg config.ViewerConfig, registry *document.Registry, scheduler *render.Scheduler, searchEngine *search.Engine) *ViewerHandler {
	return &ViewerHandler{
		DB:        db,
		Echo:      e,
		Config:    cfg,
		Registry:  registry,
		Scheduler: scheduler,
		Search:    searchEngine,
		docs:      make(map[ulid.ULID]*document.Document),
	}
}

// RegisterRoutes adds every API route, all under /api
func (h *ViewerHandler) RegisterRoutes() {
	e := h.Echo

	e.GET("/api/health", h.Health)
	e.GET("/api/stats", h.GetStats)
	e.POST("/api/maintenance", h.RunMaintenanceNow)

	// Backends and remembered choices
	e.GET("/api/backends", h.ListBackends)
	e.GET("/api/preferences/backends", h.GetBackendPreferences)
	e.PUT("/api/preferences/backends", h.SetBackendPreference)
	e.DELETE("/api/preferences/backends", h.DeleteBackendPreference)

	// Documents
	e.POST("/api/documents", h.OpenDocument)
	e.GET("/api/documents", h.ListDocuments)
	e.GET("/api/documents/:id", h.GetDocument)
	e.DELETE("/api/documents/:id", h.CloseDocument)

	// Pages
	e.GET("/api/documents/:id/pages/:page", h.GetPage)
	e.GET("/api/documents/:id/pages/:page/render", h.RenderPage)
	e.GET("/api/documents/:id/pages/:page/text", h.GetPageText)

	// Search
	e.GET("/api/documents/:id/search", h.SearchDocument)
	e.DELETE("/api/documents/:id/search", h.CancelSearch)

	// Persistence
	e.GET("/api/recent", h.GetRecentFiles)
	e.GET("/api/bookmarks", h.GetBookmarks)
	e.POST("/api/bookmarks", h.AddBookmark)
	e.DELETE("/api/bookmarks/:id", h.DeleteBookmark)
	e.GET("/api/annotations", h.GetAnnotations)
	e.POST("/api/annotations", h.SaveAnnotation)
	e.PUT("/api/annotations/:id", h.SaveAnnotation)
	e.DELETE("/api/annotations/:id", h.DeleteAnnotation)
}

// Open opens path, tracks the document for rendering and records it as recently opened. A
// non-empty backend bypasses ranking; mimeHint replaces type detection.
func (h *ViewerHandler) Open(ctx context.Context, path, backend, mimeHint string) (*document.Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var (
		doc *document.Document
		err error
	)
	if backend != "" {
		doc, err = h.Registry.OpenWith(ctx, path, backend)
	} else {
		doc, err = h.Registry.OpenWithHint(ctx, path, mimeHint)
	}
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.docs[doc.ID()] = doc
	h.mu.Unlock()
	doc.OnClose(h.forget)
	h.Scheduler.Track(doc)

	if h.DB != nil {
		if err := h.DB.TouchRecent(ctx, database.RecentFile{Path: path, Backend: doc.BackendName()}); err != nil {
			Logger.Warn("Unable to record recent file", "path", path, "error", err)
		} else if h.Config.RecentMax > 0 {
			if _, err := h.DB.TrimRecent(ctx, h.Config.RecentMax); err != nil {
				Logger.Warn("Unable to trim recent files", "error", err)
			}
		}
	}
	Logger.Debug("Tracking document", "id", doc.ID(), "path", path)
	return doc, nil
}

func (h *ViewerHandler) forget(id ulid.ULID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.docs, id)
}

// Document returns the open document with the given id
func (h *ViewerHandler) Document(id string) (*document.Document, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errUnknownDocument, id)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	doc, ok := h.docs[parsed]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownDocument, id)
	}
	return doc, nil
}

// Documents returns the open documents ordered by id, which is opening order
func (h *ViewerHandler) Documents() []*document.Document {
	h.mu.RLock()
	docs := make([]*document.Document, 0, len(h.docs))
	for _, doc := range h.docs {
		docs = append(docs, doc)
	}
	h.mu.RUnlock()
	slices.SortFunc(docs, func(a, b *document.Document) int { return a.ID().Compare(b.ID()) })
	return docs
}

// Shutdown closes every open document
func (h *ViewerHandler) Shutdown() error {
	var errs []error
	for _, doc := range h.Documents() {
		if err := doc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// statusFor maps an error kind onto an HTTP status
func statusFor(err error) int {
	var renderErr *render.RenderError
	switch {
	case errors.Is(err, errUnknownDocument),
		errors.Is(err, document.ErrDocumentClosed),
		errors.Is(err, database.ErrNotFound),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, document.ErrIndexOutOfRange),
		errors.Is(err, document.ErrInvalidZoom),
		errors.Is(err, document.ErrInvalidRotation),
		errors.Is(err, document.ErrInvalidRegion),
		errors.Is(err, document.ErrUnknownBackend),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, database.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrNoBackendAvailable):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &renderErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, render.ErrSchedulerClosed),
		errors.Is(err, render.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		Logger.Error("Request failed", "path", c.Request().URL.Path, "error", err)
	}
	return c.JSON(status, map[string]interface{}{"error": err.Error()})
}

func badRequest(c echo.Context, format string, args ...any) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": fmt.Sprintf(format, args...)})
}

// NotFoundHandler answers unknown API paths with JSON and defers everything else to echo
func NotFoundHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}
