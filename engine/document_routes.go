package engine

import (
	"net/http"

	"github.com/drummonds/goviewer/database"
	"github.com/drummonds/goviewer/document"
	"github.com/labstack/echo/v4"
)

type backendInfo struct {
	Name       string   `json:"name"`
	MimeTypes  []string `json:"mimeTypes"`
	Extensions []string `json:"extensions"`
}

type documentInfo struct {
	ID        string                 `json:"id"`
	Path      string                 `json:"path"`
	MimeType  string                 `json:"mimeType"`
	Backend   string                 `json:"backend"`
	PageCount int                    `json:"pageCount"`
	Metadata  *document.Metadata     `json:"metadata,omitempty"`
	Outline   []document.OutlineItem `json:"outline,omitempty"`
	Fonts     []document.FontInfo    `json:"fonts,omitempty"`
}

type openRequest struct {
	Path     string `json:"path"`
	Backend  string `json:"backend"`
	MimeType string `json:"mimeType"`
	// Remember stores Backend as the choice for the document's type
	Remember bool `json:"remember"`
}

func describe(doc *document.Document, detailed bool) (documentInfo, error) {
	info := documentInfo{
		ID:        doc.ID().String(),
		Path:      doc.Path(),
		MimeType:  doc.MimeType(),
		Backend:   doc.BackendName(),
		PageCount: doc.PageCount(),
	}
	if !detailed {
		return info, nil
	}
	meta, err := doc.Metadata()
	if err != nil {
		return info, err
	}
	info.Metadata = &meta
	if info.Outline, err = doc.Outline(); err != nil {
		Logger.Warn("Unable to read outline", "id", info.ID, "error", err)
	}
	if info.Fonts, err = doc.Fonts(); err != nil {
		Logger.Warn("Unable to list fonts", "id", info.ID, "error", err)
	}
	return info, nil
}

// Health reports that the server is up
func (h *ViewerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "goviewer",
	})
}

// ListBackends lists the registered backends and the current per type overrides
// @Summary List backends
// @Tags Backends
// @Produce json
// @Router /backends [get]
func (h *ViewerHandler) ListBackends(c echo.Context) error {
	registered := h.Registry.Backends()
	out := make([]backendInfo, 0, len(registered))
	for _, b := range registered {
		out = append(out, backendInfo{Name: b.Name, MimeTypes: b.MimeTypes, Extensions: b.Extensions})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"backends":  out,
		"overrides": h.Registry.Overrides(),
	})
}

// OpenDocument opens a file through the registry
// @Summary Open a document
// @Description Opens a local file with the best ranked backend, or with the backend named in the body
// @Tags Documents
// @Accept json
// @Produce json
// @Success 201 {object} documentInfo
// @Failure 404 {object} map[string]interface{} "File not found"
// @Failure 415 {object} map[string]interface{} "No backend could open the file"
// @Router /documents [post]
func (h *ViewerHandler) OpenDocument(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid open request: %v", err)
	}
	if req.Path == "" {
		return badRequest(c, "path is required")
	}
	if req.Remember && req.Backend == "" {
		return badRequest(c, "remember needs a backend")
	}

	doc, err := h.Open(c.Request().Context(), req.Path, req.Backend, req.MimeType)
	if err != nil {
		Logger.Warn("Unable to open document", "path", req.Path, "error", err)
		return errorJSON(c, err)
	}
	if req.Remember {
		if err := h.remember(c, doc.MimeType(), req.Backend); err != nil {
			return errorJSON(c, err)
		}
	}
	info, err := describe(doc, true)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, info)
}

func (h *ViewerHandler) remember(c echo.Context, mimeType, backend string) error {
	if err := h.Registry.SetOverride(mimeType, backend); err != nil {
		return err
	}
	if h.DB == nil {
		return nil
	}
	return h.DB.SaveBackendPreference(c.Request().Context(), database.BackendPreference{MimeType: mimeType, Backend: backend})
}

// ListDocuments lists the open documents
func (h *ViewerHandler) ListDocuments(c echo.Context) error {
	docs := h.Documents()
	out := make([]documentInfo, 0, len(docs))
	for _, doc := range docs {
		info, _ := describe(doc, false)
		out = append(out, info)
	}
	return c.JSON(http.StatusOK, out)
}

// GetDocument returns metadata, outline and fonts of an open document
// @Summary Get document information
// @Tags Documents
// @Produce json
// @Param id path string true "Document ULID"
// @Router /documents/{id} [get]
func (h *ViewerHandler) GetDocument(c echo.Context) error {
	doc, err := h.Document(c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	info, err := describe(doc, true)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// CloseDocument closes a document, dropping its renders and cancelling its search
// @Summary Close a document
// @Tags Documents
// @Param id path string true "Document ULID"
// @Router /documents/{id} [delete]
func (h *ViewerHandler) CloseDocument(c echo.Context) error {
	doc, err := h.Document(c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	if err := doc.Close(); err != nil {
		Logger.Warn("Backend reported an error closing document", "id", doc.ID(), "error", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"closed": doc.ID().String()})
}

// GetBackendPreferences lists remembered backend choices
func (h *ViewerHandler) GetBackendPreferences(c echo.Context) error {
	prefs, err := h.DB.BackendPreferences(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, prefs)
}

// SetBackendPreference remembers a backend for a mime type
// @Summary Remember a backend choice
// @Tags Backends
// @Accept json
// @Router /preferences/backends [put]
func (h *ViewerHandler) SetBackendPreference(c echo.Context) error {
	var pref database.BackendPreference
	if err := c.Bind(&pref); err != nil {
		return badRequest(c, "invalid preference: %v", err)
	}
	if pref.MimeType == "" || pref.Backend == "" {
		return badRequest(c, "mimeType and backend are required")
	}
	if err := h.remember(c, pref.MimeType, pref.Backend); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, pref)
}

// DeleteBackendPreference forgets the remembered backend of the mimeType query parameter
func (h *ViewerHandler) DeleteBackendPreference(c echo.Context) error {
	mimeType := c.QueryParam("mimeType")
	if mimeType == "" {
		return badRequest(c, "mimeType is required")
	}
	if err := h.DB.DeleteBackendPreference(c.Request().Context(), mimeType); err != nil {
		return errorJSON(c, err)
	}
	h.Registry.SetOverride(mimeType, "")
	return c.NoContent(http.StatusNoContent)
}
