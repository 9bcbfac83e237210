package engine

import (
	"fmt"
	"net/http"

	"github.com/drummonds/goviewer/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

func idParam(c echo.Context) (ulid.ULID, error) {
	id, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: id %q", database.ErrNotFound, c.Param("id"))
	}
	return id, nil
}

// GetRecentFiles lists recently opened files, newest first
// @Summary Recently opened files
// @Tags Persistence
// @Param limit query int false "Maximum entries, 0 for all"
// @Router /recent [get]
func (h *ViewerHandler) GetRecentFiles(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil || limit < 0 {
		return badRequest(c, "invalid limit %q", c.QueryParam("limit"))
	}
	recent, err := h.DB.RecentFiles(c.Request().Context(), limit)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, recent)
}

// GetBookmarks lists bookmarks of the path query parameter, or all of them
func (h *ViewerHandler) GetBookmarks(c echo.Context) error {
	marks, err := h.DB.Bookmarks(c.Request().Context(), c.QueryParam("path"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, marks)
}

// AddBookmark stores a new bookmark
// @Summary Add a bookmark
// @Tags Persistence
// @Accept json
// @Produce json
// @Success 201 {object} database.Bookmark
// @Router /bookmarks [post]
func (h *ViewerHandler) AddBookmark(c echo.Context) error {
	var mark database.Bookmark
	if err := c.Bind(&mark); err != nil {
		return badRequest(c, "invalid bookmark: %v", err)
	}
	mark.ID = ulid.ULID{}
	if err := h.DB.AddBookmark(c.Request().Context(), &mark); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, mark)
}

// DeleteBookmark removes a bookmark by id
func (h *ViewerHandler) DeleteBookmark(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return errorJSON(c, err)
	}
	if err := h.DB.DeleteBookmark(c.Request().Context(), id); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetAnnotations lists annotations of a path, optionally of one page
func (h *ViewerHandler) GetAnnotations(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return badRequest(c, "path is required")
	}
	page, err := queryInt(c, "page", -1)
	if err != nil {
		return badRequest(c, "%v", err)
	}
	notes, err := h.DB.Annotations(c.Request().Context(), path, page)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, notes)
}

// SaveAnnotation creates an annotation on POST and replaces the one named by :id on PUT
// @Summary Save an annotation
// @Tags Persistence
// @Accept json
// @Produce json
// @Router /annotations [post]
// @Router /annotations/{id} [put]
func (h *ViewerHandler) SaveAnnotation(c echo.Context) error {
	var note database.Annotation
	if err := c.Bind(&note); err != nil {
		return badRequest(c, "invalid annotation: %v", err)
	}
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := idParam(c)
		if err != nil {
			return errorJSON(c, err)
		}
		note.ID = id
		status = http.StatusOK
	} else {
		note.ID = ulid.ULID{}
	}
	if err := h.DB.SaveAnnotation(c.Request().Context(), &note); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(status, note)
}

// DeleteAnnotation removes an annotation by id
func (h *ViewerHandler) DeleteAnnotation(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return errorJSON(c, err)
	}
	if err := h.DB.DeleteAnnotation(c.Request().Context(), id); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
