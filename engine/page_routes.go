package engine

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/render"
	"github.com/labstack/echo/v4"
)

type pageInfo struct {
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// pageParam resolves the :id and :page path parameters
func (h *ViewerHandler) pageParam(c echo.Context) (*document.Document, *document.Page, error) {
	doc, err := h.Document(c.Param("id"))
	if err != nil {
		return nil, nil, err
	}
	index, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: page %q", document.ErrIndexOutOfRange, c.Param("page"))
	}
	page, err := doc.GetPage(index)
	if err != nil {
		return nil, nil, err
	}
	return doc, page, nil
}

// GetPage returns the intrinsic size of a page in document units
func (h *ViewerHandler) GetPage(c echo.Context) error {
	doc, page, err := h.pageParam(c)
	if err != nil {
		return errorJSON(c, err)
	}
	size, err := page.IntrinsicSize()
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, pageInfo{
		Document: doc.ID().String(),
		Page:     page.Index(),
		Width:    size.Width,
		Height:   size.Height,
	})
}

// parseRegion reads "x0,y0,x1,y1" in output pixels
func parseRegion(s string) (image.Rectangle, error) {
	if s == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("%w: want x0,y0,x1,y1, got %q", document.ErrInvalidRegion, s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("%w: %q", document.ErrInvalidRegion, s)
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return n, nil
}

// renderZoom resolves zoom from either the zoom parameter or a fit mode and viewport
func renderZoom(c echo.Context, page *document.Page, rotation document.Rotation) (float64, error) {
	fit := c.QueryParam("fit")
	if fit == "" {
		s := c.QueryParam("zoom")
		if s == "" {
			return 1, nil
		}
		zoom, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", document.ErrInvalidZoom, s)
		}
		return zoom, nil
	}

	size, err := page.IntrinsicSize()
	if err != nil {
		return 0, err
	}
	width, err := queryInt(c, "width", 0)
	if err != nil {
		return 0, err
	}
	height, err := queryInt(c, "height", 0)
	if err != nil {
		return 0, err
	}
	switch fit {
	case "width":
		if width <= 0 {
			return 0, fmt.Errorf("%w: fit=width needs a width", document.ErrInvalidZoom)
		}
		return document.FitWidth(size, rotation, width), nil
	case "page":
		if width <= 0 || height <= 0 {
			return 0, fmt.Errorf("%w: fit=page needs width and height", document.ErrInvalidZoom)
		}
		return document.FitPage(size, rotation, width, height), nil
	}
	return 0, fmt.Errorf("%w: unknown fit mode %q", document.ErrInvalidZoom, fit)
}

// RenderPage renders a page through the scheduler and returns it as an image
// @Summary Render a page
// @Description Renders at zoom, or at the zoom fitting a viewport, optionally rotated and clipped.
// @Description Neighbouring pages are prefetched unless prefetch=false.
// @Tags Pages
// @Produce png
// @Param id path string true "Document ULID"
// @Param page path int true "Zero based page index"
// @Param zoom query number false "Zoom factor, 1 is one pixel per document unit"
// @Param fit query string false "width or page"
// @Param rotation query int false "Clockwise degrees, a multiple of 90"
// @Param region query string false "x0,y0,x1,y1 in output pixels"
// @Param priority query string false "visible, nearby or prefetch"
// @Param format query string false "png or jpeg"
// @Router /documents/{id}/pages/{page}/render [get]
func (h *ViewerHandler) RenderPage(c echo.Context) error {
	doc, page, err := h.pageParam(c)
	if err != nil {
		return errorJSON(c, err)
	}
	degrees, err := queryInt(c, "rotation", 0)
	if err != nil {
		return badRequest(c, "%v", err)
	}
	rotation, err := document.NormalizeRotation(degrees)
	if err != nil {
		return errorJSON(c, err)
	}
	zoom, err := renderZoom(c, page, rotation)
	if err != nil {
		return errorJSON(c, err)
	}
	region, err := parseRegion(c.QueryParam("region"))
	if err != nil {
		return errorJSON(c, err)
	}
	priority, err := render.ParsePriority(c.QueryParam("priority"))
	if err != nil {
		return badRequest(c, "%v", err)
	}
	format := imaging.PNG
	contentType := "image/png"
	switch c.QueryParam("format") {
	case "", "png":
	case "jpeg", "jpg":
		format, contentType = imaging.JPEG, "image/jpeg"
	default:
		return badRequest(c, "unsupported format %q", c.QueryParam("format"))
	}

	req, err := document.NewRenderRequest(doc.ID(), page.Index(), zoom, degrees, region)
	if err != nil {
		return errorJSON(c, err)
	}

	ctx := c.Request().Context()
	handle := h.Scheduler.RequestRender(req, priority)
	defer handle.Release()
	if c.QueryParam("prefetch") != "false" && region.Empty() {
		h.Scheduler.Prefetch(doc, page.Index(), h.Config.EffectivePrefetchDistance(), req.Zoom, req.Rotation)
	}

	px, err := handle.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			handle.Cancel()
			Logger.Debug("Render abandoned by client", "request", req)
		}
		return errorJSON(c, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, px.Image, format); err != nil {
		return errorJSON(c, err)
	}
	bounds := px.Image.Bounds()
	c.Response().Header().Set("X-Zoom", strconv.FormatFloat(req.Zoom, 'f', -1, 64))
	c.Response().Header().Set("X-Image-Size", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()))
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}

// GetPageText returns the text layer of a page. With x, y, w and h in document units only the
// text inside that rectangle is returned.
func (h *ViewerHandler) GetPageText(c echo.Context) error {
	_, page, err := h.pageParam(c)
	if err != nil {
		return errorJSON(c, err)
	}
	layer, err := page.ExtractText(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	if c.QueryParam("w") == "" {
		return c.JSON(http.StatusOK, layer)
	}

	var rect document.Rect
	for _, f := range []struct {
		name string
		dst  *float64
	}{{"x", &rect.X}, {"y", &rect.Y}, {"w", &rect.Width}, {"h", &rect.Height}} {
		v, err := strconv.ParseFloat(c.QueryParam(f.name), 64)
		if err != nil {
			return badRequest(c, "invalid %s %q", f.name, c.QueryParam(f.name))
		}
		*f.dst = v
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rect": rect,
		"text": layer.TextIn(rect),
	})
}
