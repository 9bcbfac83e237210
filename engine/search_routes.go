package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/drummonds/goviewer/search"
	"github.com/labstack/echo/v4"
)

type searchEvent struct {
	name string
	data any
}

type searchResult struct {
	Session     string              `json:"session"`
	Query       string              `json:"query"`
	State       string              `json:"state"`
	Total       int                 `json:"total"`
	Occurrences []search.Occurrence `json:"occurrences"`
}

func searchOptions(c echo.Context) (search.Options, error) {
	var opts search.Options
	var err error
	if opts.Direction, err = search.ParseDirection(c.QueryParam("direction")); err != nil {
		return opts, err
	}
	for _, f := range []struct {
		name string
		dst  *bool
	}{{"caseSensitive", &opts.CaseSensitive}, {"wholeWord", &opts.WholeWord}} {
		if s := c.QueryParam(f.name); s != "" {
			if *f.dst, err = strconv.ParseBool(s); err != nil {
				return opts, fmt.Errorf("invalid %s %q", f.name, s)
			}
		}
	}
	opts.Language = c.QueryParam("lang")
	return opts, nil
}

// SearchDocument searches a document for q. With stream=true or an event-stream Accept header
// occurrences are sent as server-sent events while the scan runs; otherwise the response waits
// for the scan and returns every occurrence. Disconnecting cancels the search.
// @Summary Search a document
// @Tags Search
// @Param id path string true "Document ULID"
// @Param q query string true "Text to find"
// @Param caseSensitive query bool false "Match case"
// @Param wholeWord query bool false "Only match whole words"
// @Param direction query string false "forward or backward"
// @Param lang query string false "BCP 47 tag used for case folding"
// @Router /documents/{id}/search [get]
func (h *ViewerHandler) SearchDocument(c echo.Context) error {
	doc, err := h.Document(c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	opts, err := searchOptions(c)
	if err != nil {
		return badRequest(c, "%v", err)
	}
	ctx, stop := context.WithCancel(c.Request().Context())
	defer stop()
	events := make(chan searchEvent, 64)
	send := func(ev searchEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	obs := search.ObserverFuncs{
		Found:    func(occ search.Occurrence) { send(searchEvent{"occurrence", occ}) },
		Complete: func(total int) { send(searchEvent{"complete", map[string]int{"total": total}}) },
	}

	query := c.QueryParam("q")
	session, err := h.Search.StartSearch(doc, query, opts, obs)
	if err != nil {
		return errorJSON(c, err)
	}
	Logger.Info("Search started", "document", doc.ID(), "session", session.ID(), "query", query)
	// the observer must stop blocking before Cancel can take the delivery lock
	abort := func() {
		stop()
		session.Cancel()
	}

	if c.QueryParam("stream") == "true" || c.Request().Header.Get(echo.HeaderAccept) == "text/event-stream" {
		return streamSearch(ctx, c, session, events, abort)
	}

	result := searchResult{Session: session.ID().String(), Query: query, Occurrences: []search.Occurrence{}}
	for {
		select {
		case ev := <-events:
			if occ, ok := ev.data.(search.Occurrence); ok {
				result.Occurrences = append(result.Occurrences, occ)
			}
		case <-session.Done():
			drain(events, func(ev searchEvent) error {
				if occ, ok := ev.data.(search.Occurrence); ok {
					result.Occurrences = append(result.Occurrences, occ)
				}
				return nil
			})
			result.State = session.State().String()
			result.Total = session.Total()
			return c.JSON(http.StatusOK, result)
		case <-ctx.Done():
			abort()
			return nil
		}
	}
}

// drain hands fn the events buffered before the session finished
func drain(events <-chan searchEvent, fn func(searchEvent) error) error {
	for {
		select {
		case ev := <-events:
			if err := fn(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func streamSearch(ctx context.Context, c echo.Context, session *search.Session, events <-chan searchEvent, abort func()) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	write := func(ev searchEvent) error {
		data, err := json.Marshal(ev.data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data); err != nil {
			return err
		}
		w.Flush()
		return nil
	}

	if err := write(searchEvent{"session", map[string]string{"id": session.ID().String(), "query": session.Query()}}); err != nil {
		abort()
		return nil
	}
	for {
		select {
		case ev := <-events:
			if err := write(ev); err != nil {
				abort()
				return nil
			}
		case <-session.Done():
			if err := drain(events, write); err != nil {
				return nil
			}
			if session.State() == search.Cancelled {
				write(searchEvent{"cancelled", map[string]int{"total": session.Total()}})
			}
			return nil
		case <-ctx.Done():
			abort()
			Logger.Debug("Search stream closed by client", "session", session.ID())
			return nil
		}
	}
}

// CancelSearch stops the search running on a document
func (h *ViewerHandler) CancelSearch(c echo.Context) error {
	doc, err := h.Document(c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	session, ok := h.Search.Active(doc.ID())
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no search running"})
	}
	session.Cancel()
	return c.JSON(http.StatusOK, map[string]string{"cancelled": session.ID().String()})
}
