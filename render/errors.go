package render

import (
	"errors"
	"fmt"
)

var (
	// ErrSchedulerClosed resolves every handle still pending when the scheduler shuts down
	ErrSchedulerClosed = errors.New("render scheduler closed")

	// ErrCancelled is the result of a handle cancelled before it resolved
	ErrCancelled = errors.New("render cancelled")

	// ErrPending is returned by Handle.Result before the render has finished
	ErrPending = errors.New("render pending")
)

// RenderError reports a failed render of one page. Failures are never cached; a fresh request
// renders again.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render of page %d failed: %v", e.Page, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
