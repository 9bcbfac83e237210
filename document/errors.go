package document

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	// ErrDuplicateBackend is returned when a backend name is registered twice
	ErrDuplicateBackend = errors.New("duplicate backend")

	// ErrNoBackendAvailable is returned when no backend claims a file or every candidate failed
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrUnknownBackend is returned when a backend is requested by a name nobody registered
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrIndexOutOfRange is returned for page indexes outside [0, PageCount)
	ErrIndexOutOfRange = errors.New("page index out of range")

	// ErrDocumentClosed is returned by every call made on or through a closed document
	ErrDocumentClosed = errors.New("document closed")

	// ErrInvalidRotation is returned for rotations that are not a multiple of 90 degrees
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")

	// ErrInvalidZoom is returned for zoom factors outside (0, MaxZoom]
	ErrInvalidZoom = errors.New("invalid zoom factor")

	// ErrInvalidRegion is returned when a requested region does not intersect the page
	ErrInvalidRegion = errors.New("region outside page")
)

// BackendOpenError records why one backend failed to open a file
type BackendOpenError struct {
	Backend string
	Err     error
}

func (e *BackendOpenError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendOpenError) Unwrap() error {
	return e.Err
}

// OpenError is the aggregate failure surfaced by Registry.Open
type OpenError struct {
	Path     string
	MimeType string
	Attempts []*BackendOpenError
}

func (e *OpenError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%v for %s (type %q)", ErrNoBackendAvailable, e.Path, e.MimeType)
	}
	reasons := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		reasons = append(reasons, attempt.Error())
	}
	return fmt.Sprintf("%v for %s: %s", ErrNoBackendAvailable, e.Path, strings.Join(reasons, "; "))
}

// Unwrap lets errors.Is match ErrNoBackendAvailable
func (e *OpenError) Unwrap() error {
	return ErrNoBackendAvailable
}
