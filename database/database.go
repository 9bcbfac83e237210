package database

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrNotFound is returned when a row addressed by key does not exist
var ErrNotFound = errors.New("record not found")

// ErrInvalid is returned for records missing a required field
var ErrInvalid = errors.New("invalid record")

// RecentFile is an entry of the recently opened list
type RecentFile struct {
	Path     string    `json:"path"`
	Backend  string    `json:"backend"`
	Page     int       `json:"page"`
	OpenedAt time.Time `json:"openedAt"`
}

// BackendPreference remembers which backend opens a mime type
type BackendPreference struct {
	MimeType string `json:"mimeType"`
	Backend  string `json:"backend"`
}

// Bookmark marks a page of a file
type Bookmark struct {
	ID        ulid.ULID `json:"id"`
	Path      string    `json:"path"`
	Page      int       `json:"page"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// Annotation attaches an opaque payload, typically JSON from the presentation layer, to a page
type Annotation struct {
	ID        ulid.ULID `json:"id"`
	Path      string    `json:"path"`
	Page      int       `json:"page"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Repository defines database operations
type Repository interface {
	Close() error
	// Backend preferences
	BackendPreferences(ctx context.Context) ([]BackendPreference, error)
	SaveBackendPreference(ctx context.Context, pref BackendPreference) error
	DeleteBackendPreference(ctx context.Context, mimeType string) error
	// Recent files
	TouchRecent(ctx context.Context, recent RecentFile) error
	RecentFiles(ctx context.Context, limit int) ([]RecentFile, error)
	DeleteRecent(ctx context.Context, path string) error
	TrimRecent(ctx context.Context, keep int) (int, error)
	// Bookmarks
	AddBookmark(ctx context.Context, bookmark *Bookmark) error
	Bookmarks(ctx context.Context, path string) ([]Bookmark, error)
	DeleteBookmark(ctx context.Context, id ulid.ULID) error
	// Annotations
	SaveAnnotation(ctx context.Context, annotation *Annotation) error
	Annotations(ctx context.Context, path string, page int) ([]Annotation, error)
	DeleteAnnotation(ctx context.Context, id ulid.ULID) error
}

// PreferenceMap flattens stored preferences into the mime type -> backend overrides a registry takes
func PreferenceMap(prefs []BackendPreference) map[string]string {
	out := make(map[string]string, len(prefs))
	for _, p := range prefs {
		out[p.MimeType] = p.Backend
	}
	return out
}

// PruneRecent removes recent entries whose file is gone and trims the list to keep entries
func PruneRecent(ctx context.Context, db Repository, keep int) (int, error) {
	recent, err := db.RecentFiles(ctx, 0)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range recent {
		if _, err := os.Stat(r.Path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := db.DeleteRecent(ctx, r.Path); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, err
		}
		Logger.Debug("Pruned missing recent file", "path", r.Path)
		removed++
	}
	trimmed, err := db.TrimRecent(ctx, keep)
	return removed + trimmed, err
}
