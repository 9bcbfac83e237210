package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunBackendPreference represents the backend_preferences table for Bun ORM
type BunBackendPreference struct {
	bun.BaseModel `bun:"table:backend_preferences,alias:bp"`

	MimeType  string    `bun:"mime_type,pk"`
	Backend   string    `bun:"backend,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// BunRecentFile represents the recent_files table for Bun ORM
type BunRecentFile struct {
	bun.BaseModel `bun:"table:recent_files,alias:rf"`

	Path     string    `bun:"path,pk"`
	Backend  string    `bun:"backend,notnull,default:''"`
	Page     int       `bun:"page,notnull,default:0"`
	OpenedAt time.Time `bun:"opened_at,notnull,default:current_timestamp"`
}

// ToRecentFile converts BunRecentFile to RecentFile
func (br *BunRecentFile) ToRecentFile() RecentFile {
	return RecentFile{Path: br.Path, Backend: br.Backend, Page: br.Page, OpenedAt: br.OpenedAt}
}

// BunBookmark represents the bookmarks table for Bun ORM
type BunBookmark struct {
	bun.BaseModel `bun:"table:bookmarks,alias:b"`

	ID        string    `bun:"id,pk"` // ULID as string
	Path      string    `bun:"path,notnull"`
	Page      int       `bun:"page,notnull"`
	Label     string    `bun:"label,notnull,default:''"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ToBookmark converts BunBookmark to Bookmark
func (bb *BunBookmark) ToBookmark() (Bookmark, error) {
	id, err := ulid.Parse(bb.ID)
	if err != nil {
		return Bookmark{}, err
	}
	return Bookmark{ID: id, Path: bb.Path, Page: bb.Page, Label: bb.Label, CreatedAt: bb.CreatedAt}, nil
}

// BunAnnotation represents the annotations table for Bun ORM
type BunAnnotation struct {
	bun.BaseModel `bun:"table:annotations,alias:a"`

	ID        string    `bun:"id,pk"` // ULID as string
	Path      string    `bun:"path,notnull"`
	Page      int       `bun:"page,notnull"`
	Payload   string    `bun:"payload,notnull,default:''"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ToAnnotation converts BunAnnotation to Annotation
func (ba *BunAnnotation) ToAnnotation() (Annotation, error) {
	id, err := ulid.Parse(ba.ID)
	if err != nil {
		return Annotation{}, err
	}
	return Annotation{
		ID:        id,
		Path:      ba.Path,
		Page:      ba.Page,
		Payload:   ba.Payload,
		CreatedAt: ba.CreatedAt,
		UpdatedAt: ba.UpdatedAt,
	}, nil
}

// FromAnnotation converts Annotation to BunAnnotation
func FromAnnotation(a *Annotation) *BunAnnotation {
	return &BunAnnotation{
		ID:        a.ID.String(),
		Path:      a.Path,
		Page:      a.Page,
		Payload:   a.Payload,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// models in creation order
var models = []any{
	(*BunBackendPreference)(nil),
	(*BunRecentFile)(nil),
	(*BunBookmark)(nil),
	(*BunAnnotation)(nil),
}
