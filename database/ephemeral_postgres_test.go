package database

import (
	"context"
	"testing"
	"time"

	"github.com/drummonds/goviewer/config"
)

func TestEphemeralPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ephemeral PostgreSQL in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := NewRepository(ctx, config.ViewerConfig{DatabaseType: "ephemeral"})
	if err != nil {
		t.Skipf("PostgreSQL is not available: %v", err)
	}
	defer db.Close()

	t.Log("Ephemeral PostgreSQL server started and migrated")

	if err := db.SaveBackendPreference(ctx, BackendPreference{MimeType: "application/pdf", Backend: "pdfium"}); err != nil {
		t.Fatalf("Failed to save preference: %v", err)
	}
	if err := db.SaveBackendPreference(ctx, BackendPreference{MimeType: "application/pdf", Backend: "mupdf"}); err != nil {
		t.Fatalf("Failed to replace preference: %v", err)
	}
	prefs, err := db.BackendPreferences(ctx)
	if err != nil {
		t.Fatalf("Failed to list preferences: %v", err)
	}
	if got := PreferenceMap(prefs)["application/pdf"]; got != "mupdf" {
		t.Errorf("Expected mupdf, got %q", got)
	}

	bookmark := &Bookmark{Path: "/docs/a.pdf", Page: 3, Label: "Results"}
	if err := db.AddBookmark(ctx, bookmark); err != nil {
		t.Fatalf("Failed to add bookmark: %v", err)
	}
	marks, err := db.Bookmarks(ctx, "/docs/a.pdf")
	if err != nil || len(marks) != 1 || marks[0].ID != bookmark.ID {
		t.Fatalf("Expected the bookmark back, got %+v (%v)", marks, err)
	}

	for i := 0; i < 3; i++ {
		recent := RecentFile{Path: "/docs/" + string(rune('a'+i)) + ".pdf", OpenedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := db.TouchRecent(ctx, recent); err != nil {
			t.Fatalf("Failed to touch recent: %v", err)
		}
	}
	removed, err := db.TrimRecent(ctx, 2)
	if err != nil || removed != 1 {
		t.Errorf("Expected one entry trimmed, got %d (%v)", removed, err)
	}
}
