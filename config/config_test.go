package config

import (
	"testing"
)

func TestParseBackendOrder(t *testing.T) {
	order := parseBackendOrder(" mupdf, pdfium ,,comicbook")
	expected := []string{"mupdf", "pdfium", "comicbook"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d backends, got %d (%v)", len(expected), len(order), order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("Expected %s at position %d, got %s", expected[i], i, order[i])
		}
	}
}

func TestParseBackendOverrides(t *testing.T) {
	t.Run("valid pairs", func(t *testing.T) {
		overrides, err := parseBackendOverrides("application/PDF=pdfium; application/vnd.comicbook+zip=comicbook;")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if overrides["application/pdf"] != "pdfium" {
			t.Errorf("Expected pdfium override for application/pdf, got %q", overrides["application/pdf"])
		}
		if overrides["application/vnd.comicbook+zip"] != "comicbook" {
			t.Errorf("Expected comicbook override, got %q", overrides["application/vnd.comicbook+zip"])
		}
	})

	t.Run("malformed pair", func(t *testing.T) {
		if _, err := parseBackendOverrides("application/pdf"); err == nil {
			t.Error("Expected error for pair without backend")
		}
	})

	t.Run("empty", func(t *testing.T) {
		overrides, err := parseBackendOverrides("")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(overrides) != 0 {
			t.Errorf("Expected no overrides, got %v", overrides)
		}
	})
}

func TestSetupViewerFromEnvironment(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "stdout")
	t.Setenv("CACHE_SIZE_MIB", "64")
	t.Setenv("RENDER_WORKERS", "3")
	t.Setenv("BACKEND_ORDER", "plaintext,mupdf")
	t.Setenv("BACKEND_OVERRIDES", "text/plain=plaintext")
	t.Setenv("SMOOTH_SCROLLING", "false")
	t.Setenv("PREFETCH_DISTANCE", "3")

	cfg, logger := SetupViewer()
	if logger == nil {
		t.Fatal("Expected a logger")
	}
	if cfg.CacheCapacityBytes() != 64*1024*1024 {
		t.Errorf("Expected 64MiB capacity, got %d bytes", cfg.CacheCapacityBytes())
	}
	if cfg.RenderWorkers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.RenderWorkers)
	}
	if len(cfg.BackendOrder) != 2 || cfg.BackendOrder[0] != "plaintext" {
		t.Errorf("Unexpected backend order %v", cfg.BackendOrder)
	}
	if cfg.BackendOverrides["text/plain"] != "plaintext" {
		t.Errorf("Expected text/plain override, got %v", cfg.BackendOverrides)
	}
	if cfg.EffectivePrefetchDistance() != 3 {
		t.Errorf("Expected prefetch distance 3 without smooth scrolling, got %d", cfg.EffectivePrefetchDistance())
	}

	cfg.SmoothScrolling = true
	if cfg.EffectivePrefetchDistance() != 6 {
		t.Errorf("Expected prefetch distance 6 with smooth scrolling, got %d", cfg.EffectivePrefetchDistance())
	}
}

func TestSetupViewerRejectsInvalidCacheSize(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "stdout")
	t.Setenv("CACHE_SIZE_MIB", "-5")

	cfg, _ := SetupViewer()
	if cfg.CacheCapacityMiB != 256 {
		t.Errorf("Expected fallback to 256MiB, got %d", cfg.CacheCapacityMiB)
	}
}
