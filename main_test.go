package main

import (
	"errors"
	"testing"
)

func TestMergeOverrides(t *testing.T) {
	configured := map[string]string{"application/pdf": "mupdf", "text/plain": "plaintext"}
	saved := map[string]string{"application/pdf": "pdfium"}

	merged := mergeOverrides(configured, saved)
	if merged["application/pdf"] != "pdfium" {
		t.Errorf("Expected the saved choice to win, got %q", merged["application/pdf"])
	}
	if merged["text/plain"] != "plaintext" || len(merged) != 2 {
		t.Errorf("Expected configured defaults kept, got %v", merged)
	}
	if configured["application/pdf"] != "mupdf" {
		t.Error("Expected the configured map left untouched")
	}
}

func TestIsAddressInUse(t *testing.T) {
	if isAddressInUse(nil) {
		t.Error("nil is not an address error")
	}
	if !isAddressInUse(errors.New("listen tcp :8000: bind: address already in use")) {
		t.Error("Expected the bind error recognised")
	}
	if isAddressInUse(errors.New("permission denied")) {
		t.Error("Expected other errors not to match")
	}
}
