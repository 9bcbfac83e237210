package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/drummonds/goviewer/config"
	"github.com/drummonds/goviewer/document"
)

// StartupChecks performs all the checks to make sure everything works
func (h *ViewerHandler) StartupChecks() error {
	tesseractChecks(h.Config)
	if err := databaseDirectoryChecks(h.Config); err != nil {
		return err
	}
	backendChecks(h.Config, h.Registry)
	return nil
}

func tesseractChecks(cfg config.ViewerConfig) {
	if !cfg.OCREnabled {
		Logger.Info("OCR not enabled, image pages will have no text layer")
		return
	}
	path, err := exec.LookPath("tesseract")
	if err != nil {
		Logger.Warn("Tesseract executable not found, OCR will fail", "error", err)
		return
	}
	Logger.Info("Tesseract executable found, OCR enabled", "path", path, "language", cfg.OCRLanguage)
}

// databaseDirectoryChecks ensures the sqlite database directory exists
func databaseDirectoryChecks(cfg config.ViewerConfig) error {
	if cfg.DatabaseType != "sqlite" {
		return nil
	}
	dir := filepath.Dir(cfg.DatabaseDbname)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating database directory", "path", dir)
			if err := os.MkdirAll(dir, 0755); err != nil {
				Logger.Error("Failed to create database directory", "path", dir, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking database directory", "path", dir, "error", err)
		return err
	}
	if !info.IsDir() {
		Logger.Error("Database path exists but is not a directory", "path", dir)
		return fmt.Errorf("database path is not a directory: %s", dir)
	}
	return nil
}

// backendChecks warns about configured backend names nothing registered
func backendChecks(cfg config.ViewerConfig, registry *document.Registry) {
	for _, name := range cfg.BackendOrder {
		if _, ok := registry.Backend(name); !ok {
			Logger.Warn("Backend order names an unavailable backend", "backend", name)
		}
	}
	for mimeType, name := range registry.Overrides() {
		if _, ok := registry.Backend(name); !ok {
			Logger.Warn("Backend override names an unavailable backend", "mimeType", mimeType, "backend", name)
		}
	}
	Logger.Info("Backends available", "count", len(registry.Backends()))
}
