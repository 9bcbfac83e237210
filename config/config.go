package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ViewerConfig contains all of the viewer settings
type ViewerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	// CacheCapacityMiB bounds the pixmap cache; converted to bytes by CacheCapacityBytes
	CacheCapacityMiB    int
	RenderWorkers       int
	BackendOrder        []string
	BackendOverrides    map[string]string // mime type -> backend name
	SmoothScrolling     bool
	PrefetchDistance    int
	RecentMax           int
	MaintenanceInterval int // minutes
	OCREnabled          bool
	OCRLanguage         string
	PdfiumWorkers       int
	TextLinesPerPage    int
	TextColumns         int
}

// CacheCapacityBytes returns the configured pixmap cache capacity in bytes
func (c ViewerConfig) CacheCapacityBytes() int64 {
	return int64(c.CacheCapacityMiB) * 1024 * 1024
}

// EffectivePrefetchDistance is the number of neighbouring pages prefetched around a visible one.
// Smooth scrolling reveals pages sooner so it looks twice as far ahead.
func (c ViewerConfig) EffectivePrefetchDistance() int {
	if c.SmoothScrolling {
		return c.PrefetchDistance * 2
	}
	return c.PrefetchDistance
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// parseBackendOrder splits a comma separated list of backend names
func parseBackendOrder(value string) []string {
	var order []string
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			order = append(order, name)
		}
	}
	return order
}

// parseBackendOverrides reads "mime=backend;mime=backend" pairs
func parseBackendOverrides(value string) (map[string]string, error) {
	overrides := make(map[string]string)
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		mimeType, backend, ok := strings.Cut(pair, "=")
		mimeType = strings.ToLower(strings.TrimSpace(mimeType))
		backend = strings.TrimSpace(backend)
		if !ok || mimeType == "" || backend == "" {
			return nil, fmt.Errorf("malformed backend override %q", pair)
		}
		overrides[mimeType] = backend
	}
	return overrides, nil
}

// SetupViewer loads configuration and returns ViewerConfig and Logger
func SetupViewer() (ViewerConfig, *slog.Logger) {
	viewerConfig := ViewerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	viewerConfig.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	viewerConfig.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	viewerConfig.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	viewerConfig.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	viewerConfig.DatabasePort = getEnv("DATABASE_PORT", "5432")
	viewerConfig.DatabaseUser = getEnv("DATABASE_USER", "goviewer")
	viewerConfig.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	viewerConfig.DatabaseDbname = getEnv("DATABASE_NAME", "databases/goviewer.sqlite")
	viewerConfig.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")
	logger.Info("Database configuration loaded", "type", viewerConfig.DatabaseType)

	// Render pipeline
	viewerConfig.CacheCapacityMiB = getEnvInt("CACHE_SIZE_MIB", 256)
	if viewerConfig.CacheCapacityMiB <= 0 {
		logger.Warn("Invalid pixmap cache size, using default", "value", viewerConfig.CacheCapacityMiB)
		viewerConfig.CacheCapacityMiB = 256
	}
	viewerConfig.RenderWorkers = getEnvInt("RENDER_WORKERS", runtime.NumCPU())
	if viewerConfig.RenderWorkers <= 0 {
		viewerConfig.RenderWorkers = runtime.NumCPU()
	}
	viewerConfig.SmoothScrolling = getEnvBool("SMOOTH_SCROLLING", true)
	viewerConfig.PrefetchDistance = getEnvInt("PREFETCH_DISTANCE", 2)

	// Backends
	viewerConfig.BackendOrder = parseBackendOrder(getEnv("BACKEND_ORDER", "mupdf,pdfium,comicbook,plaintext"))
	overrides, err := parseBackendOverrides(getEnv("BACKEND_OVERRIDES", ""))
	if err != nil {
		logger.Error("Ignoring backend overrides", "error", err)
		overrides = map[string]string{}
	}
	viewerConfig.BackendOverrides = overrides
	viewerConfig.OCREnabled = getEnvBool("OCR_ENABLED", false)
	viewerConfig.OCRLanguage = getEnv("OCR_LANGUAGE", "eng")
	viewerConfig.PdfiumWorkers = getEnvInt("PDFIUM_WORKERS", 1)
	viewerConfig.TextLinesPerPage = getEnvInt("TEXT_LINES_PER_PAGE", 60)
	viewerConfig.TextColumns = getEnvInt("TEXT_COLUMNS", 90)

	// Collaborators
	viewerConfig.RecentMax = getEnvInt("RECENT_MAX", 10)
	viewerConfig.MaintenanceInterval = getEnvInt("MAINTENANCE_INTERVAL", 10)

	logger.Info("Render pipeline configured",
		"cacheMiB", viewerConfig.CacheCapacityMiB,
		"workers", viewerConfig.RenderWorkers,
		"backendOrder", strings.Join(viewerConfig.BackendOrder, ","),
		"smoothScrolling", viewerConfig.SmoothScrolling)

	return viewerConfig, logger
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "goviewer.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
