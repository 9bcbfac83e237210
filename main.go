package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/goviewer/config"
	database "github.com/drummonds/goviewer/database"
	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/document/backends"
	engine "github.com/drummonds/goviewer/engine"
	"github.com/drummonds/goviewer/pixcache"
	"github.com/drummonds/goviewer/render"
	"github.com/drummonds/goviewer/search"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	database.Logger = Logger
	document.Logger = Logger
	backends.Logger = Logger
	pixcache.Logger = Logger
	render.Logger = Logger
	search.Logger = Logger
	engine.Logger = Logger
}

// mergeOverrides layers the choices users saved over the configured defaults
func mergeOverrides(configured, saved map[string]string) map[string]string {
	out := make(map[string]string, len(configured)+len(saved))
	for k, v := range configured {
		out[k] = v
	}
	for k, v := range saved {
		out[k] = v
	}
	return out
}

func main() {
	viewerConfig, logger := config.SetupViewer()
	injectGlobals(logger) //inject the logger into all of the packages

	if viewerConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Recent files, bookmarks and annotations are lost on exit")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup database (handles ephemeral, postgres, cockroachdb, sqlite)
	Logger.Info("Setting up database", "type", viewerConfig.DatabaseType)
	db, err := database.NewRepository(ctx, viewerConfig)
	if err != nil {
		Logger.Error("Failed to set up database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	saved, err := db.BackendPreferences(ctx)
	if err != nil {
		Logger.Warn("Unable to load saved backend choices", "error", err)
	}
	registry := document.NewRegistry(document.Preferences{
		Order:     viewerConfig.BackendOrder,
		Overrides: mergeOverrides(viewerConfig.BackendOverrides, database.PreferenceMap(saved)),
	})
	bundle := backends.DefaultBackends(viewerConfig)
	if err := bundle.RegisterAll(registry); err != nil {
		Logger.Error("Failed to register backends", "error", err)
		os.Exit(1)
	}
	defer bundle.Close()

	scheduler := render.New(pixcache.New(viewerConfig.CacheCapacityBytes()), viewerConfig.RenderWorkers)
	defer scheduler.Close()
	searchEngine := search.NewEngine()
	defer searchEngine.Close()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = engine.NotFoundHandler(e)
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	viewerHandler := engine.NewViewerHandler(e, db, viewerConfig, registry, scheduler, searchEngine)
	viewerHandler.RegisterRoutes()
	defer viewerHandler.Shutdown()

	Logger.Info("About to initialize schedules")
	schedules := viewerHandler.InitializeSchedules()
	defer schedules.Stop()
	if err := viewerHandler.StartupChecks(); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}

	if viewerConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- startServer(e, viewerConfig) }()

	select {
	case err := <-serverErr:
		if err != nil {
			Logger.Error("Failed to start server", "error", err)
		}
	case <-ctx.Done():
		Logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			Logger.Error("HTTP server shutdown failed", "error", err)
		}
	}
}

// startServer starts echo, moving to the next port when the requested one is taken
func startServer(e *echo.Echo, viewerConfig config.ViewerConfig) error {
	maxRetries := 5
	startPort := viewerConfig.ListenAddrPort

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", viewerConfig.ListenAddrIP, viewerConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)
		if viewerConfig.ListenAddrPort != startPort {
			Logger.Warn("Server starting on alternative port due to conflicts",
				"requested_port", startPort,
				"actual_port", viewerConfig.ListenAddrPort)
		}

		err := e.Start(addr)
		switch {
		case err == nil, errors.Is(err, http.ErrServerClosed):
			return nil
		case !isAddressInUse(err):
			return err
		}
		Logger.Warn("Port already in use, trying next port",
			"port", viewerConfig.ListenAddrPort,
			"attempt", attempt+1,
			"max_attempts", maxRetries)

		portNum := 0
		fmt.Sscanf(viewerConfig.ListenAddrPort, "%d", &portNum)
		viewerConfig.ListenAddrPort = fmt.Sprintf("%d", portNum+1)
	}
	return fmt.Errorf("no free port between %s and %s", startPort, viewerConfig.ListenAddrPort)
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}
