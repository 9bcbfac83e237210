package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/drummonds/goviewer/database"
	"github.com/drummonds/goviewer/pixcache"
	"github.com/drummonds/goviewer/render"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
)

// maintenanceTimeout bounds one maintenance run
const maintenanceTimeout = 2 * time.Minute

type viewerStats struct {
	Documents int            `json:"documents"`
	Cache     pixcache.Stats `json:"cache"`
	Render    render.Stats   `json:"render"`
}

type maintenanceReport struct {
	RecentPruned int         `json:"recentPruned"`
	Stats        viewerStats `json:"stats"`
}

// InitializeSchedules starts the periodic maintenance job. The caller stops the returned cron on shutdown.
func (h *ViewerHandler) InitializeSchedules() *cron.Cron {
	c := cron.New()
	interval := h.Config.MaintenanceInterval
	if interval <= 0 {
		Logger.Info("Maintenance schedule disabled")
		return c
	}
	var job cron.Job = cron.FuncJob(h.maintenanceJobFunc)
	job = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(job) // never overlap two runs
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), job); err != nil {
		Logger.Error("Unable to schedule maintenance", "interval_minutes", interval, "error", err)
		return c
	}
	Logger.Info("Adding maintenance job scheduler", "interval_minutes", interval)
	c.Start()
	return c
}

func (h *ViewerHandler) maintenanceJobFunc() {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Maintenance job panicked", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	if _, err := h.runMaintenance(ctx); err != nil {
		Logger.Error("Maintenance failed", "error", err)
	}
}

// runMaintenance drops recent entries for files that are gone and reports cache and render activity
func (h *ViewerHandler) runMaintenance(ctx context.Context) (maintenanceReport, error) {
	var report maintenanceReport
	if h.DB != nil {
		keep := h.Config.RecentMax
		if keep <= 0 {
			keep = -1 // unlimited
		}
		pruned, err := database.PruneRecent(ctx, h.DB, keep)
		if err != nil {
			return report, err
		}
		report.RecentPruned = pruned
	}
	report.Stats = h.stats()
	Logger.Info("Maintenance complete",
		"recent_pruned", report.RecentPruned,
		"documents", report.Stats.Documents,
		"cache_entries", report.Stats.Cache.Entries,
		"cache_bytes", report.Stats.Cache.Cost,
		"cache_hits", report.Stats.Cache.Hits,
		"cache_misses", report.Stats.Cache.Misses,
		"rendered", report.Stats.Render.Rendered,
		"render_failures", report.Stats.Render.Failed)
	return report, nil
}

func (h *ViewerHandler) stats() viewerStats {
	h.mu.RLock()
	open := len(h.docs)
	h.mu.RUnlock()
	return viewerStats{
		Documents: open,
		Cache:     h.Scheduler.Cache().Stats(),
		Render:    h.Scheduler.Stats(),
	}
}

// GetStats reports cache and render scheduler activity
func (h *ViewerHandler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.stats())
}

// RunMaintenanceNow runs the maintenance job immediately
// @Summary Run maintenance now
// @Tags System
// @Produce json
// @Router /maintenance [post]
func (h *ViewerHandler) RunMaintenanceNow(c echo.Context) error {
	report, err := h.runMaintenance(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
