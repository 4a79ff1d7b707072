package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ratewatch/ratewatch/internal/services/dashboard"
)

// DashboardHandler serves the aggregated dashboard snapshot and the
// system-scope stats.
type DashboardHandler struct {
	aggregator *dashboard.Aggregator
}

func NewDashboardHandler(aggregator *dashboard.Aggregator) *DashboardHandler {
	return &DashboardHandler{aggregator: aggregator}
}

func (h *DashboardHandler) RegisterRoutes(app *fiber.App, basePath string) {
	group := app.Group(basePath)
	group.Get("/dashboard/limits", h.GetSnapshot)
	group.Get("/system/limits", h.GetSystemStats)
}

func (h *DashboardHandler) GetSnapshot(c *fiber.Ctx) error {
	return c.JSON(h.aggregator.Snapshot(c.Context()))
}

func (h *DashboardHandler) GetSystemStats(c *fiber.Ctx) error {
	return c.JSON(h.aggregator.SystemStats(c.Context()))
}
