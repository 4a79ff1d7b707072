package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ratewatch/ratewatch/internal/models"
	"github.com/ratewatch/ratewatch/internal/services/entity"
	"github.com/ratewatch/ratewatch/internal/services/gate"
	"github.com/ratewatch/ratewatch/internal/services/history"
)

// LimitsHandler serves per-entity limit stats, configuration updates and
// minute history.
type LimitsHandler struct {
	entities *entity.Service
	gate     *gate.Service
	history  *history.Recorder
}

func NewLimitsHandler(entities *entity.Service, gateService *gate.Service, recorder *history.Recorder) *LimitsHandler {
	return &LimitsHandler{
		entities: entities,
		gate:     gateService,
		history:  recorder,
	}
}

func (h *LimitsHandler) RegisterRoutes(app *fiber.App, basePath string) {
	group := app.Group(basePath)
	group.Get("/:kind/:id/limits", h.GetLimits)
	group.Patch("/:kind/:id/limits", h.UpdateLimits)
	group.Get("/:kind/:id/limits/history", h.GetHistory)
}

func parseEntityPath(c *fiber.Ctx) (models.EntityKind, uint, error) {
	kind, err := models.ParseEntityKind(c.Params("kind"))
	if err != nil || kind == models.KindSystem {
		return "", 0, models.NewValidationError("invalid entity kind", err)
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return "", 0, models.NewValidationError("invalid entity id", err)
	}
	return kind, uint(id), nil
}

// GetLimits returns the entity's full limit picture: configuration, live
// usage, percentages, limited flags and any cooldown end.
func (h *LimitsHandler) GetLimits(c *fiber.Ctx) error {
	kind, id, err := parseEntityPath(c)
	if err != nil {
		return respondError(c, err)
	}

	ent, err := h.entities.Lookup(c.Context(), kind, id)
	if err != nil {
		return respondError(c, err)
	}

	usage, state := h.gate.State(c.Context(), ent)
	return c.JSON(entity.Stats(ent, usage, state))
}

// UpdateLimits applies a partial limit-configuration update.
func (h *LimitsHandler) UpdateLimits(c *fiber.Ctx) error {
	kind, id, err := parseEntityPath(c)
	if err != nil {
		return respondError(c, err)
	}

	var req models.UpdateLimitsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ent, err := h.entities.UpdateLimits(c.Context(), kind, id, &req)
	if err != nil {
		return respondError(c, err)
	}

	usage, state := h.gate.State(c.Context(), ent)
	return c.JSON(entity.Stats(ent, usage, state))
}

// GetHistory returns the entity's persisted minute buckets, ascending,
// paginated.
func (h *LimitsHandler) GetHistory(c *fiber.Ctx) error {
	kind, id, err := parseEntityPath(c)
	if err != nil {
		return respondError(c, err)
	}

	// 404 for unknown entities rather than an empty page.
	if _, err := h.entities.Lookup(c.Context(), kind, id); err != nil {
		return respondError(c, err)
	}

	query := models.HistoryQuery{}
	if v := c.Query("start_time"); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid start_time format",
			})
		}
		query.StartTime = start
	}
	if v := c.Query("end_time"); v != "" {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid end_time format",
			})
		}
		query.EndTime = end
	}
	query.Page, _ = strconv.Atoi(c.Query("page", "0"))
	query.Limit, _ = strconv.Atoi(c.Query("limit", "0"))

	page, err := h.history.Query(c.Context(), kind, id, query)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}
