package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ratewatch/ratewatch/internal/models"
	"github.com/ratewatch/ratewatch/internal/services/gate"
)

// EventsHandler ingests traffic events reported by the request pipeline.
type EventsHandler struct {
	gate *gate.Service
}

func NewEventsHandler(gateService *gate.Service) *EventsHandler {
	return &EventsHandler{gate: gateService}
}

func (h *EventsHandler) RegisterRoutes(app *fiber.App, basePath string) {
	app.Post(basePath, h.IngestEvent)
}

type eventRequest struct {
	Kind     string `json:"kind"`
	EntityID uint   `json:"entity_id"`
	models.TokenDeltas
}

// IngestEvent records one traffic event and answers with the gate verdict.
// The event is counted regardless of the verdict; a 429 tells the pipeline
// the entity should be throttled from here on.
func (h *EventsHandler) IngestEvent(c *fiber.Ctx) error {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	kind, err := models.ParseEntityKind(req.Kind)
	if err != nil || kind == models.KindSystem {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid entity kind",
		})
	}

	verdict, err := h.gate.Ingest(c.Context(), kind, req.EntityID, req.TokenDeltas)
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusOK
	if !verdict.Allowed {
		status = fiber.StatusTooManyRequests
	}
	return c.Status(status).JSON(verdict)
}
