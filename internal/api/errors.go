package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ratewatch/ratewatch/internal/models"
)

// respondError maps service errors onto their HTTP status.
func respondError(c *fiber.Ctx, err error) error {
	appErr := models.AsAppError(err)
	return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{
		"error": appErr.Message,
		"type":  appErr.Type,
	})
}
