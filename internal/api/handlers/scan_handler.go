package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/middleware/validation"
	"github.com/scan-intel/backend/internal/scan"
	"github.com/scan-intel/backend/internal/storage/sqlite"
)

type ScanService interface {
	Submit(ctx context.Context, raw string) (*scan.Submission, error)
	Get(ctx context.Context, id string) (*scan.Submission, error)
}

type ScanHandler struct {
	service ScanService
	logger  *zap.Logger
}

func NewScanHandler(service ScanService, logger *zap.Logger) *ScanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanHandler{service: service, logger: logger}
}

func (h *ScanHandler) Submit(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.LocalsKey).(*validation.ScanRequest)
	if !ok {
		req = &validation.ScanRequest{}
		if err := c.BodyParser(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	sub, err := h.service.Submit(c.UserContext(), req.Content)
	switch {
	case errors.Is(err, scan.ErrEmptyScan):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "content is required"})
	case errors.Is(err, scan.ErrScanTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "content exceeds maximum length"})
	case err != nil:
		h.logger.Error("Failed to process scan", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process scan",
		})
	}

	status := fiber.StatusCreated
	if sub.Cached {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(sub)
}

func (h *ScanHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id is required"})
	}

	sub, err := h.service.Get(c.UserContext(), id)
	if errors.Is(err, sqlite.ErrScanNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "scan not found"})
	}
	if err != nil {
		h.logger.Error("Failed to load scan", zap.String("scan_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load scan",
		})
	}
	return c.JSON(sub)
}
