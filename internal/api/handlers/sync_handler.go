package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/scheduler"
	"github.com/scan-intel/backend/internal/storage/models"
)

type SyncTrigger interface {
	Trigger(kind models.Kind) error
}

type SyncHandler struct {
	trigger SyncTrigger
	logger  *zap.Logger
}

func NewSyncHandler(trigger SyncTrigger, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{trigger: trigger, logger: logger}
}

var syncKinds = map[string]models.Kind{
	"all":           "",
	"pilots":        models.KindPilot,
	"organizations": models.KindOrganization,
	"alliances":     models.KindAlliance,
}

// Trigger queues a sync run. Progress is streamed on /ws/sync.
func (h *SyncHandler) Trigger(c *fiber.Ctx) error {
	name := c.Params("kind")
	kind, ok := syncKinds[name]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown sync kind",
			"kinds": []string{"all", "pilots", "organizations", "alliances"},
		})
	}

	if err := h.trigger.Trigger(kind); err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.Error("Failed to queue sync", zap.String("kind", name), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to queue sync"})
	}

	h.logger.Info("Sync queued", zap.String("kind", name), zap.String("ip", c.IP()))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued": name,
	})
}
