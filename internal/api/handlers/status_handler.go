package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/esi"
)

type UpstreamStatus interface {
	Status(ctx context.Context) (*esi.ServerStatus, error)
	RateLimits() *esi.RateLimitState
}

type StatusHandler struct {
	upstream UpstreamStatus
	timeout  time.Duration
	logger   *zap.Logger
}

func NewStatusHandler(upstream UpstreamStatus, timeout time.Duration, logger *zap.Logger) *StatusHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{upstream: upstream, timeout: timeout, logger: logger}
}

// Status reports the upstream server status together with the error-limit
// headers of that same response. An unreachable upstream still answers 200 with
// reachable=false so dashboards can poll it.
func (h *StatusHandler) Status(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	status, err := h.upstream.Status(ctx)
	limits := h.upstream.RateLimits().Snapshot()
	if err != nil {
		h.logger.Warn("Upstream status unavailable", zap.Error(err))
		return c.JSON(fiber.Map{
			"reachable":   false,
			"error":       err.Error(),
			"rate_limits": limits,
		})
	}

	return c.JSON(fiber.Map{
		"reachable":   true,
		"server":      status,
		"rate_limits": limits,
	})
}
