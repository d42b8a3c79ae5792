package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/progress"
)

type ProgressSource interface {
	Subscribe() (<-chan progress.Event, func())
}

type WebSocketHandler struct {
	source       ProgressSource
	pingInterval time.Duration
	logger       *zap.Logger
}

func NewWebSocketHandler(source ProgressSource, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{source: source, pingInterval: 30 * time.Second, logger: logger}
}

// Upgrade rejects plain HTTP requests on the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection streams sync progress events until the client goes away.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	events, cancel := h.source.Subscribe()
	h.logger.Info("WebSocket connection established", zap.String("remote", c.RemoteAddr().String()))

	defer func() {
		cancel()
		c.Close()
		h.logger.Info("WebSocket connection closed")
	}()

	// Clients only listen; the read loop notices when they disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(fiber.Map{"type": "sync_progress", "event": ev}); err != nil {
				h.logger.Debug("Failed to write progress event", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
