package handler

import (
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/pkg/serverutils"
	internalWS "openrecords-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ProgressHandler upgrades authenticated requests to a websocket that
// receives the caller's ingestion progress.
type ProgressHandler struct {
	hub    *internalWS.Hub
	logger logger.ILogger
}

func NewProgressHandler(hub *internalWS.Hub, log logger.ILogger) *ProgressHandler {
	return &ProgressHandler{hub: hub, logger: log}
}

func (h *ProgressHandler) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	ws := r.Group("/ws")
	ws.Use(auth)
	ws.Get("/ingestion", h.ServeWs)
}

func (h *ProgressHandler) ServeWs(c *fiber.Ctx) error {
	userID, err := serverutils.UserID(c)
	if err != nil {
		return err
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("ProgressHandler", "WebSocket session started", map[string]interface{}{"user_id": userID})
		internalWS.ServeWs(h.hub, conn, userID)
		h.logger.Info("ProgressHandler", "WebSocket session ended", map[string]interface{}{"user_id": userID})
	})(c)
}
