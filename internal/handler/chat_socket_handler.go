package handler

import (
	"context"

	"epichat-be/internal/dto"
	"epichat-be/internal/pkg/logger"
	"epichat-be/internal/pkg/serverutils"
	"epichat-be/internal/service"
	internalWS "epichat-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
)

const module = "ChatSocket"

// ChatSocketHandler serves /ws/chat/:sessionId. Every tab open on a session sees every
// reply for it.
type ChatSocketHandler struct {
	service service.IChatService
	hub     *internalWS.Hub
	logger  logger.ILogger
	// secret is empty when auth is disabled
	secret string
}

func NewChatSocketHandler(service service.IChatService, hub *internalWS.Hub, secret string, log logger.ILogger) *ChatSocketHandler {
	return &ChatSocketHandler{
		service: service,
		hub:     hub,
		logger:  log,
		secret:  secret,
	}
}

func (h *ChatSocketHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/chat/:sessionId", h.ServeWs)
}

// ServeWs handles websocket requests from the peer.
func (h *ChatSocketHandler) ServeWs(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if sessionID == "" || len(sessionID) > 128 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	if h.secret != "" {
		if err := h.authorize(c); err != nil {
			h.logger.Warn(module, "Invalid Token in WS Handshake", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info(module, "Starting WebSocket session", map[string]interface{}{"session_id": sessionID})
			internalWS.ServeWs(h.hub, conn, sessionID, h.turn)
			h.logger.Info(module, "WebSocket session ended", map[string]interface{}{"session_id": sessionID})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *ChatSocketHandler) turn(ctx context.Context, sessionID string, in internalWS.Inbound) (interface{}, error) {
	req := &dto.SendMessageRequest{
		SessionId: sessionID,
		Message:   in.Message,
		Mode:      in.Mode,
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return nil, err
	}
	return h.service.SendMessage(ctx, req)
}

// authorize accepts the token as a query param (browsers) or a bearer header (tooling)
func (h *ChatSocketHandler) authorize(c *fiber.Ctx) error {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		}
	}
	if tokenStr == "" {
		return fiber.ErrUnauthorized
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return fiber.ErrUnauthorized
	}
	return nil
}
