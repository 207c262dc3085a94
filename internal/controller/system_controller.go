package controller

import (
	"context"
	"net/http"
	"time"

	"epichat-be/internal/pkg/serverutils"
	"epichat-be/pkg/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

const healthProbeSession = "__health__"

type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// ISystemController serves liveness and Prometheus scrapes
type ISystemController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
}

type systemController struct {
	backend store.Backend
	metrics http.Handler
}

func NewSystemController(backend store.Backend, metrics http.Handler) ISystemController {
	return &systemController{backend: backend, metrics: metrics}
}

func (c *systemController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)
	if c.metrics != nil {
		r.Get("/metrics", adaptor.HTTPHandler(c.metrics))
	}
}

// Health reads a reserved session so an unreachable store reports 503
func (c *systemController) Health(ctx *fiber.Ctx) error {
	probeCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	if _, err := c.backend.Load(probeCtx, healthProbeSession); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("OK", HealthResponse{Status: "ok", Backend: c.backend.Name()}))
}
