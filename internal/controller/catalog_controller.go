package controller

import (
	"epichat-be/internal/pkg/serverutils"
	"epichat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ICatalogController exposes what the engine can do: guided workflows, capabilities
// and the intent taxonomy.
type ICatalogController interface {
	RegisterRoutes(r fiber.Router)
	GetWorkflows(ctx *fiber.Ctx) error
	GetCapabilities(ctx *fiber.Ctx) error
	GetTaxonomy(ctx *fiber.Ctx) error
}

type catalogController struct {
	chatService service.IChatService
}

func NewCatalogController(chatService service.IChatService) ICatalogController {
	return &catalogController{
		chatService: chatService,
	}
}

func (c *catalogController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Get("workflows", c.GetWorkflows)
	h.Get("capabilities", c.GetCapabilities)
	h.Get("intents", c.GetTaxonomy)
}

func (c *catalogController) GetWorkflows(ctx *fiber.Ctx) error {
	res, err := c.chatService.GetWorkflows(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get workflows", res))
}

func (c *catalogController) GetCapabilities(ctx *fiber.Ctx) error {
	res, err := c.chatService.GetCapabilities(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get capabilities", res))
}

func (c *catalogController) GetTaxonomy(ctx *fiber.Ctx) error {
	res, err := c.chatService.GetTaxonomy(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get intents", res))
}
