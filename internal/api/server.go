package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/metrics"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/ws"
)

// NewServer mounts the websocket endpoint plus health and metrics.
func NewServer(handler *ws.Handler) *fiber.App {
	app := fiber.New()
	app.Use(fiberlogger.New())

	api := app.Group("/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(handler.HandleWS))

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return app
}
