package api

import (
	"errors"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/middleware"
	"github.com/fathima-sithara/chat-relay/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Handlers    *Handlers
	WS          *ws.Server
	RateLimiter *middleware.RateLimiter
	CORSOrigins string
	Metrics     bool
	Log         *zap.SugaredLogger
}

// NewServer builds the fiber app: message routes under /api/messages, the
// live socket at /ws, plus health and metrics.
func NewServer(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "chat-relay",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		ErrorHandler:          errorHandler(d.Log),
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: d.CORSOrigins}))
	app.Use(middleware.RequestLogger(d.Log))

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	if d.Metrics {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := app.Group("/api")
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.MiddlewareByKey(middleware.ByIP))
	}
	msgs := api.Group("/messages")
	msgs.Post("/getmessage", d.Handlers.getMessages)
	msgs.Post("/addmessage", d.Handlers.addMessage)
	msgs.Post("/deletemessage", d.Handlers.deleteMessage)
	msgs.Post("/hashistory", d.Handlers.hasHistory)
	api.Get("/presence/:userId", d.Handlers.presenceStatus)

	if d.WS != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", websocket.New(d.WS.HandleWS()))
	}

	return app
}

func errorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal server error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		} else {
			log.Errorw("unhandled error", "path", c.Path(), "error", err)
		}
		return c.Status(code).JSON(fiber.Map{"status": false, "msg": msg})
	}
}
