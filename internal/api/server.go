package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/sync-service/internal/auth"
	"github.com/fathima-sithara/sync-service/internal/session"
	"github.com/fathima-sithara/sync-service/internal/ws"
)

func NewServer(sessions *session.Manager, hub *ws.Hub, jv *auth.JWTValidator) *fiber.App {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	h := NewHandlers(sessions)

	api := app.Group("/v1")
	api.Use(func(c *fiber.Ctx) error {
		hdr := c.Get("Authorization")
		if hdr == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing auth"})
		}
		const pref = "Bearer "
		if len(hdr) <= len(pref) || hdr[:len(pref)] != pref {
			return c.Status(401).JSON(fiber.Map{"error": "invalid auth"})
		}
		sub, err := jv.Validate(hdr[len(pref):])
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": err.Error()})
		}
		c.Locals("user_id", sub)
		return c.Next()
	})

	api.Get("/conversations", h.listConversations)
	api.Get("/conversations/:peer/messages", h.listMessages)
	api.Post("/conversations/:peer/messages", h.sendMessage)
	api.Post("/conversations/:peer/messages/:local_id/retry", h.retrySend)
	api.Post("/messages/read", h.markMessagesRead)
	api.Get("/notifications", h.listNotifications)
	api.Post("/notifications", h.createNotification)
	api.Post("/notifications/read", h.markNotificationsRead)
	api.Post("/push-tokens", h.registerToken)

	// websocket attach: token comes via query because browsers cannot set
	// headers on the upgrade request
	app.Get("/ws", func(c *fiber.Ctx) error {
		tok := c.Query("token")
		sub, err := jv.Validate(tok)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", sub)
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		if userID == "" {
			_ = conn.Close()
			return
		}
		if _, err := sessions.GetOrCreate(context.Background(), userID); err != nil {
			_ = conn.Close()
			return
		}
		hub.Attach(userID, conn)
	}))

	return app
}
