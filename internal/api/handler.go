package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/sync-service/internal/model"
	"github.com/fathima-sithara/sync-service/internal/session"
)

type Handlers struct {
	sessions *session.Manager
}

func NewHandlers(sessions *session.Manager) *Handlers {
	return &Handlers{sessions: sessions}
}

func (h *Handlers) session(c *fiber.Ctx) (*session.Session, error) {
	user, _ := c.Locals("user_id").(string)
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()
	return h.sessions.GetOrCreate(ctx, user)
}

func (h *Handlers) listConversations(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"data": s.Conversations()})
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"data": s.Messages(c.Params("peer"))})
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil || req.Content == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	entry := s.Send(c.Params("peer"), req.Content)
	// 202: the write is in flight; the entry is already visible locally
	return c.Status(202).JSON(fiber.Map{"data": entry})
}

func (h *Handlers) retrySend(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if !s.RetrySend(c.Params("peer"), c.Params("local_id")) {
		return c.Status(404).JSON(fiber.Map{"error": "no failed entry with that id"})
	}
	return c.Status(202).JSON(fiber.Map{"status": "retrying"})
}

func (h *Handlers) markMessagesRead(c *fiber.Ctx) error {
	var req struct {
		Peer string   `json:"peer"`
		IDs  []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil || req.Peer == "" || len(req.IDs) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	s.MarkMessagesRead(req.Peer, req.IDs)
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) listNotifications(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"data":   s.Notifications(),
		"unread": s.UnreadNotifications(),
	})
}

func (h *Handlers) createNotification(c *fiber.Ctx) error {
	var req struct {
		Title   string `json:"title"`
		Message string `json:"message"`
		Type    string `json:"type"`
		Link    string `json:"link"`
	}
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	n := s.CreateNotification(model.Notification{
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
		Link:    req.Link,
	})
	return c.Status(201).JSON(fiber.Map{"data": n})
}

func (h *Handlers) markNotificationsRead(c *fiber.Ctx) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.IDs) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	s.MarkNotificationsRead(req.IDs)
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) registerToken(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	s, err := h.session(c)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()
	if err := s.RegisterToken(ctx, req.Token); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(201).JSON(fiber.Map{"status": "ok"})
}
