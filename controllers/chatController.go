package controllers

import (
	"dispatch-backend/middlewares"
	"dispatch-backend/services"
	"dispatch-backend/utils"

	"github.com/gofiber/fiber/v2"
)

type MessageSendDTO struct {
	Body   string `json:"body"`
	Urgent bool   `json:"urgent"`
}

type MarkReadDTO struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=100,dive,uuid"`
}

// GET /api/requests/:id/messages?cursor=&limit=
func (h *Handler) ListMessages(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	cursor, err := services.ParseCursor(c.Query("cursor"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cursor must be a next_cursor value")
	}
	limit := utils.ParseIntDefault(c.Query("limit"), services.DefaultMessagePage)
	page, err := h.Chat.List(c.UserContext(), id, caller(c).ID, cursor, limit)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// POST /api/requests/:id/messages
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var in MessageSendDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	msg, err := h.Chat.Send(c.UserContext(), services.SendInput{
		RequestID:      id,
		SenderID:       caller(c).ID,
		Body:           in.Body,
		Urgent:         in.Urgent,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// POST /api/requests/:id/messages/read
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var in MarkReadDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	n, err := h.Chat.MarkRead(c.UserContext(), id, caller(c).ID, in.MessageIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"updated": n})
}
