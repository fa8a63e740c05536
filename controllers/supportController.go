package controllers

import (
	"dispatch-backend/utils"

	"github.com/gofiber/fiber/v2"
)

// GET /api/support/requests?status=
func (h *Handler) ListByStatus(c *fiber.Ctx) error {
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	page, err := h.Lifecycle.ListByStatus(c.UserContext(), caller(c), f)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GET /api/support/requests/:id
func (h *Handler) SupportRequest(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	who := caller(c)
	messages, err := h.Chat.Audit(c.UserContext(), who, id)
	if err != nil {
		return err
	}
	req, err := h.Lifecycle.GetRequest(c.UserContext(), who, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"request": req, "messages": messages})
}

// GET /api/support/kpis?since=
func (h *Handler) KPIs(c *fiber.Ctx) error {
	since, err := utils.ParseTimeParam(c.Query("since"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "since must be an RFC3339 timestamp")
	}
	stats, err := h.Lifecycle.Stats(c.UserContext(), caller(c), since)
	if err != nil {
		return err
	}
	return c.JSON(stats)
}
