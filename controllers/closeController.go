package controllers

import (
	"dispatch-backend/middlewares"
	"dispatch-backend/services"

	"github.com/gofiber/fiber/v2"
)

type CloseVerifyDTO struct {
	Code          string `json:"code"`
	RecipientName string `json:"recipient_name" validate:"max=255"`
}

// POST /api/requests/:id/close-code
// The plain code is returned once, to the fulfiller only.
func (h *Handler) GenerateCloseCode(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	code, err := h.Proof.GenerateCloseCode(c.UserContext(), id, caller(c).ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"request_id": id, "close_code": code})
}

// POST /api/requests/:id/close
func (h *Handler) VerifyCloseCode(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var in CloseVerifyDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	req, err := h.Proof.VerifyCloseCode(c.UserContext(), services.VerifyInput{
		RequestID:      id,
		ActorID:        caller(c).ID,
		Code:           in.Code,
		RecipientName:  in.RecipientName,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(req)
}
