package controllers

import (
	"strings"

	"dispatch-backend/middlewares"
	"dispatch-backend/models"
	"dispatch-backend/services"

	"github.com/gofiber/fiber/v2"
)

type GeoPointDTO struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

type RequestCreateDTO struct {
	Kind        string         `json:"kind" validate:"required"`
	CategoryID  *string        `json:"category_id" validate:"omitempty,max=36"`
	Title       string         `json:"title" validate:"max=500"`
	Description string         `json:"description" validate:"max=5000"`
	Images      []string       `json:"images" validate:"max=10,dive,required,max=2048"`
	Location    *GeoPointDTO   `json:"location" validate:"omitempty"`
	Address     string         `json:"address" validate:"max=255"`
	Region      string         `json:"region" validate:"max=100"`
	Metadata    map[string]any `json:"metadata"`
}

type StatusUpdateDTO struct {
	Status     string  `json:"status" validate:"required"`
	Reason     *string `json:"reason" validate:"omitempty,max=2000"`
	FinalPrice *int64  `json:"final_price"`
}

// POST /api/requests
func (h *Handler) CreateRequest(c *fiber.Ctx) error {
	var in RequestCreateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	if in.CategoryID != nil && *in.CategoryID == "" {
		in.CategoryID = nil
	}

	input := services.CreateInput{
		Kind:        models.RequestKind(strings.ToLower(in.Kind)),
		CategoryID:  in.CategoryID,
		Title:       in.Title,
		Description: in.Description,
		Images:      in.Images,
		Address:     in.Address,
		Region:      in.Region,
		Metadata:    in.Metadata,
	}
	if in.Location != nil {
		input.Location = &models.GeoPoint{Lat: in.Location.Lat, Lon: in.Location.Lon}
	}

	req, err := h.Lifecycle.CreateRequest(c.UserContext(), caller(c).ID, input, idempotencyKey(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// GET /api/requests
func (h *Handler) ListMyRequests(c *fiber.Ctx) error {
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	page, err := h.Lifecycle.ListByRequester(c.UserContext(), caller(c).ID, f)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GET /api/fulfiller/requests
func (h *Handler) ListFulfillerRequests(c *fiber.Ctx) error {
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	page, err := h.Lifecycle.ListByFulfiller(c.UserContext(), caller(c).ID, f)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GET /api/pool/:kind
func (h *Handler) ListPool(c *fiber.Ctx) error {
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	kind := models.RequestKind(strings.ToLower(c.Params("kind")))
	page, err := h.Lifecycle.ListPool(c.UserContext(), kind, f)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GET /api/requests/:id
func (h *Handler) GetRequest(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	req, err := h.Lifecycle.GetRequest(c.UserContext(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(req)
}

// POST /api/requests/:id/status
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var in StatusUpdateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	req, err := h.Lifecycle.UpdateStatus(c.UserContext(), id, caller(c).ID, services.StatusChange{
		Status:     models.RequestStatus(strings.ToLower(in.Status)),
		Reason:     in.Reason,
		FinalPrice: in.FinalPrice,
	})
	if err != nil {
		return err
	}
	return c.JSON(req)
}

// POST /api/requests/:id/accept
func (h *Handler) AcceptRequest(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	req, err := h.Lifecycle.AcceptAs(c.UserContext(), id, caller(c))
	if err != nil {
		return err
	}
	return c.JSON(req)
}
