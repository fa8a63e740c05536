package controllers

import (
	"strings"

	"dispatch-backend/middlewares"
	"dispatch-backend/models"
	"dispatch-backend/services"
	"dispatch-backend/utils"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the request core over HTTP.
type Handler struct {
	Lifecycle *services.Lifecycle
	Proof     *services.ProofCloseProtocol
	Chat      *services.ChatChannel
}

func NewHandler(l *services.Lifecycle, p *services.ProofCloseProtocol, ch *services.ChatChannel) *Handler {
	return &Handler{Lifecycle: l, Proof: p, Chat: ch}
}

func caller(c *fiber.Ctx) services.Caller {
	id, role := middlewares.Caller(c)
	return services.Caller{ID: id, Role: role}
}

func idempotencyKey(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(middlewares.IdempotencyHeader))
}

func requestID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "missing request id in path")
	}
	return id, nil
}

// listFilter reads ?status=&kind=&cursor=&limit=.
func listFilter(c *fiber.Ctx) (services.ListFilter, error) {
	f := services.ListFilter{Limit: utils.ParseIntDefault(c.Query("limit"), services.DefaultPageSize)}
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		st := models.RequestStatus(strings.ToLower(s))
		f.Status = &st
	}
	if k := strings.TrimSpace(c.Query("kind")); k != "" {
		kind := models.RequestKind(strings.ToLower(k))
		f.Kind = &kind
	}
	cursor, err := services.ParseCursor(c.Query("cursor"))
	if err != nil {
		return f, fiber.NewError(fiber.StatusBadRequest, "cursor must be a next_cursor value")
	}
	f.Cursor = cursor
	return f, nil
}
