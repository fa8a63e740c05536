package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"dispatch-backend/controllers"
	"dispatch-backend/middlewares"
)

// Register wires all HTTP routes.
func Register(app *fiber.App, h *controllers.Handler, jwtSecret []byte, db *gorm.DB) {
	api := app.Group("/api")

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.Authenticated(jwtSecret))

	// Idempotency guards run after auth so keys are scoped per user.
	// replay stores the first response; fingerprint only checks the request
	// hash and leaves replay to the service (chat text and close codes stay
	// out of idempotency_keys).
	replay := middlewares.Idempotency(db)
	fingerprint := middlewares.IdempotencyFingerprint(db)

	// Requests
	protected.Post("/requests", fingerprint, h.CreateRequest)
	protected.Get("/requests", h.ListMyRequests)
	protected.Get("/requests/:id", h.GetRequest)
	protected.Post("/requests/:id/status", replay, h.UpdateStatus)
	protected.Post("/requests/:id/accept", replay, h.AcceptRequest)

	// Proof of close
	protected.Post("/requests/:id/close-code", fingerprint, h.GenerateCloseCode)
	protected.Post("/requests/:id/close", fingerprint, h.VerifyCloseCode)

	// Chat
	protected.Get("/requests/:id/messages", h.ListMessages)
	protected.Post("/requests/:id/messages", fingerprint, h.SendMessage)
	protected.Post("/requests/:id/messages/read", replay, h.MarkRead)

	// Fulfiller views
	protected.Get("/fulfiller/requests", h.ListFulfillerRequests)
	protected.Get("/pool/:kind", h.ListPool)

	// Support
	protected.Get("/support/requests", h.ListByStatus)
	protected.Get("/support/requests/:id", h.SupportRequest)
	protected.Get("/support/kpis", h.KPIs)
}
