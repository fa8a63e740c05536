package middlewares

import (
	"errors"
	"log/slog"
	"math"
	"strconv"

	"dispatch-backend/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindNotFound:         fiber.StatusNotFound,
	services.KindForbidden:        fiber.StatusForbidden,
	services.KindInvalidState:     fiber.StatusBadRequest,
	services.KindValidationFailed: fiber.StatusUnprocessableEntity,
	services.KindConflict:         fiber.StatusConflict,
	services.KindUpstreamFailure:  fiber.StatusBadGateway,
	services.KindRateLimited:      fiber.StatusTooManyRequests,
}

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(c *fiber.Ctx, err error) error {
	// 1) Domain errors (typed kind + stable code)
	var se *services.Error
	if errors.As(err, &se) {
		status, ok := kindStatus[se.Kind]
		if !ok {
			status = fiber.StatusBadRequest
		}
		body := fiber.Map{"message": se.Message, "code": se.Code, "kind": se.Kind}
		if se.Field != "" {
			body["field"] = se.Field
		}
		if se.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(se.RetryAfter.Seconds()))))
		}
		return c.Status(status).JSON(body)
	}

	// 2) Fiber errors (use their status code + message)
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	// 3) Validation errors (422 + per-field info)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := make(map[string]string, len(ve))
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "validation failed",
			"errors":  out,
		})
	}

	// 4) Unknown errors (500)
	slog.Error("internal error", "path", c.Path(), "method", c.Method(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "internal server error",
	})
}
