package middlewares

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"dispatch-backend/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	maxKeyLen         = 128
)

// Idempotency processes Idempotency-Key for mutating HTTP methods, scoped per
// authenticated user. The first completed response is stored and replayed for
// retransmissions; a reused key with a different request yields 409.
func Idempotency(db *gorm.DB) fiber.Handler {
	return idempotency(db, true)
}

// IdempotencyFingerprint only records the request hash and rejects a reused
// key with a different request. Response bodies are never stored, so routes
// whose responses carry chat text or close codes must use this one and rely
// on the service to replay.
func IdempotencyFingerprint(db *gorm.DB) fiber.Handler {
	return idempotency(db, false)
}

func idempotency(db *gorm.DB, storeBody bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(IdempotencyHeader))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxKeyLen {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Idempotency-Key too long"})
		}

		userID, _ := Caller(c)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "auth context missing"})
		}

		path := c.OriginalURL() // includes query string
		reqHash := requestHash(method, path, c.Body(), userID)

		// ---- Phase 1: read or create the "pending" row
		var existing models.IdempotencyKey
		replay := false
		err := db.Transaction(func(tx *gorm.DB) error {
			err := tx.Where("user_id = ? AND key = ?", userID, key).First(&existing).Error
			if err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return fiber.NewError(fiber.StatusInternalServerError, "idempotency lookup failed")
				}
				rec := models.IdempotencyKey{
					UserID:      userID,
					Key:         key,
					RequestHash: reqHash,
					Method:      method,
					Path:        path,
				}
				if e2 := tx.Create(&rec).Error; e2 != nil {
					// unique race: read again
					if e3 := tx.Where("user_id = ? AND key = ?", userID, key).First(&existing).Error; e3 != nil {
						return fiber.NewError(fiber.StatusInternalServerError, "idempotency create failed")
					}
				} else {
					existing = rec
				}
			}

			if existing.RequestHash != reqHash {
				return fiber.NewError(fiber.StatusConflict, "Idempotency-Key reuse with different request")
			}
			replay = storeBody && existing.ResponseStatus != 0 && existing.ResponseBody != nil
			return nil
		})
		if err != nil {
			return err
		}
		if replay {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(existing.ResponseStatus).Send(existing.ResponseBody)
		}

		if err := c.Next(); err != nil {
			return err
		}

		// ---- Phase 2: store the response; failures never break the response
		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			return nil
		}
		now := time.Now().UTC()
		updates := map[string]any{
			"response_status": status,
			"completed_at":    &now,
		}
		if storeBody {
			resp := c.Response().Body()
			blob := make([]byte, len(resp))
			copy(blob, resp)
			updates["response_body"] = blob
		}
		if err := db.Model(&models.IdempotencyKey{}).
			Where("user_id = ? AND key = ?", userID, key).
			Updates(updates).Error; err != nil {
			slog.Warn("idempotency response not stored", "path", path, "error", err)
		}
		return nil
	}
}

// requestHash is sha256 of method|path|body|user.
func requestHash(method, path string, body []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	h.Write([]byte{'\n'})
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}
