package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"dispatch-backend/clients"
	"dispatch-backend/database"
	"dispatch-backend/models"
	"dispatch-backend/security"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MaxMessageRunes      = 4000
	DefaultMessagePage   = 50
	MaxMessagePage       = 100
	ciphertextBodyPrefix = "enc:"
)

// MessageView is a chat message with its body opened for the reader.
type MessageView struct {
	models.ChatMessage
	Body string `json:"body"`
	// BodyUnavailable is set when the stored body could not be opened; Body
	// then carries the base64 ciphertext so history keeps its shape.
	BodyUnavailable bool `json:"body_unavailable,omitempty"`
}

type MessagePage struct {
	Items      []MessageView `json:"items"`
	NextCursor *Cursor       `json:"next_cursor,omitempty"`
}

// ChatChannel is the per-request encrypted conversation between the
// requester and the currently assigned fulfiller.
type ChatChannel struct {
	d Deps
}

func NewChatChannel(d Deps) (*ChatChannel, error) {
	d = d.withDefaults()
	if d.Cipher == nil {
		return nil, errors.New("chat channel needs a message cipher")
	}
	return &ChatChannel{d: d}, nil
}

type SendInput struct {
	RequestID      string
	SenderID       string
	Body           string
	Urgent         bool
	IdempotencyKey string
}

// Send filters, seals and stores one message. Replaying the idempotency key
// returns the stored message.
func (c *ChatChannel) Send(ctx context.Context, in SendInput) (*MessageView, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return nil, validationFailed("idempotency_key", "IDEMPOTENCY_KEY_REQUIRED", "an idempotency key is required")
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, validationFailed("body", "BODY_REQUIRED", "message body is required")
	}
	if utf8.RuneCountInString(body) > MaxMessageRunes {
		return nil, validationFailed("body", "BODY_TOO_LONG", fmt.Sprintf("message body exceeds %d characters", MaxMessageRunes))
	}
	db := c.d.DB.WithContext(ctx)

	if prior, err := c.findByKey(db, key); err != nil {
		return nil, err
	} else if prior != nil {
		return c.replay(prior, in)
	}

	req, err := loadRequest(db, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(in.SenderID) {
		return nil, errNotParty
	}
	policy, err := c.d.Kinds.For(req.Kind)
	if err != nil {
		return nil, err
	}
	recipientID, direction := counterparty(req, policy, in.SenderID)
	if recipientID == "" {
		return nil, invalidState("NO_COUNTERPARTY", "request has no assigned fulfiller to talk to")
	}

	now := c.d.now()
	if ok, wait := c.d.ChatLimiter.Take(in.SenderID, now); !ok {
		return nil, &Error{Kind: KindRateLimited, Code: "CHAT_RATE_LIMITED", Message: "too many messages, slow down", RetryAfter: wait}
	}

	filtered := FilterContent(body)
	msg := models.ChatMessage{
		ID:             uuid.NewString(),
		RequestID:      req.ID,
		SenderID:       in.SenderID,
		RecipientID:    recipientID,
		Direction:      direction,
		PhonesMasked:   datatypes.JSONSlice[string](filtered.PhonesMasked),
		LinksMasked:    datatypes.JSONSlice[string](filtered.LinksMasked),
		IsUrgent:       in.Urgent,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	sealed, err := c.d.Cipher.Seal([]byte(filtered.Body), messageAAD(msg.RequestID, msg.ID))
	if err != nil {
		return nil, fmt.Errorf("seal message: %w", err)
	}
	msg.KeyID, msg.BodyNonce, msg.BodyCiphertext = sealed.KeyID, sealed.Nonce, sealed.Ciphertext

	if err := db.Create(&msg).Error; err != nil {
		if database.IsUniqueViolation(err) {
			if prior, ferr := c.findByKey(db, key); ferr == nil && prior != nil {
				return c.replay(prior, in)
			}
		}
		return nil, fmt.Errorf("store message: %w", err)
	}

	c.d.Metrics.ChatMessage(filtered.Redacted)
	c.d.Logger.Info("chat message stored",
		"request_id", req.ID,
		"actor_id", in.SenderID,
		"message_id", msg.ID,
		"redacted", filtered.Redacted,
	)
	c.d.notify(ctx, clients.Event{
		Type:        clients.EventNewMessage,
		RequestID:   req.ID,
		RecipientID: recipientID,
		MessageID:   msg.ID,
		IsUrgent:    msg.IsUrgent,
	})
	return &MessageView{ChatMessage: msg, Body: filtered.Body}, nil
}

func (c *ChatChannel) replay(prior *models.ChatMessage, in SendInput) (*MessageView, error) {
	if prior.SenderID != in.SenderID || prior.RequestID != in.RequestID {
		return nil, conflict("IDEMPOTENCY_KEY_IN_USE", "idempotency key belongs to another message")
	}
	v := c.open(*prior)
	return &v, nil
}

// List returns the caller's conversation newest first. Pass the returned
// NextCursor to fetch older messages.
func (c *ChatChannel) List(ctx context.Context, requestID, callerID string, cursor *Cursor, limit int) (*MessagePage, error) {
	db := c.d.DB.WithContext(ctx)
	req, err := loadRequest(db, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(callerID) {
		return nil, errNotParty
	}
	policy, err := c.d.Kinds.For(req.Kind)
	if err != nil {
		return nil, err
	}
	other, _ := counterparty(req, policy, callerID)
	if other == "" {
		return &MessagePage{Items: []MessageView{}}, nil
	}

	if limit <= 0 {
		limit = DefaultMessagePage
	}
	if limit > MaxMessagePage {
		limit = MaxMessagePage
	}
	q := db.Where("request_id = ?", req.ID).
		Where("((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
			callerID, other, other, callerID)
	q = cursor.before(q)
	var rows []models.ChatMessage
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &MessagePage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		page.NextCursor = cursorAfter(last.CreatedAt, last.ID)
	}
	page.Items = make([]MessageView, 0, len(rows))
	for _, m := range rows {
		page.Items = append(page.Items, c.open(m))
	}
	return page, nil
}

// MarkRead flags messages addressed to callerID as read and reports how
// many changed.
func (c *ChatChannel) MarkRead(ctx context.Context, requestID, callerID string, messageIDs []string) (int64, error) {
	db := c.d.DB.WithContext(ctx)
	req, err := loadRequest(db, requestID)
	if err != nil {
		return 0, err
	}
	if !req.IsParty(callerID) {
		return 0, errNotParty
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}
	now := c.d.now()
	res := db.Model(&models.ChatMessage{}).
		Where("request_id = ? AND recipient_id = ? AND id IN ? AND is_read = ?", req.ID, callerID, messageIDs, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Audit returns every message on a request, oldest first, for support.
func (c *ChatChannel) Audit(ctx context.Context, caller Caller, requestID string) ([]MessageView, error) {
	if !caller.IsSupport() {
		return nil, forbidden("SUPPORT_ONLY", "chat audit is restricted to support")
	}
	db := c.d.DB.WithContext(ctx)
	if _, err := loadRequest(db, requestID); err != nil {
		return nil, err
	}
	var rows []models.ChatMessage
	if err := db.Where("request_id = ?", requestID).Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit messages: %w", err)
	}
	c.d.Logger.Info("chat audit read", "request_id", requestID, "actor_id", caller.ID, "count", len(rows))
	out := make([]MessageView, 0, len(rows))
	for _, m := range rows {
		out = append(out, c.open(m))
	}
	return out, nil
}

func (c *ChatChannel) findByKey(db *gorm.DB, key string) (*models.ChatMessage, error) {
	var m models.ChatMessage
	if err := db.Where("idempotency_key = ?", key).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// open decrypts m. A body that fails to open is returned as marked base64
// ciphertext instead of an error.
func (c *ChatChannel) open(m models.ChatMessage) MessageView {
	plain, err := c.d.Cipher.Open(security.Sealed{
		KeyID:      m.KeyID,
		Nonce:      m.BodyNonce,
		Ciphertext: m.BodyCiphertext,
	}, messageAAD(m.RequestID, m.ID))
	if err != nil {
		c.d.Logger.Warn("chat body unavailable", "message_id", m.ID, "key_id", m.KeyID, "error", err)
		return MessageView{
			ChatMessage:     m,
			Body:            ciphertextBodyPrefix + base64.StdEncoding.EncodeToString(m.BodyCiphertext),
			BodyUnavailable: true,
		}
	}
	return MessageView{ChatMessage: m, Body: string(plain)}
}

// messageAAD binds a ciphertext to its request and message ids.
func messageAAD(requestID, messageID string) []byte {
	return []byte("chat:" + requestID + ":" + messageID)
}

// counterparty returns who userID talks to on req and the message
// direction label, e.g. "requester_to_captain".
func counterparty(req *models.Request, policy KindPolicy, userID string) (string, string) {
	if userID == req.RequesterID {
		f := req.FulfillerID()
		if f == "" {
			return "", ""
		}
		return f, RoleRequester + "_to_" + policy.FulfillerRole
	}
	return req.RequesterID, policy.FulfillerRole + "_to_" + RoleRequester
}
