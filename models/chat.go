package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChatMessage is immutable after creation except for the read state. The
// body is stored sealed; see security.MessageCipher.
type ChatMessage struct {
	ID             string                      `json:"id" gorm:"primaryKey;size:36"`
	RequestID      string                      `json:"request_id" gorm:"size:36;not null;index:idx_chat_messages_request_created,priority:1"`
	SenderID       string                      `json:"sender_id" gorm:"size:255;not null;index:idx_chat_messages_pair,priority:1"`
	RecipientID    string                      `json:"recipient_id" gorm:"size:255;not null;index:idx_chat_messages_pair,priority:2"`
	Direction      string                      `json:"direction" gorm:"size:40;not null"`
	KeyID          string                      `json:"-" gorm:"size:32;not null"`
	BodyNonce      []byte                      `json:"-" gorm:"not null"`
	BodyCiphertext []byte                      `json:"-" gorm:"not null"`
	PhonesMasked   datatypes.JSONSlice[string] `json:"phones_masked,omitempty"`
	LinksMasked    datatypes.JSONSlice[string] `json:"links_masked,omitempty"`
	IsUrgent       bool                        `json:"is_urgent" gorm:"not null;default:false"`
	IsRead         bool                        `json:"is_read" gorm:"not null;default:false"`
	ReadAt         *time.Time                  `json:"read_at,omitempty"`
	IdempotencyKey string                      `json:"-" gorm:"size:128;not null;uniqueIndex"`
	CreatedAt      time.Time                   `json:"created_at" gorm:"index:idx_chat_messages_request_created,priority:2;index:idx_chat_messages_pair,priority:3"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return
}
