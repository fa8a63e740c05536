package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProofClose holds the pending close code for one request. Only the bcrypt
// hash of the code is stored; the plaintext goes to the requester out of band.
type ProofClose struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	RequestID      string     `json:"request_id" gorm:"size:36;not null;uniqueIndex"`
	CodeHash       []byte     `json:"-" gorm:"not null"`
	IssuedByID     string     `json:"issued_by_id" gorm:"size:255;not null"`
	VerifiedByID   *string    `json:"verified_by_id,omitempty" gorm:"size:255"`
	RecipientName  *string    `json:"recipient_name,omitempty" gorm:"size:255"`
	IsVerified     bool       `json:"is_verified" gorm:"not null;default:false"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	IdempotencyKey *string    `json:"-" gorm:"size:128;uniqueIndex"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (p *ProofClose) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return
}
