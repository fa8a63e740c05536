package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RequestKind string

const (
	KindInstant     RequestKind = "instant"
	KindSpecialized RequestKind = "specialized"
)

type RequestStatus string

const (
	StatusPending       RequestStatus = "pending"
	StatusPricingReview RequestStatus = "pricing_review"
	StatusRouted        RequestStatus = "routed"
	StatusAccepted      RequestStatus = "accepted"
	StatusInProgress    RequestStatus = "in_progress"
	StatusCompleted     RequestStatus = "completed"
	StatusCancelled     RequestStatus = "cancelled"
	StatusEscalated     RequestStatus = "escalated"
	StatusDisputed      RequestStatus = "disputed"
	StatusClosed        RequestStatus = "closed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []RequestStatus{
	StatusPending, StatusPricingReview, StatusRouted, StatusAccepted, StatusInProgress,
	StatusCompleted, StatusCancelled, StatusEscalated, StatusDisputed, StatusClosed,
}

type RoutingOutcome string

const (
	RoutingDirectPool      RoutingOutcome = "direct_pool"
	RoutingSpecializedPool RoutingOutcome = "specialized_pool"
	RoutingManualQueue     RoutingOutcome = "manual_queue"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Request is the brokered job. Rows are never deleted; CLOSED and CANCELLED
// are terminal.
type Request struct {
	ID          string                        `json:"id" gorm:"primaryKey;size:36"`
	RequesterID string                        `json:"requester_id" gorm:"size:255;not null;index:idx_requests_requester_status,priority:1"`
	Kind        RequestKind                   `json:"kind" gorm:"size:20;not null;index:idx_requests_kind_status,priority:1"`
	CategoryID  *string                       `json:"category_id,omitempty" gorm:"size:36;index"`
	Title       string                        `json:"title" gorm:"size:500;not null"`
	Description string                        `json:"description" gorm:"type:text"`
	Images      datatypes.JSONSlice[string]   `json:"images,omitempty"`
	Location    datatypes.JSONType[*GeoPoint] `json:"location"`
	Address     string                        `json:"address,omitempty" gorm:"size:255"`
	Region      string                        `json:"region,omitempty" gorm:"size:100"`
	Status      RequestStatus                 `json:"status" gorm:"size:20;not null;index:idx_requests_requester_status,priority:2;index:idx_requests_kind_status,priority:2"`
	Routing     *RoutingOutcome               `json:"routing_outcome,omitempty" gorm:"column:routing_outcome;size:30"`

	AssignedCaptainID  *string `json:"assigned_captain_id,omitempty" gorm:"size:255;index"`
	AssignedProviderID *string `json:"assigned_provider_id,omitempty" gorm:"size:255;index"`

	PriceMin              *int64 `json:"price_min,omitempty"`
	PriceMax              *int64 `json:"price_max,omitempty"`
	PriceFinal            *int64 `json:"price_final,omitempty"`
	PricingRequiresReview bool   `json:"pricing_requires_review" gorm:"not null;default:false"`

	CloseCode          *string `json:"close_code,omitempty" gorm:"size:6"`
	CloseRecipientName *string `json:"close_recipient_name,omitempty" gorm:"size:255"`

	LedgerTransactionID *string `json:"ledger_transaction_id,omitempty" gorm:"size:64;index"`
	LedgerEntryType     *string `json:"ledger_entry_type,omitempty" gorm:"size:64"`

	IdempotencyKey string `json:"-" gorm:"size:128;not null;uniqueIndex"`

	PricedAt     *time.Time `json:"priced_at,omitempty"`
	RoutedAt     *time.Time `json:"routed_at,omitempty"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	InProgressAt *time.Time `json:"in_progress_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	EscalatedAt  *time.Time `json:"escalated_at,omitempty"`
	DisputedAt   *time.Time `json:"disputed_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`

	CancellationReason    *string `json:"cancellation_reason,omitempty" gorm:"type:text"`
	EscalationReason      *string `json:"escalation_reason,omitempty" gorm:"type:text"`
	DisputeReason         *string `json:"dispute_reason,omitempty" gorm:"type:text"`
	ResolutionTimeMinutes *int    `json:"resolution_time_minutes,omitempty"`

	Metadata datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Request) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return
}

// FulfillerID returns whichever fulfiller is assigned, or "".
func (r *Request) FulfillerID() string {
	if r.AssignedCaptainID != nil {
		return *r.AssignedCaptainID
	}
	if r.AssignedProviderID != nil {
		return *r.AssignedProviderID
	}
	return ""
}

// IsParty reports whether userID is the requester or the assigned fulfiller.
func (r *Request) IsParty(userID string) bool {
	if userID == "" {
		return false
	}
	return r.RequesterID == userID || r.FulfillerID() == userID
}
