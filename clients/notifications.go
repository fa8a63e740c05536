package clients

import (
	"context"
	"time"
)

type EventType string

const (
	EventRequestCreated  EventType = "request/created"
	EventRequestAccepted EventType = "request/accepted"
	EventStatusChanged   EventType = "request/status"
	EventRequestClosed   EventType = "request/closed"
	EventNewMessage      EventType = "message/new"
	EventCloseCodeIssued EventType = "close-code/generated"
)

// Event is the payload of one notification. Unused fields are omitted.
type Event struct {
	Type        EventType `json:"-"`
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id,omitempty"`
	FulfillerID string    `json:"fulfiller_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Status      string    `json:"status,omitempty"`
	OldStatus   string    `json:"old_status,omitempty"`
	NewStatus   string    `json:"new_status,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	IsUrgent    bool      `json:"is_urgent,omitempty"`
}

type NotificationClient struct {
	BaseURL string
	Timeout time.Duration
}

func NewNotificationClient(baseURL string, timeout time.Duration) *NotificationClient {
	return &NotificationClient{BaseURL: trimBase(baseURL), Timeout: timeout}
}

// Notify posts ev to /notifications/<type>. The response body is ignored.
func (c *NotificationClient) Notify(ctx context.Context, ev Event) error {
	return postJSON(ctx, c.BaseURL+"/notifications/"+string(ev.Type), c.Timeout, nil, ev, nil)
}
