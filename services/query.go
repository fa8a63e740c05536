package services

import (
	"context"
	"fmt"

	"dispatch-backend/models"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Caller identifies who is asking. Role comes from the auth token.
type Caller struct {
	ID   string
	Role string
}

func (c Caller) IsSupport() bool { return c.Role == RoleSupport }

type ListFilter struct {
	Status *models.RequestStatus
	Kind   *models.RequestKind
	Cursor *Cursor
	Limit  int
}

type Page struct {
	Items      []models.Request `json:"items"`
	NextCursor *Cursor          `json:"next_cursor,omitempty"`
}

// GetRequest returns one request to a party or to support staff.
func (l *Lifecycle) GetRequest(ctx context.Context, caller Caller, requestID string) (*models.Request, error) {
	req, err := loadRequest(l.d.DB.WithContext(ctx), requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(caller.ID) && !caller.IsSupport() {
		return nil, errNotParty
	}
	return req, nil
}

func (l *Lifecycle) ListByRequester(ctx context.Context, requesterID string, f ListFilter) (*Page, error) {
	return l.list(l.d.DB.WithContext(ctx).Where("requester_id = ?", requesterID), f)
}

// ListByFulfiller lists requests assigned to fulfillerID under either role.
func (l *Lifecycle) ListByFulfiller(ctx context.Context, fulfillerID string, f ListFilter) (*Page, error) {
	q := l.d.DB.WithContext(ctx).
		Where("(assigned_captain_id = ? OR assigned_provider_id = ?)", fulfillerID, fulfillerID)
	return l.list(q, f)
}

// ListByStatus is the support queue view.
func (l *Lifecycle) ListByStatus(ctx context.Context, caller Caller, f ListFilter) (*Page, error) {
	if !caller.IsSupport() {
		return nil, forbidden("SUPPORT_ONLY", "listing by status is restricted to support")
	}
	if f.Status == nil {
		return nil, validationFailed("status", "STATUS_REQUIRED", "status filter is required")
	}
	return l.list(l.d.DB.WithContext(ctx), f)
}

// ListPool lists open, unclaimed requests of a kind for fulfillers to
// browse. Manual-queue requests are not in any pool.
func (l *Lifecycle) ListPool(ctx context.Context, kind models.RequestKind, f ListFilter) (*Page, error) {
	policy, ok := l.d.Kinds.Enabled(kind)
	if !ok {
		return nil, validationFailed("kind", "KIND_NOT_ENABLED", fmt.Sprintf("request kind %q is not available", kind))
	}
	q := l.d.DB.WithContext(ctx).
		Where("kind = ? AND status IN ?", kind, []models.RequestStatus{models.StatusPending, models.StatusRouted}).
		Where("routing_outcome = ?", policy.Pool).
		Where("assigned_captain_id IS NULL AND assigned_provider_id IS NULL")
	f.Kind, f.Status = nil, nil
	return l.list(q, f)
}

func (l *Lifecycle) list(q *gorm.DB, f ListFilter) (*Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Kind != nil {
		q = q.Where("kind = ?", *f.Kind)
	}
	q = f.Cursor.before(q)

	var items []models.Request
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	page := &Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = cursorAfter(last.CreatedAt, last.ID)
	}
	if page.Items == nil {
		page.Items = []models.Request{}
	}
	return page, nil
}
