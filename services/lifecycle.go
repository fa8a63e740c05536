package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dispatch-backend/clients"
	"dispatch-backend/database"
	"dispatch-backend/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lifecycle owns the Request entity: creation, status changes and fulfiller
// acceptance. Every write is a compare-and-swap on the expected status.
type Lifecycle struct {
	d       Deps
	pricing *PricingEngine
	routing *RoutingEngine
}

func NewLifecycle(d Deps) *Lifecycle {
	d = d.withDefaults()
	return &Lifecycle{
		d:       d,
		pricing: NewPricingEngine(d.DB, d.Now),
		routing: NewRoutingEngine(d.DB, d.Kinds, d.Now),
	}
}

func (l *Lifecycle) Pricing() *PricingEngine { return l.pricing }
func (l *Lifecycle) Routing() *RoutingEngine { return l.routing }

// CreateInput is the requester-supplied part of a new request.
type CreateInput struct {
	Kind        models.RequestKind
	CategoryID  *string
	Title       string
	Description string
	Images      []string
	Location    *models.GeoPoint
	Address     string
	Region      string
	Metadata    map[string]any
}

// CreateRequest submits a new request. A repeated call with the same
// idempotency key returns the stored request without re-running pricing,
// routing or notification.
func (l *Lifecycle) CreateRequest(ctx context.Context, requesterID string, in CreateInput, idempotencyKey string) (*models.Request, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, validationFailed("idempotency_key", "IDEMPOTENCY_KEY_REQUIRED", "an idempotency key is required")
	}
	if strings.TrimSpace(requesterID) == "" {
		return nil, forbidden("NO_CALLER", "caller identity is required")
	}
	db := l.d.DB.WithContext(ctx)

	if existing, err := l.findByIdempotencyKey(db, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return replayed(existing, requesterID)
	}

	policy, ok := l.d.Kinds.Enabled(in.Kind)
	if !ok {
		return nil, validationFailed("kind", "KIND_NOT_ENABLED", fmt.Sprintf("request kind %q is not available", in.Kind))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationFailed("title", "TITLE_REQUIRED", "title is required")
	}

	var category *models.Category
	if in.CategoryID != nil && *in.CategoryID != "" {
		var c models.Category
		if err := db.First(&c, "id = ?", *in.CategoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, notFound("CATEGORY_NOT_FOUND", fmt.Sprintf("category %s not found", *in.CategoryID))
			}
			return nil, err
		}
		if !c.IsActive {
			return nil, validationFailed("category_id", "CATEGORY_INACTIVE", "category is not active")
		}
		if !c.Allows(in.Kind) {
			return nil, validationFailed("category_id", "CATEGORY_KIND_MISMATCH",
				fmt.Sprintf("category %s does not accept %s requests", c.Code, in.Kind))
		}
		category = &c
	}

	now := l.d.now()
	req := &models.Request{
		RequesterID:    requesterID,
		Kind:           in.Kind,
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		Images:         datatypes.JSONSlice[string](in.Images),
		Location:       datatypes.NewJSONType(in.Location),
		Address:        strings.TrimSpace(in.Address),
		Region:         strings.TrimSpace(in.Region),
		Status:         models.StatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if category != nil {
		req.CategoryID = &category.ID
	}
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, validationFailed("metadata", "METADATA_INVALID", "metadata is not serializable")
		}
		req.Metadata = datatypes.JSON(raw)
	}

	if policy.PricingApplies {
		band, err := l.pricing.calculate(db, category, req.Region)
		if err != nil {
			return nil, err
		}
		req.PriceMin, req.PriceMax = &band.Min, &band.Max
		req.PricingRequiresReview = band.RequiresReview
		req.PricedAt = &now
		if band.RequiresReview {
			req.Status = models.StatusPricingReview
		}
	}

	if req.Status == models.StatusPending {
		outcome, err := l.routing.route(db, req)
		if err != nil {
			return nil, err
		}
		req.Routing = &outcome
		if outcome != models.RoutingManualQueue {
			req.Status = models.StatusRouted
			req.RoutedAt = &now
		}
	}

	if err := db.Create(req).Error; err != nil {
		if database.IsUniqueViolation(err) {
			// Lost a race on the idempotency key; the winner's row is the answer.
			existing, ferr := l.findByIdempotencyKey(db, idempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return replayed(existing, requesterID)
			}
		}
		return nil, fmt.Errorf("create request: %w", err)
	}

	l.d.Logger.Info("request created",
		"request_id", req.ID,
		"actor_id", requesterID,
		"kind", string(req.Kind),
		"status", string(req.Status),
	)
	l.d.Metrics.Created(string(req.Kind), string(req.Status))
	l.d.notify(ctx, clients.Event{
		Type:        clients.EventRequestCreated,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		Kind:        string(req.Kind),
		Status:      string(req.Status),
	})
	return req, nil
}

func replayed(existing *models.Request, requesterID string) (*models.Request, error) {
	if existing.RequesterID != requesterID {
		return nil, conflict("IDEMPOTENCY_KEY_IN_USE", "idempotency key belongs to another request")
	}
	return existing, nil
}

func (l *Lifecycle) findByIdempotencyKey(db *gorm.DB, key string) (*models.Request, error) {
	var req models.Request
	if err := db.Where("idempotency_key = ?", key).Take(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// StatusChange is an actor-driven transition request.
type StatusChange struct {
	Status     models.RequestStatus
	Reason     *string
	FinalPrice *int64
}

// UpdateStatus applies an actor-driven transition.
func (l *Lifecycle) UpdateStatus(ctx context.Context, requestID, actorID string, ch StatusChange) (*models.Request, error) {
	db := l.d.DB.WithContext(ctx)
	req, err := loadRequest(db, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(actorID) {
		return nil, errNotParty
	}
	policy, err := l.d.Kinds.For(req.Kind)
	if err != nil {
		return nil, err
	}

	from, to := req.Status, ch.Status
	if !IsKnownStatus(to) {
		return nil, validationFailed("status", "UNKNOWN_STATUS", fmt.Sprintf("unknown status %q", to))
	}
	if IsTerminal(from) {
		return nil, invalidState("TERMINAL_STATUS", fmt.Sprintf("request is %s and can no longer change", from))
	}
	if systemTargets[to] {
		return nil, invalidState("SYSTEM_TRANSITION", fmt.Sprintf("%s is set by the engine, not by actors", to))
	}
	if to == models.StatusClosed && policy.ProofCloseRequired {
		return nil, invalidState("PROOF_CLOSE_REQUIRED", "this request closes only through a verified close code")
	}
	if !CanTransition(from, to) {
		return nil, invalidState("ILLEGAL_TRANSITION", fmt.Sprintf("cannot move from %s to %s", from, to))
	}
	if requiresFulfiller(to) && (req.FulfillerID() == "" || req.FulfillerID() != actorID) {
		return nil, forbidden("FULFILLER_ONLY", fmt.Sprintf("only the assigned %s may move a request to %s", policy.FulfillerRole, to))
	}

	now := l.d.now()
	updates := map[string]any{"status": to, "updated_at": now}
	if col := timestampColumn(to); col != "" {
		updates[col] = now
	}
	if col := reasonColumn(to); col != "" && ch.Reason != nil {
		updates[col] = strings.TrimSpace(*ch.Reason)
	}
	var resolution *int
	if to == models.StatusCompleted && req.InProgressAt != nil {
		m := int(now.Sub(*req.InProgressAt).Minutes())
		resolution = &m
		updates["resolution_time_minutes"] = m
	}
	if ch.FinalPrice != nil {
		if !policy.PricingApplies {
			return nil, validationFailed("final_price", "PRICE_NOT_APPLICABLE", fmt.Sprintf("%s requests carry no price", req.Kind))
		}
		if *ch.FinalPrice < 0 {
			return nil, validationFailed("final_price", "PRICE_NEGATIVE", "final price must not be negative")
		}
		if from == models.StatusPending {
			return nil, invalidState("PRICE_BEFORE_ROUTING", "final price cannot be set while the request is pending")
		}
		updates["price_final"] = *ch.FinalPrice
	}

	if err := casStatus(db, req.ID, from, updates); err != nil {
		return nil, err
	}

	l.d.Logger.Info("request status changed",
		"request_id", req.ID,
		"actor_id", actorID,
		"from", string(from),
		"status", string(to),
	)
	l.d.Metrics.Transition(string(from), string(to))
	if resolution != nil {
		l.d.Metrics.Resolved(*resolution)
	}

	updated, err := loadRequest(db, req.ID)
	if err != nil {
		return nil, err
	}
	l.d.notify(ctx, clients.Event{
		Type:        clients.EventStatusChanged,
		RequestID:   updated.ID,
		RequesterID: updated.RequesterID,
		FulfillerID: updated.FulfillerID(),
		OldStatus:   string(from),
		NewStatus:   string(to),
	})
	return updated, nil
}

// AcceptRequest assigns fulfillerID and moves the request to ACCEPTED in one
// transaction.
func (l *Lifecycle) AcceptRequest(ctx context.Context, requestID, fulfillerID string) (*models.Request, error) {
	if strings.TrimSpace(fulfillerID) == "" {
		return nil, forbidden("NO_CALLER", "caller identity is required")
	}
	db := l.d.DB.WithContext(ctx)
	req, err := loadRequest(db, requestID)
	if err != nil {
		return nil, err
	}
	policy, err := l.d.Kinds.For(req.Kind)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusRouted && req.Status != models.StatusPending {
		return nil, invalidState("NOT_ACCEPTABLE", fmt.Sprintf("cannot accept a request in status %s", req.Status))
	}
	if req.RequesterID == fulfillerID {
		return nil, forbidden("SELF_ACCEPT", "a requester cannot fulfil their own request")
	}
	if current := req.FulfillerID(); current != "" && current != fulfillerID {
		return nil, conflict("ALREADY_ASSIGNED", "request is assigned to another fulfiller")
	}

	from := req.Status
	now := l.d.now()
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := l.routing.assign(tx, req, policy, fulfillerID); err != nil {
			return err
		}
		return casStatus(tx, req.ID, req.Status, map[string]any{
			"status":      models.StatusAccepted,
			"accepted_at": now,
			"updated_at":  now,
		})
	})
	if err != nil {
		return nil, err
	}

	l.d.Logger.Info("request accepted", "request_id", req.ID, "actor_id", fulfillerID, "from", string(from))
	l.d.Metrics.Transition(string(from), string(models.StatusAccepted))

	updated, err := loadRequest(db, req.ID)
	if err != nil {
		return nil, err
	}
	l.d.notify(ctx, clients.Event{
		Type:        clients.EventRequestAccepted,
		RequestID:   updated.ID,
		RequesterID: updated.RequesterID,
		FulfillerID: fulfillerID,
		Status:      string(updated.Status),
	})
	return updated, nil
}

// AcceptAs is AcceptRequest for an authenticated caller whose role must be
// the fulfiller role of the request's kind.
func (l *Lifecycle) AcceptAs(ctx context.Context, requestID string, caller Caller) (*models.Request, error) {
	req, err := loadRequest(l.d.DB.WithContext(ctx), requestID)
	if err != nil {
		return nil, err
	}
	policy, err := l.d.Kinds.For(req.Kind)
	if err != nil {
		return nil, err
	}
	if caller.Role != policy.FulfillerRole {
		return nil, forbidden("ROLE_MISMATCH", fmt.Sprintf("%s requests are accepted by a %s", req.Kind, policy.FulfillerRole))
	}
	return l.AcceptRequest(ctx, requestID, caller.ID)
}

func loadRequest(db *gorm.DB, id string) (*models.Request, error) {
	var req models.Request
	if err := db.Where("id = ?", id).Take(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errRequestNotFound(id)
		}
		return nil, err
	}
	return &req, nil
}

// casStatus applies updates only while the request is still in from.
func casStatus(db *gorm.DB, id string, from models.RequestStatus, updates map[string]any) error {
	res := db.Model(&models.Request{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update request %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return invalidState("STATUS_CHANGED", fmt.Sprintf("request is no longer %s", from))
	}
	return nil
}
