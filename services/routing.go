package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dispatch-backend/models"

	"gorm.io/gorm"
)

type RoutingEngine struct {
	db    *gorm.DB
	kinds Kinds
	now   func() time.Time
}

func NewRoutingEngine(db *gorm.DB, kinds Kinds, now func() time.Time) *RoutingEngine {
	if now == nil {
		now = time.Now
	}
	return &RoutingEngine{db: db, kinds: kinds, now: now}
}

// Route picks the distribution channel for req. Kinds with their own pool
// always go there; direct kinds consult routing.policy (category, then
// global) and land in the manual queue when it says "manual".
func (r *RoutingEngine) Route(ctx context.Context, req *models.Request) (models.RoutingOutcome, error) {
	return r.route(r.db.WithContext(ctx), req)
}

func (r *RoutingEngine) route(db *gorm.DB, req *models.Request) (models.RoutingOutcome, error) {
	policy, err := r.kinds.For(req.Kind)
	if err != nil {
		return "", err
	}
	if policy.Pool != models.RoutingDirectPool {
		return policy.Pool, nil
	}

	var entry *models.ConfigEntry
	if req.CategoryID != nil {
		if entry, err = r.lookupPolicy(db, models.ScopeCategory, req.CategoryID); err != nil {
			return "", err
		}
	}
	if entry == nil {
		if entry, err = r.lookupPolicy(db, models.ScopeGlobal, nil); err != nil {
			return "", err
		}
	}
	if entry != nil && policyValue(entry.Value) == "manual" {
		return models.RoutingManualQueue, nil
	}
	return models.RoutingDirectPool, nil
}

func (r *RoutingEngine) lookupPolicy(db *gorm.DB, scope models.Scope, categoryID *string) (*models.ConfigEntry, error) {
	q := db.Where("key = ? AND scope = ? AND is_active = ?", models.RoutingPolicyKey, scope, true)
	if categoryID != nil {
		q = q.Where("category_id = ?", *categoryID)
	}
	var entries []models.ConfigEntry
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("routing policy lookup: %w", err)
	}
	at := r.now().UTC()
	for i := range entries {
		e := &entries[i]
		if e.EffectiveFrom != nil && at.Before(*e.EffectiveFrom) {
			continue
		}
		if e.EffectiveUntil != nil && at.After(*e.EffectiveUntil) {
			continue
		}
		return e, nil
	}
	return nil, nil
}

// policyValue reads {"policy": "..."}; a bare JSON string is accepted too.
func policyValue(raw []byte) string {
	var obj struct {
		Policy string `json:"policy"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Policy != "" {
		return obj.Policy
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// AssignCaptain binds a captain to a direct-pool request.
func (r *RoutingEngine) AssignCaptain(ctx context.Context, req *models.Request, captainID string) error {
	return r.assignRole(r.db.WithContext(ctx), req, RoleCaptain, captainID)
}

// AssignProvider binds a provider to a specialized-pool request.
func (r *RoutingEngine) AssignProvider(ctx context.Context, req *models.Request, providerID string) error {
	return r.assignRole(r.db.WithContext(ctx), req, RoleProvider, providerID)
}

func (r *RoutingEngine) assignRole(db *gorm.DB, req *models.Request, role, fulfillerID string) error {
	policy, err := r.kinds.For(req.Kind)
	if err != nil {
		return err
	}
	if policy.FulfillerRole != role {
		return invalidState("KIND_MISMATCH",
			fmt.Sprintf("cannot assign a %s to a %s request", role, req.Kind))
	}
	return r.assign(db, req, policy, fulfillerID)
}

// assign is a conditional write: it only lands while the request is still
// open and unclaimed (or already claimed by the same fulfiller). req is
// updated in place on success.
func (r *RoutingEngine) assign(db *gorm.DB, req *models.Request, policy KindPolicy, fulfillerID string) error {
	if req.Status != models.StatusPending && req.Status != models.StatusRouted {
		return invalidState("NOT_ASSIGNABLE",
			fmt.Sprintf("cannot assign a fulfiller to a request in status %s", req.Status))
	}

	now := r.now().UTC()
	pool := policy.Pool
	col := policy.fulfillerColumn()
	updates := map[string]any{
		col:               fulfillerID,
		"routing_outcome": pool,
		"updated_at":      now,
	}
	next := req.Status
	if req.Status == models.StatusPending {
		next = models.StatusRouted
		updates["status"] = next
		updates["routed_at"] = now
	}

	res := db.Model(&models.Request{}).
		Where("id = ? AND kind = ? AND status = ?", req.ID, req.Kind, req.Status).
		Where("("+col+" IS NULL OR "+col+" = ?)", fulfillerID).
		Where(policy.otherFulfillerColumn() + " IS NULL").
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("assign fulfiller: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return invalidState("ASSIGNMENT_RACE", "request was changed or claimed concurrently")
	}

	if policy.FulfillerRole == RoleCaptain {
		req.AssignedCaptainID = &fulfillerID
	} else {
		req.AssignedProviderID = &fulfillerID
	}
	req.Routing = &pool
	if next != req.Status {
		req.Status = next
		req.RoutedAt = &now
	}
	req.UpdatedAt = now
	return nil
}
