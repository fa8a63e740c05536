package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatch-backend/models"

	"gorm.io/gorm"
)

// Fallback band when no profile matches. It always asks for review.
const (
	DefaultMinPrice int64 = 0
	DefaultMaxPrice int64 = 100000
)

// Band is a resolved price range in minor currency units.
type Band struct {
	Min            int64
	Max            int64
	RequiresReview bool
	ProfileID      string // empty when the fallback band was used
}

type PricingEngine struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPricingEngine(db *gorm.DB, now func() time.Time) *PricingEngine {
	if now == nil {
		now = time.Now
	}
	return &PricingEngine{db: db, now: now}
}

// Calculate resolves the band for a request in category (may be nil) and
// region (may be ""). Most specific scope wins: category+region, category,
// region, global. Within a scope the newest active profile wins.
func (p *PricingEngine) Calculate(ctx context.Context, category *models.Category, region string) (Band, error) {
	return p.calculate(p.db.WithContext(ctx), category, region)
}

func (p *PricingEngine) calculate(db *gorm.DB, category *models.Category, region string) (Band, error) {
	at := p.now().UTC()

	type tier struct {
		scope models.Scope
		where func(*gorm.DB) *gorm.DB
	}
	var tiers []tier
	if category != nil && region != "" {
		tiers = append(tiers, tier{models.ScopeCategoryRegion, func(q *gorm.DB) *gorm.DB {
			return q.Where("category_id = ? AND scope_value = ?", category.ID, region)
		}})
	}
	if category != nil {
		tiers = append(tiers, tier{models.ScopeCategory, func(q *gorm.DB) *gorm.DB {
			return q.Where("category_id = ?", category.ID)
		}})
	}
	if region != "" {
		tiers = append(tiers, tier{models.ScopeRegion, func(q *gorm.DB) *gorm.DB {
			return q.Where("scope_value = ?", region)
		}})
	}
	tiers = append(tiers, tier{models.ScopeGlobal, func(q *gorm.DB) *gorm.DB { return q }})

	categoryReview := category != nil && category.PricingRequiresReview

	for _, t := range tiers {
		profile, err := newestActive(t.where(db.Where("scope = ? AND is_active = ?", t.scope, true)), at)
		if err != nil {
			return Band{}, fmt.Errorf("pricing lookup (%s): %w", t.scope, err)
		}
		if profile != nil {
			return Band{
				Min:            profile.MinPrice,
				Max:            profile.MaxPrice,
				RequiresReview: profile.RequiresReview || categoryReview,
				ProfileID:      profile.ID,
			}, nil
		}
	}
	return Band{Min: DefaultMinPrice, Max: DefaultMaxPrice, RequiresReview: true}, nil
}

// newestActive returns the newest profile matched by q whose effective window
// contains at, or nil.
func newestActive(q *gorm.DB, at time.Time) (*models.PricingProfile, error) {
	var candidates []models.PricingProfile
	if err := q.Order("created_at DESC").Find(&candidates).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for i := range candidates {
		if candidates[i].ActiveAt(at) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}
