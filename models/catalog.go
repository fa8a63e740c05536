package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CategoryKinds string

const (
	CategoryInstantOnly     CategoryKinds = "instant_only"
	CategorySpecializedOnly CategoryKinds = "specialized_only"
	CategoryBoth            CategoryKinds = "both"
)

// Category is read-only to the core; administration lives elsewhere.
type Category struct {
	ID                    string        `json:"id" gorm:"primaryKey;size:36" yaml:"id"`
	Code                  string        `json:"code" gorm:"size:100;not null;uniqueIndex" yaml:"code"`
	Name                  string        `json:"name" gorm:"size:255;not null" yaml:"name"`
	Kinds                 CategoryKinds `json:"kinds" gorm:"size:20;not null;default:both" yaml:"kinds"`
	IsActive              bool          `json:"is_active" gorm:"not null" yaml:"is_active"`
	PricingRequiresReview bool          `json:"pricing_requires_review" gorm:"not null;default:false" yaml:"pricing_requires_review"`
	CreatedAt             time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt             time.Time     `json:"updated_at" yaml:"-"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return
}

// Allows reports whether requests of kind may use this category.
func (c *Category) Allows(kind RequestKind) bool {
	switch c.Kinds {
	case CategoryInstantOnly:
		return kind == KindInstant
	case CategorySpecializedOnly:
		return kind == KindSpecialized
	default:
		return true
	}
}

type Scope string

const (
	ScopeGlobal         Scope = "global"
	ScopeRegion         Scope = "region"
	ScopeCategory       Scope = "category"
	ScopeCategoryRegion Scope = "category_region"
)

// PricingProfile is a price band rule. Region-bearing scopes keep the region
// in ScopeValue.
type PricingProfile struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36" yaml:"id"`
	Scope          Scope      `json:"scope" gorm:"size:20;not null;index:idx_pricing_profiles_scope,priority:1" yaml:"scope"`
	ScopeValue     *string    `json:"scope_value,omitempty" gorm:"size:255;index:idx_pricing_profiles_scope,priority:2" yaml:"scope_value"`
	CategoryID     *string    `json:"category_id,omitempty" gorm:"size:36;index" yaml:"category_id"`
	MinPrice       int64      `json:"min_price" gorm:"not null" yaml:"min_price"`
	MaxPrice       int64      `json:"max_price" gorm:"not null" yaml:"max_price"`
	RequiresReview bool       `json:"requires_review" gorm:"not null;default:false" yaml:"requires_review"`
	IsActive       bool       `json:"is_active" gorm:"not null" yaml:"is_active"`
	EffectiveFrom  *time.Time `json:"effective_from,omitempty" yaml:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty" yaml:"effective_until"`
	CreatedAt      time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"-"`
}

func (p *PricingProfile) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return
}

// ActiveAt reports whether the profile applies at t. Open bounds always hold.
func (p *PricingProfile) ActiveAt(t time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.EffectiveFrom != nil && t.Before(*p.EffectiveFrom) {
		return false
	}
	if p.EffectiveUntil != nil && t.After(*p.EffectiveUntil) {
		return false
	}
	return true
}

// RoutingPolicyKey is the ConfigEntry key the routing engine reads.
const RoutingPolicyKey = "routing.policy"

// ConfigEntry is a scoped key/value setting, e.g. routing.policy =
// {"policy": "manual"} for one category.
type ConfigEntry struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36" yaml:"id"`
	Scope          Scope          `json:"scope" gorm:"size:20;not null;index:idx_config_entries_lookup,priority:2" yaml:"scope"`
	ScopeValue     *string        `json:"scope_value,omitempty" gorm:"size:255" yaml:"scope_value"`
	CategoryID     *string        `json:"category_id,omitempty" gorm:"size:36;index:idx_config_entries_lookup,priority:3" yaml:"category_id"`
	Key            string         `json:"key" gorm:"size:255;not null;index:idx_config_entries_lookup,priority:1" yaml:"key"`
	Value          datatypes.JSON `json:"value" gorm:"not null" yaml:"-"`
	Description    string         `json:"description,omitempty" gorm:"type:text" yaml:"description"`
	IsActive       bool           `json:"is_active" gorm:"not null" yaml:"is_active"`
	EffectiveFrom  *time.Time     `json:"effective_from,omitempty" yaml:"effective_from"`
	EffectiveUntil *time.Time     `json:"effective_until,omitempty" yaml:"effective_until"`
	CreatedAt      time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"-"`
}

func (e *ConfigEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return
}
