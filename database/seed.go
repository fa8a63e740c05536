package database

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"dispatch-backend/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoutingSeed is the YAML shape of a routing.policy ConfigEntry.
type RoutingSeed struct {
	ID          string       `yaml:"id"`
	Scope       models.Scope `yaml:"scope"`
	CategoryID  *string      `yaml:"category_id"`
	Policy      string       `yaml:"policy"`
	Description string       `yaml:"description"`
	IsActive    *bool        `yaml:"is_active"`
}

// SeedFile is the document CONFIG_SEED_FILE points at.
type SeedFile struct {
	Categories      []models.Category       `yaml:"categories"`
	PricingProfiles []models.PricingProfile `yaml:"pricing_profiles"`
	Routing         []RoutingSeed           `yaml:"routing"`
}

// SeedFromFile loads path and upserts its rows. An empty path is a no-op.
func SeedFromFile(db *gorm.DB, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Seed(db, f)
}

// Seed upserts categories, pricing profiles and routing entries by id.
func Seed(db *gorm.DB, r io.Reader) error {
	var doc SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("decode seed file: %w", err)
	}

	entries := make([]models.ConfigEntry, 0, len(doc.Routing))
	for i, rs := range doc.Routing {
		if rs.ID == "" {
			return fmt.Errorf("routing[%d]: id is required", i)
		}
		scope := rs.Scope
		if scope == "" {
			scope = models.ScopeGlobal
		}
		if scope == models.ScopeCategory && rs.CategoryID == nil {
			return fmt.Errorf("routing[%d]: category scope needs category_id", i)
		}
		value, err := json.Marshal(map[string]string{"policy": rs.Policy})
		if err != nil {
			return err
		}
		active := true
		if rs.IsActive != nil {
			active = *rs.IsActive
		}
		entries = append(entries, models.ConfigEntry{
			ID:          rs.ID,
			Scope:       scope,
			CategoryID:  rs.CategoryID,
			Key:         models.RoutingPolicyKey,
			Value:       value,
			Description: rs.Description,
			IsActive:    active,
		})
	}
	for i, c := range doc.Categories {
		if c.ID == "" {
			return fmt.Errorf("categories[%d]: id is required", i)
		}
		if c.Kinds == "" {
			doc.Categories[i].Kinds = models.CategoryBoth
		}
	}
	for i, p := range doc.PricingProfiles {
		if p.ID == "" {
			return fmt.Errorf("pricing_profiles[%d]: id is required", i)
		}
		if p.MinPrice < 0 || p.MinPrice > p.MaxPrice {
			return fmt.Errorf("pricing_profiles[%d]: invalid band %d..%d", i, p.MinPrice, p.MaxPrice)
		}
	}

	upsert := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}
	return db.Transaction(func(tx *gorm.DB) error {
		if len(doc.Categories) > 0 {
			if err := tx.Clauses(upsert).Create(&doc.Categories).Error; err != nil {
				return fmt.Errorf("seed categories: %w", err)
			}
		}
		if len(doc.PricingProfiles) > 0 {
			if err := tx.Clauses(upsert).Create(&doc.PricingProfiles).Error; err != nil {
				return fmt.Errorf("seed pricing profiles: %w", err)
			}
		}
		if len(entries) > 0 {
			if err := tx.Clauses(upsert).Create(&entries).Error; err != nil {
				return fmt.Errorf("seed routing entries: %w", err)
			}
		}
		return nil
	})
}
