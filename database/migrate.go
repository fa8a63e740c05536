package database

import (
	"fmt"

	"gorm.io/gorm"
)

// ApplyPostgresConstraints adds the CHECK constraints and partial indexes
// AutoMigrate cannot express. Every statement is idempotent.
func ApplyPostgresConstraints(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		// --- Indexes (idempotent) ---
		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_requests_open_pool ON requests (kind, created_at DESC)
				WHERE status IN ('pending','routed') AND assigned_captain_id IS NULL AND assigned_provider_id IS NULL`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_failures_open ON ledger_failures (created_at)
				WHERE resolved_at IS NULL`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		// --- CHECK constraints (idempotent) ---
		checks := []struct{ table, name, expr string }{
			{"requests", "chk_requests_price_band", "price_min IS NULL OR price_max IS NULL OR price_min <= price_max"},
			{"requests", "chk_requests_price_final_nonneg", "price_final IS NULL OR price_final >= 0"},
			{"requests", "chk_requests_single_fulfiller", "assigned_captain_id IS NULL OR assigned_provider_id IS NULL"},
			{"requests", "chk_requests_kind", "kind IN ('instant','specialized')"},
			{"pricing_profiles", "chk_pricing_profiles_band", "min_price >= 0 AND min_price <= max_price"},
		}
		for _, c := range checks {
			stmt := fmt.Sprintf(`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = '%s'::regclass
					  AND conname  = '%s'
				) THEN
					ALTER TABLE %s
					ADD CONSTRAINT %s
					CHECK (%s);
				END IF;
			END $$;`, c.table, c.name, c.table, c.name, c.expr)
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint %s failed: %w", c.name, err)
			}
		}
		return nil
	})
}
