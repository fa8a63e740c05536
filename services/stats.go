package services

import (
	"context"
	"fmt"
	"time"

	"dispatch-backend/models"

	"gorm.io/gorm"
)

// Stats are the support dashboard KPIs.
type Stats struct {
	Total                int64            `json:"total"`
	ByStatus             map[string]int64 `json:"by_status"`
	ByKind               map[string]int64 `json:"by_kind"`
	CancellationRate     float64          `json:"cancellation_rate"`
	DisputeRate          float64          `json:"dispute_rate"`
	AvgResolutionMinutes float64          `json:"avg_resolution_minutes"`
	OpenLedgerFailures   int64            `json:"open_ledger_failures"`
	Since                *time.Time       `json:"since,omitempty"`
}

// Stats aggregates requests created at or after since (all time when nil).
func (l *Lifecycle) Stats(ctx context.Context, caller Caller, since *time.Time) (*Stats, error) {
	if !caller.IsSupport() {
		return nil, forbidden("SUPPORT_ONLY", "statistics are restricted to support")
	}
	db := l.d.DB.WithContext(ctx)
	requests := func() *gorm.DB {
		q := db.Model(&models.Request{})
		if since != nil {
			q = q.Where("created_at >= ?", since.UTC())
		}
		return q
	}

	type bucket struct {
		Label string
		N     int64
	}
	out := &Stats{ByStatus: map[string]int64{}, ByKind: map[string]int64{}, Since: since}

	var byStatus []bucket
	if err := requests().Select("status AS label, COUNT(*) AS n").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	for _, b := range byStatus {
		out.ByStatus[b.Label] = b.N
		out.Total += b.N
	}

	var byKind []bucket
	if err := requests().Select("kind AS label, COUNT(*) AS n").Group("kind").Scan(&byKind).Error; err != nil {
		return nil, fmt.Errorf("stats by kind: %w", err)
	}
	for _, b := range byKind {
		out.ByKind[b.Label] = b.N
	}

	if out.Total > 0 {
		out.CancellationRate = float64(out.ByStatus[string(models.StatusCancelled)]) / float64(out.Total)
		out.DisputeRate = float64(out.ByStatus[string(models.StatusDisputed)]) / float64(out.Total)
	}

	var avg struct{ Minutes *float64 }
	if err := requests().Select("AVG(resolution_time_minutes) AS minutes").
		Where("resolution_time_minutes IS NOT NULL").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("stats resolution: %w", err)
	}
	if avg.Minutes != nil {
		out.AvgResolutionMinutes = *avg.Minutes
	}

	if err := db.Model(&models.LedgerFailure{}).Where("resolved_at IS NULL").Count(&out.OpenLedgerFailures).Error; err != nil {
		return nil, fmt.Errorf("stats ledger failures: %w", err)
	}
	return out, nil
}
