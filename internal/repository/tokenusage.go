package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rajeee/chatdf/internal/domain"
)

// SumWindow implements internal/ratelimiter's Store seam: the rolling-
// window accounting query grounded on rate_limit_service.py's sum-over-
// window shape.
func (r *Repository) SumWindow(ctx context.Context, principal domain.PrincipalID, windowStart time.Time) (int64, time.Time, error) {
	var result struct {
		Total  int64
		Oldest sql.NullTime
	}
	err := r.db.WithContext(ctx).Model(&domain.TokenUsageRecord{}).
		Select("COALESCE(SUM(input_tokens + output_tokens), 0) AS total, MIN(timestamp) AS oldest").
		Where("user_id = ? AND timestamp > ?", string(principal), windowStart).
		Scan(&result).Error
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("summing token usage window: %w", err)
	}
	if result.Oldest.Valid {
		return result.Total, result.Oldest.Time, nil
	}
	return result.Total, time.Time{}, nil
}

// Record appends a usage row (§3 Token usage record: append-only).
func (r *Repository) Record(ctx context.Context, record *domain.TokenUsageRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("inserting token usage record: %w", err)
	}
	return nil
}
