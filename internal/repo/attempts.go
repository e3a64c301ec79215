package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/akozyrev/taskdeck/internal/models"
)

func (r *GormRepo) RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	return r.DB.WithContext(ctx).Create(attempt).Error
}

// CountRecentFailures recomputes the sliding window on every call:
// failed attempts from this IP in the trailing window.
func (r *GormRepo) CountRecentFailures(ctx context.Context, ip string, window time.Duration) (int64, error) {
	var count int64
	since := time.Now().UTC().Add(-window)
	err := r.DB.WithContext(ctx).Model(&models.LoginAttempt{}).
		Where("ip = ? AND success = ? AND attempted_at > ?", ip, false, since).
		Count(&count).Error
	return count, err
}
