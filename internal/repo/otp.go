package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akozyrev/taskdeck/internal/models"
)

func (r *GormRepo) CreateOtp(ctx context.Context, otp *models.OtpCode) error {
	if otp.ID == uuid.Nil {
		otp.ID = uuid.New()
	}
	return r.DB.WithContext(ctx).Create(otp).Error
}

// InvalidateActiveOtps marks every live OTP of the user used, keeping the
// single-active-OTP invariant when a new code is issued.
func (r *GormRepo) InvalidateActiveOtps(ctx context.Context, userID uuid.UUID) error {
	return r.DB.WithContext(ctx).Model(&models.OtpCode{}).
		Where("user_id = ? AND used_at IS NULL", userID).
		Update("used_at", time.Now().UTC()).Error
}

func (r *GormRepo) FindActiveOtp(ctx context.Context, userID uuid.UUID) (*models.OtpCode, error) {
	var otp models.OtpCode
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND used_at IS NULL", userID).
		Order("created_at DESC").
		First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &otp, nil
}

func (r *GormRepo) MarkOtpUsed(ctx context.Context, id uuid.UUID) error {
	return r.DB.WithContext(ctx).Model(&models.OtpCode{}).
		Where("id = ?", id).
		Update("used_at", time.Now().UTC()).Error
}

// IncrementOtpAttempts bumps the attempt counter with a guarded atomic
// update so two racing verifications cannot both read N-1 and write N.
// It returns the counter value after the increment.
func (r *GormRepo) IncrementOtpAttempts(ctx context.Context, id uuid.UUID, cap int) (int, error) {
	db := r.DB.WithContext(ctx)
	res := db.Model(&models.OtpCode{}).
		Where("id = ? AND used_at IS NULL AND attempts < ?", id, cap).
		Update("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return cap, ErrStale
	}
	var otp models.OtpCode
	if err := db.Select("attempts").Where("id = ?", id).First(&otp).Error; err != nil {
		return 0, err
	}
	return otp.Attempts, nil
}

// CountRecentOtpRequests counts codes issued to the user inside the window,
// used or not. It backs the per-user request cap.
func (r *GormRepo) CountRecentOtpRequests(ctx context.Context, userID uuid.UUID, window time.Duration) (int64, error) {
	var count int64
	since := time.Now().UTC().Add(-window)
	err := r.DB.WithContext(ctx).Model(&models.OtpCode{}).
		Where("user_id = ? AND created_at > ?", userID, since).
		Count(&count).Error
	return count, err
}
