package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akozyrev/taskdeck/internal/models"
)

func (r *GormRepo) CreateResetToken(ctx context.Context, token *models.ResetToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	return r.DB.WithContext(ctx).Create(token).Error
}

func (r *GormRepo) FindActiveResetToken(ctx context.Context, tokenHash string) (*models.ResetToken, error) {
	var token models.ResetToken
	err := r.DB.WithContext(ctx).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, time.Now().UTC()).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

// ConsumeResetToken performs the whole completion of a password reset in
// one transaction: the token is marked used with a guarded update, the
// password hash is replaced, and every refresh token of the user is
// revoked. If the token was already consumed concurrently the transaction
// rolls back with ErrStale and the password is untouched.
func (r *GormRepo) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var token models.ResetToken
		if err := tx.Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if token.UsedAt != nil || !token.ExpiresAt.After(now) {
			return ErrNotFound
		}

		res := tx.Model(&models.ResetToken{}).
			Where("id = ? AND used_at IS NULL", token.ID).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStale
		}

		if err := r.updatePasswordHash(tx, token.UserID, newPasswordHash); err != nil {
			return err
		}
		if _, err := r.revokeAllRefreshTokens(tx, token.UserID, now); err != nil {
			return err
		}
		userID = token.UserID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}
