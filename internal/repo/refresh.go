package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akozyrev/taskdeck/internal/models"
)

func (r *GormRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	return r.DB.WithContext(ctx).Create(token).Error
}

func (r *GormRepo) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := r.DB.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

// revokeRefreshToken is a guarded update: it only touches rows that are not
// yet revoked, so two concurrent writers cannot both claim the same token.
func (r *GormRepo) revokeRefreshToken(db *gorm.DB, tokenHash string, now time.Time) (int64, error) {
	res := db.Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}

// RevokeRefreshToken marks the matching record revoked. It is idempotent:
// revoking an unknown or already revoked token is not an error.
func (r *GormRepo) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := r.revokeRefreshToken(r.DB.WithContext(ctx), tokenHash, time.Now().UTC())
	return err
}

// RevokeAllRefreshTokens revokes every live token of the user and returns
// how many were affected.
func (r *GormRepo) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	return r.revokeAllRefreshTokens(r.DB.WithContext(ctx), userID, time.Now().UTC())
}

func (r *GormRepo) revokeAllRefreshTokens(db *gorm.DB, userID uuid.UUID, now time.Time) (int64, error) {
	res := db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}

// RotateRefreshToken revokes the presented record and inserts its
// replacement in one transaction. Of two concurrent rotations of the same
// token exactly one wins; the loser gets ErrStale because the guarded
// update finds no live row. A reader can never observe the old token
// revoked without the new one existing, or vice versa.
func (r *GormRepo) RotateRefreshToken(ctx context.Context, oldHash string, replacement *models.RefreshToken) error {
	if replacement.ID == uuid.Nil {
		replacement.ID = uuid.New()
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := r.revokeRefreshToken(tx, oldHash, time.Now().UTC())
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrStale
		}
		return tx.Create(replacement).Error
	})
}
