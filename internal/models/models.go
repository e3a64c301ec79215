package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin       = "admin"
	RoleAreaLead    = "area_lead"
	RoleManager     = "manager"
	RoleContributor = "contributor"
)

type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"      json:"id"`
	Email        string     `gorm:"uniqueIndex;not null"      json:"email"`
	Name         string     `gorm:"not null"                  json:"name"`
	PasswordHash string     `gorm:"not null"                  json:"-"`
	Role         string     `gorm:"not null"                  json:"role"`
	AreaID       *uuid.UUID `gorm:"type:uuid;index"           json:"area_id"`
	// No gorm default tag on purpose: with one, GORM omits the zero value
	// on insert and a deactivated user would be stored as active.
	IsActive  bool      `gorm:"not null"                  json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefreshToken is the authoritative record of a session. The raw token is
// never stored; TokenHash is its SHA-256. A record is valid iff RevokedAt is
// null and ExpiresAt is in the future, regardless of whether the token's
// signature still verifies. Rotation sets RevokedAt on the old record and
// inserts the replacement in the same transaction; records are never deleted.
type RefreshToken struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"         json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null"     json:"user_id"`
	TokenHash string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index;not null"               json:"expires_at"`
	CreatedIP string     `json:"created_ip"`
	UserAgent string     `json:"user_agent"`
	RevokedAt *time.Time `gorm:"index"                        json:"revoked_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// LoginAttempt is append-only and read only in aggregate. An external job
// sweeps rows older than 24h.
type LoginAttempt struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IP          string    `gorm:"index;not null"       json:"ip"`
	Email       string    `gorm:"index"                json:"email"`
	Success     bool      `gorm:"not null"             json:"success"`
	UserAgent   string    `json:"user_agent"`
	AttemptedAt time.Time `gorm:"index;not null"       json:"attempted_at"`
}

// OtpCode backs step one of password reset. CodeHash is an HMAC of the
// 6-digit code under a server secret, so a leaked row alone cannot be
// brute-forced offline. At most one row per user is active at a time.
type OtpCode struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"     json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	CodeHash  string     `gorm:"size:64;not null"         json:"-"`
	ExpiresAt time.Time  `gorm:"not null"                 json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	Attempts  int        `gorm:"not null;default:0"       json:"attempts"`
	CreatedIP string     `json:"created_ip"`
	UserAgent string     `json:"user_agent"`
	CreatedAt time.Time  `json:"created_at"`
}

// ResetToken is minted only by a correct OTP verification and is consumed
// atomically with the password change.
type ResetToken struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"         json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null"     json:"user_id"`
	TokenHash string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"not null"                     json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}
