package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/akozyrev/taskdeck/internal/events"
	"github.com/akozyrev/taskdeck/internal/metrics"
	"github.com/akozyrev/taskdeck/internal/models"
	"github.com/akozyrev/taskdeck/internal/repo"
	pkg_hash "github.com/akozyrev/taskdeck/pkg/hash"
	"github.com/akozyrev/taskdeck/pkg/logging"
	"github.com/akozyrev/taskdeck/pkg/tokens"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// SessionService is the only component that mints tokens or mutates the
// refresh token ledger.
type SessionService struct {
	Repo       *repo.GormRepo
	Codec      *tokens.Codec
	Throttle   *LoginThrottle
	Events     events.Publisher
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewSessionService(r *repo.GormRepo, codec *tokens.Codec, throttle *LoginThrottle, publisher events.Publisher) *SessionService {
	return &SessionService{
		Repo:       r,
		Codec:      codec,
		Throttle:   throttle,
		Events:     publisher,
		AccessTTL:  DefaultAccessTTL,
		RefreshTTL: DefaultRefreshTTL,
	}
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	User         *models.User
}

func (s *SessionService) Login(ctx context.Context, email, password, ip, userAgent string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "session.login")

	if email == "" || password == "" {
		return nil, ErrValidation
	}

	// Throttle check comes before the credential store is touched. The
	// check itself never increments the failure counter.
	if !s.Throttle.Allow(ctx, ip) {
		l.Warn("login rate limited", "ip", ip)
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	user, err := s.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Burn a bcrypt comparison so an unknown email takes about as
			// long as a wrong password.
			pkg_hash.BurnPassword(password)
			s.recordAttempt(ctx, ip, email, userAgent, false)
			l.Warn("login failed", "reason", "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !pkg_hash.CheckPassword(user.PasswordHash, password) {
		s.recordAttempt(ctx, ip, email, userAgent, false)
		l.Warn("login failed", "reason", "wrong password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.recordAttempt(ctx, ip, email, userAgent, false)
		l.Warn("login failed", "reason", "inactive account", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	result, err := s.mintSession(ctx, user, ip, userAgent)
	if err != nil {
		// The attempt log records every login outcome, including a mint
		// failure after the credentials checked out.
		s.recordAttempt(ctx, ip, email, userAgent, false)
		l.Error("login failed", "error", err)
		return nil, err
	}

	s.recordAttempt(ctx, ip, email, userAgent, true)
	l.Info("login successful", "user_id", user.ID)
	return result, nil
}

// Refresh rotates the presented token: the old record is revoked and the
// replacement inserted atomically. Presenting a token whose signature still
// verifies but whose record is already revoked means the token was used
// after being superseded; that is treated as theft and every session of the
// user is revoked.
func (s *SessionService) Refresh(ctx context.Context, rawRefreshToken, ip, userAgent string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "session.refresh")

	claims, err := s.Codec.DecodeRefresh(rawRefreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	tokenHash := pkg_hash.Sha256Hex(rawRefreshToken)
	record, err := s.Repo.FindRefreshTokenByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if record.RevokedAt != nil {
		s.handleReuse(ctx, record, ip, userAgent)
		return nil, ErrInvalidToken
	}
	if !record.Usable(time.Now().UTC()) {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID != record.UserID {
		return nil, ErrInvalidToken
	}

	user, err := s.Repo.FindUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		l.Warn("refresh rejected", "reason", "inactive account", "user_id", user.ID)
		return nil, ErrInactiveAccount
	}

	accessToken, accessExp, err := s.Codec.EncodeAccess(user.ID.String(), user.Role, areaIDString(user), s.AccessTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExp, err := s.Codec.EncodeRefresh(user.ID.String(), s.RefreshTTL)
	if err != nil {
		return nil, err
	}

	replacement := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: pkg_hash.Sha256Hex(refreshToken),
		ExpiresAt: refreshExp,
		CreatedIP: ip,
		UserAgent: userAgent,
	}
	if err := s.Repo.RotateRefreshToken(ctx, tokenHash, replacement); err != nil {
		if errors.Is(err, repo.ErrStale) {
			// A concurrent rotation of the same token won the race.
			s.handleReuse(ctx, record, ip, userAgent)
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	metrics.RefreshRotations.Inc()
	l.Info("refresh rotated", "user_id", user.ID)
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		User:         user,
	}, nil
}

// Logout revokes the ledger entry matching the presented token, if any.
// It is idempotent and succeeds for unknown or already revoked tokens.
func (s *SessionService) Logout(ctx context.Context, rawRefreshToken string) error {
	if rawRefreshToken == "" {
		return nil
	}
	return s.Repo.RevokeRefreshToken(ctx, pkg_hash.Sha256Hex(rawRefreshToken))
}

// LogoutAll revokes every live refresh token of the user. Password reset
// calls this on success.
func (s *SessionService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	revoked, err := s.Repo.RevokeAllRefreshTokens(ctx, userID)
	if err != nil {
		return err
	}
	if revoked > 0 {
		logging.FromContext(ctx).Info("sessions revoked", "user_id", userID, "count", revoked)
		s.publish(ctx, events.Event{
			Type:    events.TypeSessionsRevoked,
			UserID:  userID.String(),
			Details: map[string]any{"count": revoked},
		})
	}
	return nil
}

func (s *SessionService) mintSession(ctx context.Context, user *models.User, ip, userAgent string) (*LoginResult, error) {
	accessToken, accessExp, err := s.Codec.EncodeAccess(user.ID.String(), user.Role, areaIDString(user), s.AccessTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExp, err := s.Codec.EncodeRefresh(user.ID.String(), s.RefreshTTL)
	if err != nil {
		return nil, err
	}
	record := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: pkg_hash.Sha256Hex(refreshToken),
		ExpiresAt: refreshExp,
		CreatedIP: ip,
		UserAgent: userAgent,
	}
	if err := s.Repo.CreateRefreshToken(ctx, record); err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		User:         user,
	}, nil
}

// recordAttempt appends to the login attempt log. The write is best-effort:
// a failure here must never block the login response.
func (s *SessionService) recordAttempt(ctx context.Context, ip, email, userAgent string, success bool) {
	attempt := &models.LoginAttempt{
		IP:        ip,
		Email:     email,
		Success:   success,
		UserAgent: userAgent,
	}
	if err := s.Repo.RecordLoginAttempt(ctx, attempt); err != nil {
		logging.FromContext(ctx).Error("failed to record login attempt", "error", err)
	}

	outcome := "failed"
	eventType := events.TypeLoginFailed
	if success {
		outcome = "succeeded"
		eventType = events.TypeLoginSucceeded
	}
	metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	s.publish(ctx, events.Event{
		Type:      eventType,
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
	})
}

func (s *SessionService) handleReuse(ctx context.Context, record *models.RefreshToken, ip, userAgent string) {
	l := logging.FromContext(ctx)
	l.Warn("revoked refresh token presented, revoking all sessions",
		"user_id", record.UserID, "token_id", record.ID, "ip", ip)
	metrics.RefreshReuseDetected.Inc()
	s.publish(ctx, events.Event{
		Type:      events.TypeRefreshReused,
		UserID:    record.UserID.String(),
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"token_id": record.ID.String()},
	})
	if err := s.LogoutAll(ctx, record.UserID); err != nil {
		l.Error("failed to revoke sessions after token reuse", "user_id", record.UserID, "error", err)
	}
}

func (s *SessionService) publish(ctx context.Context, event events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, event); err != nil {
		logging.FromContext(ctx).Error("failed to publish security event",
			"type", event.Type, "error", err)
	}
}

func areaIDString(user *models.User) *string {
	if user.AreaID == nil {
		return nil
	}
	v := user.AreaID.String()
	return &v
}
