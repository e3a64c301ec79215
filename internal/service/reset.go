package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/akozyrev/taskdeck/internal/events"
	"github.com/akozyrev/taskdeck/internal/mailer"
	"github.com/akozyrev/taskdeck/internal/metrics"
	"github.com/akozyrev/taskdeck/internal/models"
	"github.com/akozyrev/taskdeck/internal/repo"
	pkg_hash "github.com/akozyrev/taskdeck/pkg/hash"
	"github.com/akozyrev/taskdeck/pkg/logging"
	"github.com/akozyrev/taskdeck/pkg/validation"
)

const (
	DefaultOtpTTL        = 10 * time.Minute
	DefaultResetTokenTTL = 20 * time.Minute
	DefaultOtpAttemptCap = 5
	DefaultOtpRequestCap = 3
	otpRequestWindow     = 15 * time.Minute
)

// PasswordResetFlow drives request -> verify -> consume over the OTP and
// reset token ledgers.
type PasswordResetFlow struct {
	Repo          *repo.GormRepo
	Sessions      *SessionService
	Mailer        mailer.Mailer
	Events        events.Publisher
	OtpSecret     []byte
	OtpTTL        time.Duration
	ResetTokenTTL time.Duration
	OtpAttemptCap int
	OtpRequestCap int64
}

func NewPasswordResetFlow(r *repo.GormRepo, sessions *SessionService, m mailer.Mailer, publisher events.Publisher, otpSecret []byte) *PasswordResetFlow {
	return &PasswordResetFlow{
		Repo:          r,
		Sessions:      sessions,
		Mailer:        m,
		Events:        publisher,
		OtpSecret:     otpSecret,
		OtpTTL:        DefaultOtpTTL,
		ResetTokenTTL: DefaultResetTokenTTL,
		OtpAttemptCap: DefaultOtpAttemptCap,
		OtpRequestCap: DefaultOtpRequestCap,
	}
}

// RequestOtp never tells the caller whether the email is known. For an
// unknown or inactive account, and for a user over the request cap, it
// silently does nothing and still reports success. This is a hard
// anti-enumeration contract, not an optimization.
func (f *PasswordResetFlow) RequestOtp(ctx context.Context, email, ip, userAgent string) error {
	l := logging.FromContext(ctx).With("svc", "reset.request_otp")

	user, err := f.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Debug("otp requested for unknown email")
			return nil
		}
		l.Error("otp request lookup failed", "error", err)
		return nil
	}
	if !user.IsActive {
		l.Debug("otp requested for inactive account", "user_id", user.ID)
		return nil
	}

	recent, err := f.Repo.CountRecentOtpRequests(ctx, user.ID, otpRequestWindow)
	if err != nil {
		l.Error("otp request count failed", "error", err)
		return nil
	}
	if recent >= f.OtpRequestCap {
		l.Warn("otp request cap reached", "user_id", user.ID)
		return nil
	}

	code, err := generateOtpCode()
	if err != nil {
		l.Error("otp generation failed", "error", err)
		return nil
	}

	// Issuing a new code invalidates any prior active one: at most one OTP
	// per user is live at any moment.
	if err := f.Repo.InvalidateActiveOtps(ctx, user.ID); err != nil {
		l.Error("otp invalidation failed", "user_id", user.ID, "error", err)
		return nil
	}
	otp := &models.OtpCode{
		UserID:    user.ID,
		CodeHash:  pkg_hash.HmacHex(f.OtpSecret, code),
		ExpiresAt: time.Now().UTC().Add(f.OtpTTL),
		CreatedIP: ip,
		UserAgent: userAgent,
	}
	if err := f.Repo.CreateOtp(ctx, otp); err != nil {
		l.Error("otp create failed", "user_id", user.ID, "error", err)
		return nil
	}

	if err := f.Mailer.SendOtp(ctx, user.Email, user.Name, code); err != nil {
		// Delivery failure cannot surface to the caller without leaking
		// account existence.
		l.Error("otp delivery failed", "user_id", user.ID, "error", err)
		return nil
	}

	metrics.OtpIssued.Inc()
	f.publish(ctx, events.Event{
		Type:   events.TypeOtpIssued,
		UserID: user.ID.String(),
		IP:     ip,
	})
	l.Info("otp issued", "user_id", user.ID)
	return nil
}

// VerifyOtp exchanges a correct code for a raw reset token, the only bearer
// secret this flow returns to the caller. Every failure mode collapses into
// ErrOtpInvalid.
func (f *PasswordResetFlow) VerifyOtp(ctx context.Context, email, code string) (string, error) {
	l := logging.FromContext(ctx).With("svc", "reset.verify_otp")

	user, err := f.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("otp verify for unknown email")
			return "", ErrOtpInvalid
		}
		return "", err
	}

	otp, err := f.Repo.FindActiveOtp(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("otp verify with no active code", "user_id", user.ID)
			return "", ErrOtpInvalid
		}
		return "", err
	}

	now := time.Now().UTC()
	if !otp.ExpiresAt.After(now) {
		_ = f.Repo.MarkOtpUsed(ctx, otp.ID)
		l.Warn("otp verify on expired code", "user_id", user.ID)
		return "", ErrOtpInvalid
	}
	if otp.Attempts >= f.OtpAttemptCap {
		_ = f.Repo.MarkOtpUsed(ctx, otp.ID)
		l.Warn("otp attempt cap reached", "user_id", user.ID)
		return "", ErrOtpInvalid
	}

	if !pkg_hash.EqualHex(otp.CodeHash, pkg_hash.HmacHex(f.OtpSecret, code)) {
		attempts, err := f.Repo.IncrementOtpAttempts(ctx, otp.ID, f.OtpAttemptCap)
		if err != nil && !errors.Is(err, repo.ErrStale) {
			l.Error("otp attempt increment failed", "user_id", user.ID, "error", err)
		}
		if attempts >= f.OtpAttemptCap {
			_ = f.Repo.MarkOtpUsed(ctx, otp.ID)
		}
		l.Warn("otp verify with wrong code", "user_id", user.ID, "attempts", attempts)
		return "", ErrOtpInvalid
	}

	if err := f.Repo.MarkOtpUsed(ctx, otp.ID); err != nil {
		return "", err
	}

	rawToken, err := generateResetToken()
	if err != nil {
		return "", err
	}
	record := &models.ResetToken{
		UserID:    user.ID,
		TokenHash: pkg_hash.Sha256Hex(rawToken),
		ExpiresAt: now.Add(f.ResetTokenTTL),
	}
	if err := f.Repo.CreateResetToken(ctx, record); err != nil {
		return "", err
	}

	l.Info("otp verified, reset token issued", "user_id", user.ID)
	return rawToken, nil
}

// ResetPassword consumes the reset token, updates the password hash and
// revokes every existing session of the user in one transaction. The whole
// point of the flow is recovering from a potentially compromised
// credential, so no session survives it.
func (f *PasswordResetFlow) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	l := logging.FromContext(ctx).With("svc", "reset.reset_password")

	if err := validation.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	passwordHash, err := pkg_hash.HashPassword(newPassword)
	if err != nil {
		return err
	}

	userID, err := f.Repo.ConsumeResetToken(ctx, pkg_hash.Sha256Hex(rawToken), passwordHash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrStale) {
			l.Warn("reset with invalid token")
			return ErrResetInvalid
		}
		return err
	}

	metrics.PasswordResets.Inc()
	f.publish(ctx, events.Event{
		Type:   events.TypePasswordResetDone,
		UserID: userID.String(),
	})
	l.Info("password reset completed", "user_id", userID)
	return nil
}

func (f *PasswordResetFlow) publish(ctx context.Context, event events.Event) {
	if f.Events == nil {
		return
	}
	if err := f.Events.Publish(ctx, event); err != nil {
		logging.FromContext(ctx).Error("failed to publish security event",
			"type", event.Type, "error", err)
	}
}

// generateOtpCode returns exactly six digits, zero-padded.
func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// generateResetToken returns 256 bits of randomness, base64url-encoded.
func generateResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
