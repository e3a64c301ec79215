package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/akozyrev/taskdeck/internal/events"
	"github.com/akozyrev/taskdeck/internal/models"
	"github.com/akozyrev/taskdeck/internal/repo"
	pkg_hash "github.com/akozyrev/taskdeck/pkg/hash"
	"github.com/akozyrev/taskdeck/pkg/tokens"
)

type fakeMailer struct {
	mu    sync.Mutex
	tos   []string
	codes []string
}

func (m *fakeMailer) SendOtp(_ context.Context, to, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tos = append(m.tos, to)
	m.codes = append(m.codes, code)
	return nil
}

func (m *fakeMailer) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.codes)
	return m.codes[len(m.codes)-1]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	db        *gorm.DB
	repo      *repo.GormRepo
	codec     *tokens.Codec
	sessions  *SessionService
	flow      *PasswordResetFlow
	mail      *fakeMailer
	published *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.LoginAttempt{},
		&models.OtpCode{},
		&models.ResetToken{},
	))

	r := repo.New(db)
	codec, err := tokens.NewCodec([]byte("test-access-secret"), []byte("test-refresh-secret"))
	require.NoError(t, err)

	mail := &fakeMailer{}
	published := &fakePublisher{}
	sessions := NewSessionService(r, codec, NewLoginThrottle(r), published)
	flow := NewPasswordResetFlow(r, sessions, mail, published, []byte("test-otp-secret"))

	return &testEnv{
		db:        db,
		repo:      r,
		codec:     codec,
		sessions:  sessions,
		flow:      flow,
		mail:      mail,
		published: published,
	}
}

func (env *testEnv) createUser(t *testing.T, email, password string, active bool) *models.User {
	t.Helper()

	passwordHash, err := pkg_hash.HashPassword(password)
	require.NoError(t, err)
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Test User",
		PasswordHash: passwordHash,
		Role:         models.RoleContributor,
		IsActive:     active,
	}
	require.NoError(t, env.db.Create(user).Error)
	return user
}

func (env *testEnv) loginAttemptCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, env.db.Model(&models.LoginAttempt{}).Count(&count).Error)
	return count
}

func TestSessionService_Login_Success(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", "Corr3ct!Pass", true)

	res, err := env.sessions.Login(ctx, "alice@example.com", "Corr3ct!Pass", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, user.ID, res.User.ID)

	claims, err := env.codec.DecodeAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, models.RoleContributor, claims.Role)

	record, err := env.repo.FindRefreshTokenByHash(ctx, pkg_hash.Sha256Hex(res.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", record.CreatedIP)
	assert.Equal(t, "test-agent", record.UserAgent)

	assert.EqualValues(t, 1, env.loginAttemptCount(t))
}

func TestSessionService_Login_FailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "bob@example.com", "Corr3ct!Pass", true)
	env.createUser(t, "carol@example.com", "Corr3ct!Pass", false)

	_, errWrong := env.sessions.Login(ctx, "bob@example.com", "wrong", "10.0.0.1", "")
	_, errUnknown := env.sessions.Login(ctx, "nobody@example.com", "whatever", "10.0.0.1", "")
	_, errInactive := env.sessions.Login(ctx, "carol@example.com", "Corr3ct!Pass", "10.0.0.1", "")

	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errInactive, ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())
	assert.Equal(t, errWrong.Error(), errInactive.Error())
}

func TestSessionService_Login_ThrottleBoundary(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "dave@example.com", "Corr3ct!Pass", true)

	for i := 0; i < 4; i++ {
		_, err := env.sessions.Login(ctx, "dave@example.com", "wrong", "10.9.9.9", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Four failures in the window: the fifth attempt may still proceed.
	res, err := env.sessions.Login(ctx, "dave@example.com", "Corr3ct!Pass", "10.9.9.9", "")
	require.NoError(t, err)
	require.NotNil(t, res)

	// Push the IP to five failures and the throttle closes before
	// credentials are checked, without recording a new attempt.
	_, err = env.sessions.Login(ctx, "dave@example.com", "wrong", "10.9.9.9", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	before := env.loginAttemptCount(t)

	_, err = env.sessions.Login(ctx, "dave@example.com", "Corr3ct!Pass", "10.9.9.9", "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, before, env.loginAttemptCount(t))

	// A different IP is unaffected.
	_, err = env.sessions.Login(ctx, "dave@example.com", "Corr3ct!Pass", "10.8.8.8", "")
	assert.NoError(t, err)
}

func TestLoginThrottle_FailsOpenWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "erin@example.com", "Corr3ct!Pass", true)

	require.NoError(t, env.db.Migrator().DropTable(&models.LoginAttempt{}))

	assert.True(t, env.sessions.Throttle.Allow(ctx, "10.0.0.1"))

	// Login still works; only the attempt record is lost.
	_, err := env.sessions.Login(ctx, "erin@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	assert.NoError(t, err)
}

func TestSessionService_Login_MintFailureStillRecordsAttempt(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "zara@example.com", "Corr3ct!Pass", true)

	// Valid credentials, but the session cannot be persisted.
	require.NoError(t, env.db.Migrator().DropTable(&models.RefreshToken{}))

	before := env.loginAttemptCount(t)
	_, err := env.sessions.Login(ctx, "zara@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	require.Error(t, err)
	assert.Equal(t, before+1, env.loginAttemptCount(t))
}

func TestSessionService_Refresh_RotationInvalidatesOldToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "frank@example.com", "Corr3ct!Pass", true)

	login, err := env.sessions.Login(ctx, "frank@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	require.NoError(t, err)

	rotated, err := env.sessions.Refresh(ctx, login.RefreshToken, "10.0.0.1", "")
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	// Replaying the superseded token fails; the fresh one keeps working.
	_, err = env.sessions.Refresh(ctx, login.RefreshToken, "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionService_Refresh_ReuseRevokesAllSessions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "grace@example.com", "Corr3ct!Pass", true)

	first, err := env.sessions.Login(ctx, "grace@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	require.NoError(t, err)
	second, err := env.sessions.Login(ctx, "grace@example.com", "Corr3ct!Pass", "10.0.0.2", "")
	require.NoError(t, err)

	rotated, err := env.sessions.Refresh(ctx, first.RefreshToken, "10.0.0.1", "")
	require.NoError(t, err)

	// The superseded token comes back: treated as theft, every session of
	// the user dies, including the freshly rotated one and the second
	// device.
	_, err = env.sessions.Refresh(ctx, first.RefreshToken, "10.66.6.6", "")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.sessions.Refresh(ctx, rotated.RefreshToken, "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.sessions.Refresh(ctx, second.RefreshToken, "10.0.0.2", "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	reuse := env.published.byType(events.TypeRefreshReused)
	require.Len(t, reuse, 1)
	assert.Equal(t, user.ID.String(), reuse[0].UserID)
}

func TestSessionService_Refresh_ExpiredRecord(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "heidi@example.com", "Corr3ct!Pass", true)

	login, err := env.sessions.Login(ctx, "heidi@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	require.NoError(t, err)

	// Expire the ledger record while the signature is still fine: the
	// ledger, not the signature, is authoritative.
	hash := pkg_hash.Sha256Hex(login.RefreshToken)
	require.NoError(t, env.db.Model(&models.RefreshToken{}).
		Where("token_hash = ?", hash).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err = env.sessions.Refresh(ctx, login.RefreshToken, "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionService_Refresh_InactiveAccount(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "ivan@example.com", "Corr3ct!Pass", true)

	login, err := env.sessions.Login(ctx, "ivan@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	require.NoError(t, err)

	require.NoError(t, env.db.Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("is_active", false).Error)

	_, err = env.sessions.Refresh(ctx, login.RefreshToken, "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrInactiveAccount)
}

func TestSessionService_Refresh_GarbageToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.sessions.Refresh(context.Background(), "not-a-token", "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionService_Logout_Idempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "judy@example.com", "Corr3ct!Pass", true)

	login, err := env.sessions.Login(ctx, "judy@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	require.NoError(t, err)

	require.NoError(t, env.sessions.Logout(ctx, login.RefreshToken))
	require.NoError(t, env.sessions.Logout(ctx, login.RefreshToken))
	require.NoError(t, env.sessions.Logout(ctx, "completely-unknown"))
	require.NoError(t, env.sessions.Logout(ctx, ""))

	_, err = env.sessions.Refresh(ctx, login.RefreshToken, "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionService_LogoutAll(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "kate@example.com", "Corr3ct!Pass", true)

	a, err := env.sessions.Login(ctx, "kate@example.com", "Corr3ct!Pass", "10.0.0.1", "")
	require.NoError(t, err)
	b, err := env.sessions.Login(ctx, "kate@example.com", "Corr3ct!Pass", "10.0.0.2", "")
	require.NoError(t, err)

	require.NoError(t, env.sessions.LogoutAll(ctx, user.ID))

	_, err = env.sessions.Refresh(ctx, a.RefreshToken, "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.sessions.Refresh(ctx, b.RefreshToken, "10.0.0.2", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
