package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/akozyrev/taskdeck/internal/repo"
	"github.com/akozyrev/taskdeck/pkg/logging"
	"github.com/akozyrev/taskdeck/pkg/tokens"
)

const identityKey = "identity"

// Identity is the per-request context the rest of the application receives.
// Role and area scoping of business queries flows exclusively through it.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	AreaID *string   `json:"area_id"`
	Email  string    `json:"email"`
	Name   string    `json:"name"`
}

type IdentityMiddleware struct {
	Codec *tokens.Codec
	Repo  *repo.GormRepo
}

func NewIdentityMiddleware(codec *tokens.Codec, r *repo.GormRepo) *IdentityMiddleware {
	return &IdentityMiddleware{Codec: codec, Repo: r}
}

// Require resolves the bearer access token into an Identity or rejects the
// request. A store failure is logged as an internal error, distinct from an
// authentication failure, even though the caller sees 401 either way.
func (m *IdentityMiddleware) Require(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("mw", "identity")

		raw, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		claims, err := m.Codec.DecodeAccess(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		user, err := m.Repo.FindUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				l.Warn("token subject no longer exists", "user_id", userID)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			l.Error("identity lookup failed", "user_id", userID, "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication unavailable")
		}
		if !user.IsActive {
			l.Warn("inactive account presented a valid token", "user_id", userID)
			return echo.NewHTTPError(http.StatusForbidden, "account is not active")
		}

		identity := Identity{
			UserID: user.ID,
			Role:   user.Role,
			AreaID: claims.AreaID,
			Email:  user.Email,
			Name:   user.Name,
		}
		c.Set(identityKey, identity)
		return next(c)
	}
}

// IdentityFrom returns the identity attached by Require.
func IdentityFrom(c echo.Context) (Identity, bool) {
	v, ok := c.Get(identityKey).(Identity)
	return v, ok
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
