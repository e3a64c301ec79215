package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	appmw "github.com/akozyrev/taskdeck/internal/middleware"
	"github.com/akozyrev/taskdeck/internal/models"
	"github.com/akozyrev/taskdeck/internal/service"
	"github.com/akozyrev/taskdeck/pkg/logging"
)

type AuthHTTP struct {
	Sessions *service.SessionService
	// SecureCookies is false only in dev.
	SecureCookies bool
}

type userPayload struct {
	ID     string  `json:"id"`
	Email  string  `json:"email"`
	Name   string  `json:"name"`
	Role   string  `json:"role"`
	AreaID *string `json:"area_id"`
}

func toUserPayload(u *models.User) userPayload {
	p := userPayload{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	}
	if u.AreaID != nil {
		v := u.AreaID.String()
		p.AreaID = &v
	}
	return p
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	res, err := h.Sessions.Login(ctx, req.Email, req.Password, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
		case errors.Is(err, service.ErrRateLimited):
			c.Response().Header().Set("Retry-After",
				strconv.Itoa(int(h.Sessions.Throttle.Window.Seconds())))
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed attempts, try again later")
		case errors.Is(err, service.ErrInvalidCredentials):
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
		default:
			l.Error("login failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	c.SetCookie(refreshCookie(res.RefreshToken, res.RefreshExp, h.SecureCookies))
	return c.JSON(http.StatusOK, echo.Map{
		"access_token": res.AccessToken,
		"user":         toUserPayload(res.User),
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing refresh token")
	}

	res, err := h.Sessions.Refresh(ctx, cookie.Value, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrInactiveAccount):
			c.SetCookie(deleteRefreshCookie(h.SecureCookies))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
		default:
			l.Error("refresh failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	c.SetCookie(refreshCookie(res.RefreshToken, res.RefreshExp, h.SecureCookies))
	return c.JSON(http.StatusOK, echo.Map{
		"access_token": res.AccessToken,
	})
}

// Logout always answers 200: revoking an unknown or already revoked token
// is not an error the caller can act on.
func (h *AuthHTTP) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	if cookie, err := c.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if err := h.Sessions.Logout(ctx, cookie.Value); err != nil {
			l.Error("logout revoke failed", "error", err)
		}
	}

	c.SetCookie(deleteRefreshCookie(h.SecureCookies))
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHTTP) Me(c echo.Context) error {
	identity, ok := appmw.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
	}
	return c.JSON(http.StatusOK, identity)
}
