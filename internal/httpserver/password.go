package httpserver

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/akozyrev/taskdeck/internal/service"
	"github.com/akozyrev/taskdeck/pkg/logging"
	"github.com/akozyrev/taskdeck/pkg/validation"
)

type PasswordHTTP struct {
	Flow *service.PasswordResetFlow
}

// forgotMessage is returned for every /auth/password/forgot request,
// existing account or not. Byte-identical responses are part of the
// anti-enumeration contract.
const forgotMessage = "If an account with that email exists, a reset code has been sent."

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

func (h *PasswordHTTP) Forgot(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}

	// RequestOtp swallows every outcome; an error here would be a
	// programming mistake, not an account signal.
	if err := h.Flow.RequestOtp(ctx, req.Email, c.RealIP(), c.Request().UserAgent()); err != nil {
		logging.FromContext(ctx).Error("otp request failed", "error", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": forgotMessage})
}

func (h *PasswordHTTP) VerifyOtp(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "password_verify_otp")

	var req struct {
		Email string `json:"email"`
		Otp   string `json:"otp"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || !otpPattern.MatchString(req.Otp) {
		return echo.NewHTTPError(http.StatusBadRequest, "OTP_INVALID")
	}

	resetToken, err := h.Flow.VerifyOtp(ctx, req.Email, req.Otp)
	if err != nil {
		if errors.Is(err, service.ErrOtpInvalid) {
			return echo.NewHTTPError(http.StatusBadRequest, "OTP_INVALID")
		}
		l.Error("otp verification failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{"reset_token": resetToken})
}

func (h *PasswordHTTP) Reset(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "password_reset")

	var req struct {
		ResetToken      string `json:"reset_token"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.ResetToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "RESET_FAILED")
	}
	if req.Password != req.ConfirmPassword {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "passwords do not match")
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if err := h.Flow.ResetPassword(ctx, req.ResetToken, req.Password); err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, service.ErrResetInvalid):
			return echo.NewHTTPError(http.StatusBadRequest, "RESET_FAILED")
		default:
			l.Error("password reset failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "password updated"})
}
