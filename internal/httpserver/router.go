package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/akozyrev/taskdeck/internal/metrics"
	appmw "github.com/akozyrev/taskdeck/internal/middleware"
)

type Deps struct {
	AuthHandler     *AuthHTTP
	PasswordHandler *PasswordHTTP
	Identity        *appmw.IdentityMiddleware
	RateLimiter     *appmw.RateLimiter
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	auth := e.Group("/auth")
	if d.RateLimiter != nil {
		auth.Use(d.RateLimiter.Middleware)
	}

	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/refresh", d.AuthHandler.Refresh)
	auth.POST("/logout", d.AuthHandler.Logout)
	auth.GET("/me", d.AuthHandler.Me, d.Identity.Require)

	auth.POST("/password/forgot", d.PasswordHandler.Forgot)
	auth.POST("/password/verify-otp", d.PasswordHandler.VerifyOtp)
	auth.POST("/password/reset", d.PasswordHandler.Reset)
}
