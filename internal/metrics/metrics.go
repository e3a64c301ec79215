package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ThrottleFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_throttle_fail_open_total",
		Help: "Times the login throttle store was unavailable and the check failed open.",
	})

	RefreshRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Successful refresh token rotations.",
	})

	RefreshReuseDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Presentations of a signature-valid but already revoked refresh token.",
	})

	OtpIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_otp_issued_total",
		Help: "One-time codes issued for password reset.",
	})

	PasswordResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_password_resets_total",
		Help: "Completed password resets.",
	})
)

// Init registers the collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		LoginAttempts,
		ThrottleFailOpen,
		RefreshRotations,
		RefreshReuseDetected,
		OtpIssued,
		PasswordResets,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
