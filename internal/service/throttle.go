package service

import (
	"context"
	"time"

	"github.com/akozyrev/taskdeck/internal/metrics"
	"github.com/akozyrev/taskdeck/internal/repo"
	"github.com/akozyrev/taskdeck/pkg/logging"
)

const (
	DefaultThrottleWindow = 15 * time.Minute
	DefaultThrottleMax    = 5
)

// LoginThrottle counts failed logins per IP over a sliding window. The
// check itself never writes anything: throttling counts failed logins,
// not throttle checks.
type LoginThrottle struct {
	Repo   *repo.GormRepo
	Window time.Duration
	Max    int64
}

func NewLoginThrottle(r *repo.GormRepo) *LoginThrottle {
	return &LoginThrottle{
		Repo:   r,
		Window: DefaultThrottleWindow,
		Max:    DefaultThrottleMax,
	}
}

// Allow reports whether a login from this IP may proceed. When the counter
// store is unavailable the throttle fails open: login availability must not
// depend on throttle availability. Every fail-open is logged and counted.
func (t *LoginThrottle) Allow(ctx context.Context, ip string) bool {
	failures, err := t.Repo.CountRecentFailures(ctx, ip, t.Window)
	if err != nil {
		logging.FromContext(ctx).Warn("login throttle store unavailable, failing open",
			"ip", ip, "error", err)
		metrics.ThrottleFailOpen.Inc()
		return true
	}
	return failures < t.Max
}
