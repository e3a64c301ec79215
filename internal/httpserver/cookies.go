package httpserver

import (
	"net/http"
	"time"
)

const refreshCookieName = "refresh_token"

// refreshCookie scopes the refresh token to the auth endpoints. HttpOnly
// keeps it away from scripts; Secure is relaxed only in dev so local
// plain-HTTP setups work.
func refreshCookie(value string, exp time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     "/auth",
		Expires:  exp,
		MaxAge:   int(time.Until(exp).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func deleteRefreshCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
