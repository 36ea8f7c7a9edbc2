package main

import (
	"net/http"
	"time"

	"github.com/NplusM420/think-marketplace/internal/logger"
	"github.com/NplusM420/think-marketplace/internal/session"
)

// handleAdminStatus reports whether the caller holds a live admin session.
func handleAdminStatus(app *App, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": app.gate.Check(sessionToken(r))})
}

// handleAdminLogin exchanges the admin code for a session cookie. A wrong code
// and an unconfigured gate look the same to the caller.
func handleAdminLogin(app *App, w http.ResponseWriter, r *http.Request) {
	var input struct {
		Code string `json:"code"`
	}
	if err := readJSON(r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}

	sess, err := app.gate.Login(input.Code)
	if err != nil {
		if !app.gate.Configured() {
			logger.FromContext(r.Context()).Warn("Admin login attempted but no admin code is configured")
		}
		writeError(w, r, session.ErrUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   app.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	logger.FromContext(r.Context()).Info("Admin session started")
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"expires_at":    sess.ExpiresAt,
	})
}

// handleAdminLogout revokes the session and clears the cookie. It always succeeds.
func handleAdminLogout(app *App, w http.ResponseWriter, r *http.Request) {
	app.gate.Logout(sessionToken(r))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   app.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}
