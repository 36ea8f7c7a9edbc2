package main

import (
	"net/http"

	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/session"
)

// handleAdminPending returns the review queue.
func handleAdminPending(app *App, w http.ResponseWriter, r *http.Request) {
	listings, err := app.reviewer.Pending(r.Context(), sessionToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func handleAdminStats(app *App, w http.ResponseWriter, r *http.Request) {
	counts, err := app.reviewer.Stats(r.Context(), sessionToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleAdminApprove approves a pending listing. The body is optional; a
// missing visibility means public. The session is checked before the body is
// read so unauthenticated callers learn nothing from validation errors.
func handleAdminApprove(app *App, w http.ResponseWriter, r *http.Request) {
	if !app.gate.Check(sessionToken(r)) {
		writeError(w, r, session.ErrUnauthorized)
		return
	}
	var input struct {
		Visibility string `json:"visibility"`
	}
	if err := readJSON(r, &input, true); err != nil {
		writeError(w, r, err)
		return
	}

	l, err := app.reviewer.Approve(r.Context(), sessionToken(r), r.PathValue("id"), listing.Visibility(input.Visibility))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// handleAdminReject rejects a pending listing with an optional reason.
func handleAdminReject(app *App, w http.ResponseWriter, r *http.Request) {
	if !app.gate.Check(sessionToken(r)) {
		writeError(w, r, session.ErrUnauthorized)
		return
	}
	var input struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &input, true); err != nil {
		writeError(w, r, err)
		return
	}

	l, err := app.reviewer.Reject(r.Context(), sessionToken(r), r.PathValue("id"), input.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
