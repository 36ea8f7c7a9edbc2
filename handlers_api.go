package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/logger"
	"github.com/NplusM420/think-marketplace/internal/session"
)

const (
	maxBodyBytes  = 1 << 20
	healthTimeout = 2 * time.Second
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readJSON decodes a JSON request body into v. An empty body leaves v untouched
// when allowEmpty is set.
func readJSON(r *http.Request, v any, allowEmpty bool) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return &listing.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

// writeError maps err onto a status code and writes {"error": "..."}.
// Messages for server-side failures are generic; the cause is logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *listing.ValidationError
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, listing.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, listing.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case errors.Is(err, listing.ErrTransientIO):
		logger.FromContext(r.Context()).Error("Store unavailable", logger.String("path", r.URL.Path), logger.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service temporarily unavailable"})
	default:
		logger.FromContext(r.Context()).Error("Unhandled error", logger.String("path", r.URL.Path), logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// handleSubmitListing enters a new listing into review.
func handleSubmitListing(app *App, w http.ResponseWriter, r *http.Request) {
	var sub listing.Submission
	if err := readJSON(r, &sub, false); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := app.reviewer.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func handleHealthz(app *App, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := app.store.Ping(ctx); err != nil {
		logger.FromContext(r.Context()).Warn("Health check failed", logger.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
