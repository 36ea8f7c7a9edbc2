package main

import (
	"net/http"

	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/logger"
	"github.com/NplusM420/think-marketplace/internal/metrics"
	"github.com/NplusM420/think-marketplace/internal/session"
)

// App carries the dependencies shared by the HTTP handlers.
type App struct {
	store    *listing.Store
	reviewer *listing.Reviewer
	gate     *session.Gate
	metrics  *metrics.Metrics
	log      logger.Logger

	secureCookie bool
}

func SetupRoutes(app *App) http.Handler {
	mux := http.NewServeMux()

	// Admin session
	mux.HandleFunc("GET /admin", func(w http.ResponseWriter, r *http.Request) {
		handleAdminStatus(app, w, r)
	})
	mux.HandleFunc("POST /admin", func(w http.ResponseWriter, r *http.Request) {
		handleAdminLogin(app, w, r)
	})
	mux.HandleFunc("DELETE /admin", func(w http.ResponseWriter, r *http.Request) {
		handleAdminLogout(app, w, r)
	})

	// Review queue
	mux.HandleFunc("GET /admin/pending", func(w http.ResponseWriter, r *http.Request) {
		handleAdminPending(app, w, r)
	})
	mux.HandleFunc("GET /admin/stats", func(w http.ResponseWriter, r *http.Request) {
		handleAdminStats(app, w, r)
	})
	mux.HandleFunc("POST /admin/listings/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		handleAdminApprove(app, w, r)
	})
	mux.HandleFunc("POST /admin/listings/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		handleAdminReject(app, w, r)
	})

	// Submission and public reads
	mux.HandleFunc("POST /listings", func(w http.ResponseWriter, r *http.Request) {
		handleSubmitListing(app, w, r)
	})
	mux.HandleFunc("GET /listings", func(w http.ResponseWriter, r *http.Request) {
		handleListListings(app, w, r)
	})
	mux.HandleFunc("GET /listing/{slug}", func(w http.ResponseWriter, r *http.Request) {
		handleGetListing(app, w, r)
	})
	mux.HandleFunc("GET /builder/{slug}", func(w http.ResponseWriter, r *http.Request) {
		handleGetBuilder(app, w, r)
	})

	// Operations
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		handleHealthz(app, w, r)
	})
	mux.Handle("GET /metrics", app.metrics.Handler())

	return LoggingMiddleware(app.log)(app.metrics.Middleware(mux))
}
