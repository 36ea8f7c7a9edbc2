package main

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/NplusM420/think-marketplace/internal/listing"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// markdown renders submitter-provided descriptions. Raw HTML in the source is
// dropped, goldmark's default.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts a markdown string to HTML.
func renderMarkdown(md string) string {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTMLEscapeString(md)
	}
	return buf.String()
}

// listingView is a public listing with its description rendered.
type listingView struct {
	*listing.Listing
	LongDescriptionHTML string `json:"long_description_html,omitempty"`
}

// handleGetListing resolves an approved listing by slug. Pending and rejected
// listings are indistinguishable from missing ones.
func handleGetListing(app *App, w http.ResponseWriter, r *http.Request) {
	l, err := app.store.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !l.Public() {
		writeError(w, r, listing.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, listingView{Listing: l, LongDescriptionHTML: renderMarkdown(l.LongDescription)})
}

// handleGetBuilder returns a builder with its approved listings.
func handleGetBuilder(app *App, w http.ResponseWriter, r *http.Request) {
	b, err := app.store.GetBuilderBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	listings, err := app.store.ListByBuilder(r.Context(), b.ID, listing.StateApproved)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"builder":  b,
		"listings": listings,
	})
}

// handleListListings pages through approved listings, featured first.
func handleListListings(app *App, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := listing.ApprovedFilter{}

	if raw := q.Get("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, &listing.ValidationError{Field: "featured", Message: "must be true or false"})
			return
		}
		filter.FeaturedOnly = featured
	}
	if raw := q.Get("type"); raw != "" {
		filter.Type = listing.Type(raw)
		if !filter.Type.Valid() {
			writeError(w, r, &listing.ValidationError{Field: "type", Message: "must be one of agent, tool, app"})
			return
		}
	}

	page, err := positiveParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, r, &listing.ValidationError{Field: "page", Message: "must be a positive integer"})
		return
	}
	perPage, err := positiveParam(q.Get("per_page"), defaultPerPage)
	if err != nil {
		writeError(w, r, &listing.ValidationError{Field: "per_page", Message: "must be a positive integer"})
		return
	}
	perPage = min(perPage, maxPerPage)
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	listings, total, err := app.store.ListApproved(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set("X-Page", strconv.Itoa(page))
	w.Header().Set("X-Per-Page", strconv.Itoa(perPage))
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func positiveParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
