// Package catalog exports the public marketplace catalog as JSONL snapshots.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/NplusM420/think-marketplace/internal/listing"
)

// FormatVersion is written in every snapshot header.
const FormatVersion = "1"

// Source is the read side of the listing store used for exports.
type Source interface {
	ListApproved(ctx context.Context, f listing.ApprovedFilter) ([]listing.Listing, int, error)
	GetBuilderByID(ctx context.Context, id string) (*listing.Builder, error)
}

type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ListingCount int       `json:"listing_count"`
	BuilderCount int       `json:"builder_count"`
}

type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a header line, then every approved listing and every
// builder owning one, each sorted by id. Pending and rejected listings never
// appear in a snapshot.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	listings, _, err := src.ListApproved(ctx, listing.ApprovedFilter{})
	if err != nil {
		return fmt.Errorf("list approved: %w", err)
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })

	seen := make(map[string]struct{})
	builders := make([]*listing.Builder, 0)
	for _, l := range listings {
		if _, ok := seen[l.BuilderID]; ok {
			continue
		}
		seen[l.BuilderID] = struct{}{}
		b, err := src.GetBuilderByID(ctx, l.BuilderID)
		if err != nil {
			return fmt.Errorf("get builder %s: %w", l.BuilderID, err)
		}
		builders = append(builders, b)
	}
	sort.Slice(builders, func(i, j int) bool { return builders[i].ID < builders[j].ID })

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      FormatVersion,
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		ListingCount: len(listings),
		BuilderCount: len(builders),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for i := range listings {
		if err := enc.Encode(record{Type: "listing", Data: &listings[i]}); err != nil {
			return fmt.Errorf("encode listing %s: %w", listings[i].ID, err)
		}
	}
	for _, b := range builders {
		if err := enc.Encode(record{Type: "builder", Data: b}); err != nil {
			return fmt.Errorf("encode builder %s: %w", b.ID, err)
		}
	}
	return nil
}
