package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	slugSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugSuffixLength   = 6
	maxSlugAttempts    = 5
	maxReasonLength    = 1000
)

// listingSelect joins the owning builder so reads carry a builder summary.
const listingSelect = `
	SELECT l.id, l.slug, l.name, l.type, l.short_description, l.long_description,
	       l.tags, l.categories, l.links, l.icon_url, l.thumbnail_url, l.status,
	       l.review_state, l.visibility, l.rejection_reason, l.submitter_wallet,
	       l.builder_id, l.created_at, l.updated_at, l.think_fit,
	       b.name AS builder_name, b.slug AS builder_slug,
	       b.bio AS builder_bio, b.website AS builder_website
	FROM listings l
	LEFT JOIN builders b ON b.id = l.builder_id`

const builderSelect = `SELECT id, slug, name, bio, website, twitter, github, created_at FROM builders`

type listingRow struct {
	Listing
	BuilderName    sql.NullString `db:"builder_name"`
	BuilderSlug    sql.NullString `db:"builder_slug"`
	BuilderBio     sql.NullString `db:"builder_bio"`
	BuilderWebsite sql.NullString `db:"builder_website"`
}

func (r *listingRow) listing() Listing {
	l := r.Listing
	if r.BuilderSlug.Valid {
		l.Builder = &BuilderSummary{
			Name:    r.BuilderName.String,
			Slug:    r.BuilderSlug.String,
			Bio:     r.BuilderBio.String,
			Website: r.BuilderWebsite.String,
		}
	}
	if l.Tags == nil {
		l.Tags = StringSet{}
	}
	if l.Categories == nil {
		l.Categories = StringSet{}
	}
	if l.Links == nil {
		l.Links = Links{}
	}
	return l
}

// ReviewFields are the values written alongside a review state change.
type ReviewFields struct {
	Visibility      Visibility
	RejectionReason string
}

// ApprovedFilter narrows ListApproved. A zero Limit returns every row.
type ApprovedFilter struct {
	FeaturedOnly bool
	Type         Type
	Limit        int
	Offset       int
}

// Store persists listings and builders. It works against SQLite and PostgreSQL;
// queries are written with ? placeholders and rebound per driver.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return ioErr("ping store", err)
	}
	return nil
}

// Submit creates a pending listing, creating its builder first when the
// submission describes a new one.
func (s *Store) Submit(ctx context.Context, sub Submission) (*Listing, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	var created *Listing
	err := s.inTx(ctx, "submit listing", func(tx *sqlx.Tx) error {
		builder, err := s.resolveBuilder(ctx, tx, sub.Builder)
		if err != nil {
			return err
		}

		slug, err := uniqueSlug(ctx, tx, "listings", Slugify(sub.Name))
		if err != nil {
			return err
		}

		now := s.now()
		l := Listing{
			ID:               uuid.New().String(),
			Slug:             slug,
			Name:             sub.Name,
			Type:             sub.Type,
			ShortDescription: sub.ShortDescription,
			LongDescription:  strings.TrimSpace(sub.LongDescription),
			Tags:             NewStringSet(sub.Tags...),
			Categories:       NewStringSet(sub.Categories...),
			Links:            Links(sub.Links),
			IconURL:          sub.IconURL,
			ThumbnailURL:     sub.ThumbnailURL,
			Status:           sub.Status,
			ReviewState:      StatePending,
			Visibility:       VisibilityNone,
			SubmitterWallet:  sub.SubmitterWallet,
			BuilderID:        builder.ID,
			CreatedAt:        now,
			UpdatedAt:        now,
			ThinkFit:         sub.ThinkFit,
		}
		if l.Links == nil {
			l.Links = Links{}
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO listings (
				id, slug, name, type, short_description, long_description,
				tags, categories, links, icon_url, thumbnail_url, status,
				review_state, visibility, rejection_reason, submitter_wallet,
				builder_id, created_at, updated_at, think_fit
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			l.ID, l.Slug, l.Name, l.Type, l.ShortDescription, l.LongDescription,
			l.Tags, l.Categories, l.Links, l.IconURL, l.ThumbnailURL, l.Status,
			l.ReviewState, l.Visibility, l.RejectionReason, l.SubmitterWallet,
			l.BuilderID, l.CreatedAt, l.UpdatedAt, l.ThinkFit,
		)
		if err != nil {
			return ioErr("insert listing", err)
		}

		l.Builder = builder.Summary()
		created = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) insertBuilder(ctx context.Context, tx *sqlx.Tx, b *Builder) error {
	b.Name = strings.TrimSpace(b.Name)
	base := Slugify(b.Name)
	if base == "" {
		return &ValidationError{Field: "builder.name", Message: "must contain letters or digits"}
	}
	slug, err := uniqueSlug(ctx, tx, "builders", base)
	if err != nil {
		return err
	}
	b.ID = uuid.New().String()
	b.Slug = slug
	b.CreatedAt = s.now()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO builders (id, slug, name, bio, website, twitter, github, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.Slug, b.Name, b.Bio, b.Website, b.Twitter, b.GitHub, b.CreatedAt,
	)
	if err != nil {
		return ioErr("insert builder", err)
	}
	return nil
}

func (s *Store) resolveBuilder(ctx context.Context, tx *sqlx.Tx, ref BuilderRef) (*Builder, error) {
	if ref.Existing() {
		where, arg := "slug = ?", ref.Slug
		if ref.ID != "" {
			where, arg = "id = ?", ref.ID
		}
		b, err := getBuilder(ctx, tx, where, arg)
		if errors.Is(err, ErrNotFound) {
			return nil, &ValidationError{Field: "builder", Message: "does not exist"}
		}
		return b, err
	}
	b := &Builder{
		Name:    ref.Name,
		Bio:     strings.TrimSpace(ref.Bio),
		Website: ref.Website,
		Twitter: strings.TrimSpace(ref.Twitter),
		GitHub:  strings.TrimSpace(ref.GitHub),
	}
	if err := s.insertBuilder(ctx, tx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// uniqueSlug returns base if unused in table, otherwise base with a random suffix.
func uniqueSlug(ctx context.Context, q sqlx.ExtContext, table, base string) (string, error) {
	candidate := base
	for range maxSlugAttempts {
		var n int
		// table is one of two constants chosen by this package.
		query := q.Rebind("SELECT COUNT(*) FROM " + table + " WHERE slug = ?")
		if err := sqlx.GetContext(ctx, q, &n, query, candidate); err != nil {
			return "", ioErr("check slug", err)
		}
		if n == 0 {
			return candidate, nil
		}
		suffix, err := nanoid.Generate(slugSuffixAlphabet, slugSuffixLength)
		if err != nil {
			return "", fmt.Errorf("generate slug suffix: %w", err)
		}
		candidate = base + "-" + suffix
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
}

// GetByID returns a listing in any review state.
func (s *Store) GetByID(ctx context.Context, id string) (*Listing, error) {
	return getListing(ctx, s.db, "l.id = ?", id)
}

// GetBySlug returns a listing in any review state; callers enforce visibility.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Listing, error) {
	return getListing(ctx, s.db, "l.slug = ?", slug)
}

func getListing(ctx context.Context, q sqlx.ExtContext, where string, arg any) (*Listing, error) {
	var row listingRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(listingSelect+" WHERE "+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, ioErr("query listing", err)
	}
	l := row.listing()
	return &l, nil
}

// ListPending returns pending listings oldest first.
func (s *Store) ListPending(ctx context.Context) ([]Listing, error) {
	return s.selectListings(ctx, "list pending",
		listingSelect+" WHERE l.review_state = ? ORDER BY l.created_at ASC, l.id ASC", StatePending)
}

// ListByBuilder returns a builder's listings, newest first. When states is
// non-empty only listings in those review states are returned.
func (s *Store) ListByBuilder(ctx context.Context, builderID string, states ...ReviewState) ([]Listing, error) {
	query := listingSelect + " WHERE l.builder_id = ?"
	args := []any{builderID}
	if len(states) > 0 {
		query += " AND l.review_state IN (?" + strings.Repeat(", ?", len(states)-1) + ")"
		for _, st := range states {
			args = append(args, st)
		}
	}
	query += " ORDER BY l.created_at DESC, l.id ASC"
	return s.selectListings(ctx, "list builder listings", query, args...)
}

// ListApproved returns approved listings, featured first then newest, with the
// total number of matches ignoring Limit and Offset.
func (s *Store) ListApproved(ctx context.Context, f ApprovedFilter) ([]Listing, int, error) {
	where := " WHERE l.review_state = ?"
	args := []any{StateApproved}
	if f.FeaturedOnly {
		where += " AND l.visibility = ?"
		args = append(args, VisibilityFeatured)
	}
	if f.Type != "" {
		where += " AND l.type = ?"
		args = append(args, f.Type)
	}

	var total int
	if err := sqlx.GetContext(ctx, s.db, &total, s.db.Rebind("SELECT COUNT(*) FROM listings l"+where), args...); err != nil {
		return nil, 0, ioErr("count approved", err)
	}

	query := listingSelect + where +
		" ORDER BY CASE WHEN l.visibility = 'featured' THEN 0 ELSE 1 END, l.created_at DESC, l.id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	listings, err := s.selectListings(ctx, "list approved", query, args...)
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

func (s *Store) selectListings(ctx context.Context, op, query string, args ...any) ([]Listing, error) {
	var rows []listingRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, ioErr(op, err)
	}
	out := make([]Listing, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].listing())
	}
	return out, nil
}

// UpdateReviewState moves a pending listing to approved or rejected. The write is
// a compare-and-set on review_state, so of two racing calls exactly one applies;
// the other gets ErrInvalidTransition. updated_at is bumped on success.
func (s *Store) UpdateReviewState(ctx context.Context, id string, to ReviewState, fields ReviewFields) (*Listing, error) {
	if to != StateApproved && to != StateRejected {
		return nil, &ValidationError{Field: "review_state", Message: "must be approved or rejected"}
	}

	visibility := VisibilityNone
	reason := ""
	switch to {
	case StateApproved:
		v, err := ParseVisibility(string(fields.Visibility))
		if err != nil {
			return nil, err
		}
		visibility = v
	case StateRejected:
		reason = strings.TrimSpace(fields.RejectionReason)
		if utf8.RuneCountInString(reason) > maxReasonLength {
			return nil, &ValidationError{Field: "reason", Message: fmt.Sprintf("must be at most %d characters", maxReasonLength)}
		}
	}

	var updated *Listing
	err := s.inTx(ctx, "update review state", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE listings
			SET review_state = ?, visibility = ?, rejection_reason = ?, updated_at = ?
			WHERE id = ? AND review_state = ?`),
			to, visibility, reason, s.now(), id, StatePending,
		)
		if err != nil {
			return ioErr("update review state", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ioErr("update review state", err)
		}
		if n == 0 {
			var current ReviewState
			err := sqlx.GetContext(ctx, tx, &current, tx.Rebind("SELECT review_state FROM listings WHERE id = ?"), id)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("listing %s: %w", id, ErrNotFound)
			}
			if err != nil {
				return ioErr("read review state", err)
			}
			return &TransitionError{ID: id, Current: current, Target: to}
		}

		updated, err = getListing(ctx, tx, "l.id = ?", id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetBuilderBySlug returns a builder by slug.
func (s *Store) GetBuilderBySlug(ctx context.Context, slug string) (*Builder, error) {
	return getBuilder(ctx, s.db, "slug = ?", slug)
}

// GetBuilderByID returns a builder by id.
func (s *Store) GetBuilderByID(ctx context.Context, id string) (*Builder, error) {
	return getBuilder(ctx, s.db, "id = ?", id)
}

func getBuilder(ctx context.Context, q sqlx.ExtContext, where string, arg any) (*Builder, error) {
	var b Builder
	err := sqlx.GetContext(ctx, q, &b, q.Rebind(builderSelect+" WHERE "+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("builder %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, ioErr("query builder", err)
	}
	return &b, nil
}

// Counts returns the number of listings per review state.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var rows []struct {
		State ReviewState `db:"review_state"`
		N     int         `db:"n"`
	}
	err := sqlx.SelectContext(ctx, s.db, &rows, "SELECT review_state, COUNT(*) AS n FROM listings GROUP BY review_state")
	if err != nil {
		return Counts{}, ioErr("count listings", err)
	}

	var c Counts
	for _, r := range rows {
		switch r.State {
		case StatePending:
			c.Pending = r.N
		case StateApproved:
			c.Approved = r.N
		case StateRejected:
			c.Rejected = r.N
		}
	}

	err = sqlx.GetContext(ctx, s.db, &c.Featured,
		s.db.Rebind("SELECT COUNT(*) FROM listings WHERE review_state = ? AND visibility = ?"),
		StateApproved, VisibilityFeatured)
	if err != nil {
		return Counts{}, ioErr("count featured", err)
	}
	return c, nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ioErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return ioErr(op, err)
	}
	return nil
}
