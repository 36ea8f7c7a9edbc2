package listing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mockNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newMockStore returns a Store speaking the postgres dialect against sqlmock.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewStore(sqlx.NewDb(db, "postgres"), WithClock(func() time.Time { return mockNow }))
	return store, mock
}

var listingColumns = []string{
	"id", "slug", "name", "type", "short_description", "long_description",
	"tags", "categories", "links", "icon_url", "thumbnail_url", "status",
	"review_state", "visibility", "rejection_reason", "submitter_wallet",
	"builder_id", "created_at", "updated_at", "think_fit",
	"builder_name", "builder_slug", "builder_bio", "builder_website",
}

func TestStore_Postgres_ApproveUsesDollarPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)
	created := mockNow.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE listings\s+SET review_state = \$1, visibility = \$2, rejection_reason = \$3, updated_at = \$4\s+WHERE id = \$5 AND review_state = \$6`).
		WithArgs("approved", "featured", "", mockNow, "l1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`LEFT JOIN builders b ON b.id = l.builder_id WHERE l.id = \$1`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(listingColumns).AddRow(
			"l1", "bot", "Bot", "agent", "Reviews code", "",
			[]byte(`["ai"]`), []byte(`[]`), []byte(`{}`), "", "", "live",
			"approved", "featured", "", "0xabc",
			"b1", created, mockNow, []byte(`{"soul":{"has_wallet_auth":"planned"}}`),
			"Acme", "acme", "", "https://acme.dev",
		))
	mock.ExpectCommit()

	l, err := store.UpdateReviewState(context.Background(), "l1", StateApproved, ReviewFields{Visibility: VisibilityFeatured})
	require.NoError(t, err)
	assert.Equal(t, StateApproved, l.ReviewState)
	assert.Equal(t, StringSet{"ai"}, l.Tags)
	require.NotNil(t, l.ThinkFit)
	assert.Equal(t, WalletAuthPlanned, l.ThinkFit.Soul.HasWalletAuth)
	require.NotNil(t, l.Builder)
	assert.Equal(t, "acme", l.Builder.Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Postgres_LostRaceIsInvalidTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE listings`).
		WithArgs("rejected", "", "", mockNow, "l1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT review_state FROM listings WHERE id = \$1`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"review_state"}).AddRow("approved"))
	mock.ExpectRollback()

	_, err := store.UpdateReviewState(context.Background(), "l1", StateRejected, ReviewFields{})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateApproved, terr.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Postgres_MissingListing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE listings`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT review_state FROM listings`).
		WillReturnRows(sqlmock.NewRows([]string{"review_state"}))
	mock.ExpectRollback()

	_, err := store.UpdateReviewState(context.Background(), "nope", StateApproved, ReviewFields{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Postgres_IOErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset by peer")

	t.Run("begin", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(boom)

		_, err := store.UpdateReviewState(ctx, "l1", StateApproved, ReviewFields{})
		assert.ErrorIs(t, err, ErrTransientIO)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("update", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE listings`).WillReturnError(boom)
		mock.ExpectRollback()

		_, err := store.UpdateReviewState(ctx, "l1", StateApproved, ReviewFields{})
		assert.ErrorIs(t, err, ErrTransientIO)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE listings`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`WHERE l.id = \$1`).WillReturnRows(sqlmock.NewRows(listingColumns).AddRow(
			"l1", "bot", "Bot", "agent", "d", "", "[]", "[]", "{}", "", "", "concept",
			"approved", "public", "", "0xabc", "b1", mockNow, mockNow, nil, "Acme", "acme", "", "",
		))
		mock.ExpectCommit().WillReturnError(boom)

		_, err := store.UpdateReviewState(ctx, "l1", StateApproved, ReviewFields{})
		assert.ErrorIs(t, err, ErrTransientIO)
	})

	t.Run("list pending", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`WHERE l.review_state = \$1 ORDER BY l.created_at ASC`).
			WithArgs("pending").
			WillReturnError(boom)

		_, err := store.ListPending(ctx)
		assert.ErrorIs(t, err, ErrTransientIO)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Postgres_Counts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT review_state, COUNT\(\*\) AS n FROM listings GROUP BY review_state`).
		WillReturnRows(sqlmock.NewRows([]string{"review_state", "n"}).
			AddRow("pending", 4).
			AddRow("approved", 7))
	mock.ExpectQuery(`WHERE review_state = \$1 AND visibility = \$2`).
		WithArgs("approved", "featured").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 4, Approved: 7, Featured: 2}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
