// Package queue is the operator-side Moderation Queue View: it mirrors the
// pending set fetched from the server and reflects only confirmed outcomes.
package queue

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/logger"
)

var (
	// ErrInFlight is returned when an action for the same listing is still outstanding.
	ErrInFlight = errors.New("an action for this listing is already in progress")
	// ErrNotQueued is returned for an id that is not in the local pending view.
	ErrNotQueued = errors.New("listing is not in the pending queue")
)

// Client is the subset of the admin API the queue needs.
type Client interface {
	Pending(ctx context.Context) ([]listing.Listing, error)
	Approve(ctx context.Context, id string, visibility listing.Visibility) (*listing.Listing, error)
	Reject(ctx context.Context, id, reason string) (*listing.Listing, error)
}

// Queue holds the local pending view. It is safe for concurrent use.
type Queue struct {
	client Client
	log    logger.Logger

	mu       sync.Mutex
	items    []listing.Listing
	inFlight map[string]struct{}
	loaded   bool
}

// New builds an empty queue over client.
func New(client Client, log logger.Logger) *Queue {
	if log == nil {
		log = logger.NewNop()
	}
	return &Queue{
		client:   client,
		log:      log,
		inFlight: make(map[string]struct{}),
	}
}

// Load replaces the view with the server's pending set. On failure the
// last-known view is kept and the error is logged and returned.
func (q *Queue) Load(ctx context.Context) error {
	items, err := q.client.Pending(ctx)
	if err != nil {
		q.log.Warn("Failed to load pending listings; keeping last known queue", logger.Error(err))
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = items
	q.loaded = true
	return nil
}

// Loaded reports whether at least one Load succeeded.
func (q *Queue) Loaded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loaded
}

// Items returns a copy of the pending view, oldest first.
func (q *Queue) Items() []listing.Listing {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of listings in the view.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight reports whether an action for id is outstanding.
func (q *Queue) InFlight(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[id]
	return ok
}

// Approve asks the server to approve id and removes it from the view only
// once the server confirms.
func (q *Queue) Approve(ctx context.Context, id string, visibility listing.Visibility) (*listing.Listing, error) {
	return q.act(id, func() (*listing.Listing, error) {
		return q.client.Approve(ctx, id, visibility)
	})
}

// Reject asks the server to reject id and removes it from the view only once
// the server confirms.
func (q *Queue) Reject(ctx context.Context, id, reason string) (*listing.Listing, error) {
	return q.act(id, func() (*listing.Listing, error) {
		return q.client.Reject(ctx, id, reason)
	})
}

func (q *Queue) act(id string, call func() (*listing.Listing, error)) (*listing.Listing, error) {
	if err := q.begin(id); err != nil {
		return nil, err
	}
	l, err := call()

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
	if err != nil {
		return nil, err
	}
	q.items = slices.DeleteFunc(q.items, func(item listing.Listing) bool { return item.ID == id })
	return l, nil
}

func (q *Queue) begin(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inFlight[id]; busy {
		return ErrInFlight
	}
	if !slices.ContainsFunc(q.items, func(item listing.Listing) bool { return item.ID == id }) {
		return ErrNotQueued
	}
	q.inFlight[id] = struct{}{}
	return nil
}
