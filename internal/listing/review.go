package listing

import (
	"context"
	"errors"
	"time"

	"github.com/NplusM420/think-marketplace/internal/events"
	"github.com/NplusM420/think-marketplace/internal/logger"
	"github.com/NplusM420/think-marketplace/internal/session"
)

const publishTimeout = 5 * time.Second

// Authorizer validates an admin session token.
type Authorizer interface {
	Check(token string) bool
}

// Outcome labels reported to an ActionObserver.
const (
	OutcomeApplied      = "applied"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid_transition"
	OutcomeBadInput     = "validation_error"
	OutcomeIOError      = "io_error"
)

// Event is the payload published on the listing lifecycle topics.
type Event struct {
	Listing    *Listing  `json:"listing"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActionObserver is told the outcome of every review action.
type ActionObserver interface {
	ObserveReviewAction(action, outcome string)
}

// Reviewer applies review actions. Every call carries the caller's session
// token and is authorized on its own; there is no ambient admin state.
type Reviewer struct {
	store     *Store
	gate      Authorizer
	publisher events.Publisher
	observer  ActionObserver
	log       logger.Logger
}

// ReviewerOption customizes a Reviewer.
type ReviewerOption func(*Reviewer)

// WithPublisher emits lifecycle events after committed changes.
func WithPublisher(p events.Publisher) ReviewerOption {
	return func(r *Reviewer) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithObserver reports action outcomes, typically to metrics.
func WithObserver(o ActionObserver) ReviewerOption {
	return func(r *Reviewer) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ReviewerOption {
	return func(r *Reviewer) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReviewer builds a Reviewer over store, authorizing with gate.
func NewReviewer(store *Store, gate Authorizer, opts ...ReviewerOption) *Reviewer {
	r := &Reviewer{
		store:     store,
		gate:      gate,
		publisher: events.NoopPublisher{},
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit enters a new listing into review.
func (r *Reviewer) Submit(ctx context.Context, sub Submission) (*Listing, error) {
	l, err := r.store.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	r.log.Info("Listing submitted",
		logger.String("listing_id", l.ID),
		logger.String("slug", l.Slug),
		logger.String("builder_id", l.BuilderID),
	)
	r.publish(events.TopicListingSubmitted, Event{Listing: l})
	return l, nil
}

// Pending returns the review queue, oldest submission first.
func (r *Reviewer) Pending(ctx context.Context, token string) ([]Listing, error) {
	if !r.gate.Check(token) {
		return nil, session.ErrUnauthorized
	}
	listings, err := r.store.ListPending(ctx)
	if err != nil {
		r.log.Error("Failed to list pending listings", logger.Error(err))
		return nil, err
	}
	return listings, nil
}

// Stats returns listing counts per review state.
func (r *Reviewer) Stats(ctx context.Context, token string) (Counts, error) {
	if !r.gate.Check(token) {
		return Counts{}, session.ErrUnauthorized
	}
	return r.store.Counts(ctx)
}

// Approve makes a pending listing public with the given visibility.
func (r *Reviewer) Approve(ctx context.Context, token, id string, visibility Visibility) (*Listing, error) {
	l, err := r.transition(ctx, "approve", token, id, StateApproved, ReviewFields{Visibility: visibility})
	if err != nil {
		return nil, err
	}
	r.log.Info("Listing approved",
		logger.String("listing_id", l.ID),
		logger.String("visibility", string(l.Visibility)),
	)
	r.publish(events.TopicListingApproved, Event{Listing: l})
	return l, nil
}

// Reject closes a pending listing with an optional reason.
func (r *Reviewer) Reject(ctx context.Context, token, id, reason string) (*Listing, error) {
	l, err := r.transition(ctx, "reject", token, id, StateRejected, ReviewFields{RejectionReason: reason})
	if err != nil {
		return nil, err
	}
	r.log.Info("Listing rejected",
		logger.String("listing_id", l.ID),
		logger.Bool("has_reason", l.RejectionReason != ""),
	)
	r.publish(events.TopicListingRejected, Event{Listing: l, Reason: l.RejectionReason})
	return l, nil
}

func (r *Reviewer) transition(ctx context.Context, action, token, id string, to ReviewState, fields ReviewFields) (*Listing, error) {
	if !r.gate.Check(token) {
		r.observe(action, OutcomeUnauthorized)
		return nil, session.ErrUnauthorized
	}
	l, err := r.store.UpdateReviewState(ctx, id, to, fields)
	r.observe(action, outcomeOf(err))
	if err != nil {
		if errors.Is(err, ErrTransientIO) {
			r.log.Error("Review action failed",
				logger.String("action", action),
				logger.String("listing_id", id),
				logger.Error(err),
			)
		}
		return nil, err
	}
	return l, nil
}

func (r *Reviewer) observe(action, outcome string) {
	if r.observer != nil {
		r.observer.ObserveReviewAction(action, outcome)
	}
}

// publish runs after commit; a failure is logged and never undoes the change.
func (r *Reviewer) publish(topic string, event Event) {
	event.OccurredAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, topic, event); err != nil {
		r.log.Warn("Failed to publish listing event",
			logger.String("topic", topic),
			logger.Error(err),
		)
	}
}

func outcomeOf(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return OutcomeInvalid
	case errors.As(err, &verr):
		return OutcomeBadInput
	default:
		return OutcomeIOError
	}
}
