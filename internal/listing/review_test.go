package listing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/NplusM420/think-marketplace/internal/events"
	"github.com/NplusM420/think-marketplace/internal/session"
)

const adminToken = "valid-token"

type tokenSet map[string]bool

func (s tokenSet) Check(token string) bool { return s[token] }

type published struct {
	topic string
	event Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, event: event.(Event)})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveReviewAction(action, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, action+":"+outcome)
}

func newTestReviewer(t *testing.T) (*Reviewer, *recordingPublisher, *recordingObserver) {
	t.Helper()
	pub := &recordingPublisher{}
	obs := &recordingObserver{}
	r := NewReviewer(newTestStore(t), tokenSet{adminToken: true}, WithPublisher(pub), WithObserver(obs))
	return r, pub, obs
}

func TestReviewer_SubmitPublishes(t *testing.T) {
	r, pub, _ := newTestReviewer(t)

	l, err := r.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TopicListingSubmitted, pub.events[0].topic)
	assert.Equal(t, l.ID, pub.events[0].event.Listing.ID)
	assert.False(t, pub.events[0].event.OccurredAt.IsZero())
}

func TestReviewer_RequiresSession(t *testing.T) {
	r, pub, obs := newTestReviewer(t)
	ctx := context.Background()
	l, err := r.Submit(ctx, validSubmission())
	require.NoError(t, err)

	for _, token := range []string{"", "forged"} {
		_, err = r.Pending(ctx, token)
		assert.ErrorIs(t, err, session.ErrUnauthorized)
		_, err = r.Stats(ctx, token)
		assert.ErrorIs(t, err, session.ErrUnauthorized)
		_, err = r.Approve(ctx, token, l.ID, VisibilityPublic)
		assert.ErrorIs(t, err, session.ErrUnauthorized)
		_, err = r.Reject(ctx, token, l.ID, "nope")
		assert.ErrorIs(t, err, session.ErrUnauthorized)
	}

	pending, err := r.Pending(ctx, adminToken)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, StatePending, pending[0].ReviewState)
	assert.Equal(t, []string{events.TopicListingSubmitted}, pub.topics())
	assert.Contains(t, obs.outcomes, "approve:"+OutcomeUnauthorized)
}

func TestReviewer_ApproveAndReject(t *testing.T) {
	r, pub, obs := newTestReviewer(t)
	ctx := context.Background()

	a, err := r.Submit(ctx, validSubmission())
	require.NoError(t, err)
	sub := validSubmission()
	sub.Name = "Second"
	sub.Builder = BuilderRef{Slug: a.Builder.Slug}
	b, err := r.Submit(ctx, sub)
	require.NoError(t, err)

	approved, err := r.Approve(ctx, adminToken, a.ID, VisibilityFeatured)
	require.NoError(t, err)
	assert.Equal(t, VisibilityFeatured, approved.Visibility)

	rejected, err := r.Reject(ctx, adminToken, b.ID, "  incomplete  ")
	require.NoError(t, err)
	assert.Equal(t, "incomplete", rejected.RejectionReason)

	pending, err := r.Pending(ctx, adminToken)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats, err := r.Stats(ctx, adminToken)
	require.NoError(t, err)
	assert.Equal(t, Counts{Approved: 1, Rejected: 1, Featured: 1}, stats)

	assert.Equal(t, []string{
		events.TopicListingSubmitted,
		events.TopicListingSubmitted,
		events.TopicListingApproved,
		events.TopicListingRejected,
	}, pub.topics())
	assert.Equal(t, "incomplete", pub.events[3].event.Reason)
	assert.Equal(t, []string{"approve:" + OutcomeApplied, "reject:" + OutcomeApplied}, obs.outcomes)
}

func TestReviewer_SecondActionIsInvalidTransition(t *testing.T) {
	r, pub, obs := newTestReviewer(t)
	ctx := context.Background()
	l, err := r.Submit(ctx, validSubmission())
	require.NoError(t, err)

	_, err = r.Approve(ctx, adminToken, l.ID, VisibilityPublic)
	require.NoError(t, err)
	_, err = r.Reject(ctx, adminToken, l.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = r.Approve(ctx, adminToken, "missing", VisibilityPublic)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, pub.topics(), 2)
	assert.Equal(t, []string{
		"approve:" + OutcomeApplied,
		"reject:" + OutcomeInvalid,
		"approve:" + OutcomeNotFound,
	}, obs.outcomes)
}

func TestReviewer_ConcurrentApproveAppliesOnce(t *testing.T) {
	r, pub, _ := newTestReviewer(t)
	ctx := context.Background()
	l, err := r.Submit(ctx, validSubmission())
	require.NoError(t, err)

	const callers = 8
	var (
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			var err error
			if i%2 == 0 {
				_, err = r.Approve(ctx, adminToken, l.ID, VisibilityFeatured)
			} else {
				_, err = r.Reject(ctx, adminToken, l.ID, "race")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInvalidTransition):
				refused++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, refused)
	assert.Len(t, pub.topics(), 2)
}

func TestReviewer_PublishFailureKeepsChange(t *testing.T) {
	r, pub, _ := newTestReviewer(t)
	ctx := context.Background()
	l, err := r.Submit(ctx, validSubmission())
	require.NoError(t, err)

	pub.err = errors.New("bus down")
	approved, err := r.Approve(ctx, adminToken, l.ID, VisibilityPublic)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, approved.ReviewState)
}
