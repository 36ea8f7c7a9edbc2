// Package events publishes listing lifecycle events to an external bus.
package events

import "context"

// Listing lifecycle topics.
const (
	TopicListingSubmitted = "marketplace.listing.submitted"
	TopicListingApproved  = "marketplace.listing.approved"
	TopicListingRejected  = "marketplace.listing.rejected"
)

// Publisher emits JSON-encodable events on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher discards events. Used when no bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }
