package interfaces

import (
	"context"

	domaintypes "huddle/internal/domain/types"
)

// Subscription is a live subscription. Close stops further callbacks; it
// does not abort publishes already in flight.
type Subscription interface {
	Close() error
}

// Transport is the public, unordered, at-least-once pub/sub network. An empty
// relays list means the transport's default endpoints. Retry and failover
// across endpoints belong to the implementation.
type Transport interface {
	// Publish succeeds when at least one endpoint accepted ev. When none did
	// the error wraps ErrTransportRejection with every endpoint's reason.
	Publish(
		ctx context.Context,
		relays []string,
		ev domaintypes.Event,
	) ([]domaintypes.PublishResult, error)
	// Subscribe invokes fn for every matching event, possibly more than once
	// and in any order, until the subscription is closed.
	Subscribe(
		ctx context.Context,
		relays []string,
		filter domaintypes.Filter,
		fn func(domaintypes.Event),
	) (Subscription, error)
	// Query returns a snapshot of stored events matching filter.
	Query(
		ctx context.Context,
		relays []string,
		filter domaintypes.Filter,
	) ([]domaintypes.Event, error)
	Close() error
}
