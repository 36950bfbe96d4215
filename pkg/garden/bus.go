package garden

import (
	"context"
	"time"
)

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming event when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued event before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event *Event) error

// EventSink accepts events for asynchronous delivery to subscribers.
//
// Publish is fire-and-forget from the publisher's perspective: delivery
// happens on subscriber-owned goroutines and a slow consumer never blocks
// the publisher under the non-blocking backpressure policies.
type EventSink interface {
	// Publish submits an event to downstream subscribers.
	Publish(ctx context.Context, event *Event) error
}

// SubscriptionSpec configures a single consumer subscription.
//
// Filter narrows delivery to matching events. A single worker preserves
// per-subscription FIFO delivery order.
type SubscriptionSpec struct {
	Name           string
	Filter         InterestSet
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// NewDefaultSubscriptionSpec returns a named spec that leaves buffering,
// worker count, handler timeout, and backpressure to the runtime defaults.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name}
}

// Subscription controls an active event stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// EventBus is the asynchronous pub/sub contract hosted by the kernel.
type EventBus interface {
	EventSink
	// Subscribe registers a handler with bounded buffering semantics.
	Subscribe(ctx context.Context, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
	// Close shuts down the bus and all active subscriptions.
	Close(ctx context.Context) error
}
