// Package notify contains the typed events of the filter storage and their
// synchronous dispatcher.
package notify

import (
	"context"
	"fmt"
)

// Kind is the kind of an event.
type Kind uint8

// Kind values.
const (
	KindInvalid Kind = iota

	// KindSubscriptionAdded is emitted when a subscription is added to the
	// list.
	KindSubscriptionAdded

	// KindSubscriptionRemoved is emitted when a subscription is removed from
	// the list.
	KindSubscriptionRemoved

	// KindSubscriptionDisabled is emitted when the disabled state of a
	// subscription changes.  See [Event.Disabled].
	KindSubscriptionDisabled

	// KindSubscriptionUpdated is emitted when the filters of a subscription
	// change.  See [Event.Added] and [Event.Removed].
	KindSubscriptionUpdated

	// KindSubscriptionProperties is emitted when the properties of a
	// subscription that don't affect the deployed filters change.
	KindSubscriptionProperties

	// KindFilterAdded is emitted when a filter is added to a special
	// subscription.
	KindFilterAdded

	// KindFilterRemoved is emitted when a filter is removed from a special
	// subscription.
	KindFilterRemoved

	// KindFilterDisabled is emitted when a filter is disabled or enabled for a
	// subscription.
	KindFilterDisabled

	// KindFilterHitCount is emitted when the hit count of a filter changes.
	// [Event.Filter] is empty if the hit counts of all filters are reset.
	KindFilterHitCount

	// KindLoad is emitted after the storage is loaded.
	KindLoad
)

// String implements the [fmt.Stringer] interface for Kind.
func (k Kind) String() (s string) {
	switch k {
	case KindSubscriptionAdded:
		return "subscription.added"
	case KindSubscriptionRemoved:
		return "subscription.removed"
	case KindSubscriptionDisabled:
		return "subscription.disabled"
	case KindSubscriptionUpdated:
		return "subscription.updated"
	case KindSubscriptionProperties:
		return "subscription.properties"
	case KindFilterAdded:
		return "filter.added"
	case KindFilterRemoved:
		return "filter.removed"
	case KindFilterDisabled:
		return "filter.disabled"
	case KindFilterHitCount:
		return "filter.hitCount"
	case KindLoad:
		return "load"
	default:
		return fmt.Sprintf("!bad_kind_%d", uint8(k))
	}
}

// Event is a single storage event.
type Event struct {
	// SubscriptionURL is the URL of the affected subscription, if any.
	SubscriptionURL string

	// Filter is the text of the affected filter, if any.
	Filter string

	// Added are the texts of the added filters for
	// [KindSubscriptionUpdated].
	Added []string

	// Removed are the texts of the removed filters for
	// [KindSubscriptionUpdated].
	Removed []string

	// Kind is the kind of the event.
	Kind Kind

	// Disabled is the new state for [KindSubscriptionDisabled] and
	// [KindFilterDisabled].
	Disabled bool
}

// Listener handles storage events.
type Listener interface {
	// HandleEvent is called synchronously for every event in the order of
	// emission.  ev must not be modified.
	HandleEvent(ctx context.Context, ev *Event)
}

// ListenerFunc is an adapter to allow the use of ordinary functions as
// [Listener].
type ListenerFunc func(ctx context.Context, ev *Event)

// type check
var _ Listener = ListenerFunc(nil)

// HandleEvent implements the [Listener] interface for ListenerFunc.
func (f ListenerFunc) HandleEvent(ctx context.Context, ev *Event) {
	f(ctx, ev)
}

// Dispatcher delivers events to a fixed list of listeners.
type Dispatcher struct {
	listeners []Listener
}

// NewDispatcher returns a new *Dispatcher delivering to listeners in order.
func NewDispatcher(listeners ...Listener) (d *Dispatcher) {
	return &Dispatcher{
		listeners: listeners,
	}
}

// Emit delivers ev to all listeners.
func (d *Dispatcher) Emit(ctx context.Context, ev *Event) {
	for _, l := range d.listeners {
		l.HandleEvent(ctx, ev)
	}
}

// Empty is a [Listener] that does nothing.
type Empty struct{}

// type check
var _ Listener = Empty{}

// HandleEvent implements the [Listener] interface for Empty.
func (Empty) HandleEvent(_ context.Context, _ *Event) {}
