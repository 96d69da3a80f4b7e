// Package storage contains the filter storage: the list of subscriptions, the
// per-filter states, and their persistence.
package storage

import (
	"context"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/subscription"
)

// Data is the persisted content of the filter storage.
type Data struct {
	// Subscriptions are the listed subscriptions in order.
	Subscriptions []*subscription.Record

	// Filters are the states of the filters that have any.
	Filters []*FilterRecord
}

// FilterRecord is the persisted state of a single filter.
type FilterRecord struct {
	// LastHit is the time of the last match of the filter.
	LastHit time.Time

	// Text is the text of the filter.
	Text string

	// DisabledFor are the URLs of the subscriptions for which the filter is
	// disabled.
	DisabledFor []string

	// HitCount is the number of matches of the filter.
	HitCount uint64
}

// Backend loads and saves the content of the filter storage.
type Backend interface {
	// Load returns the persisted data.  d is empty, but not nil, if nothing
	// has been saved yet.
	Load(ctx context.Context) (d *Data, err error)

	// Save persists d.  d must not be modified.
	Save(ctx context.Context, d *Data) (err error)
}

// EmptyBackend is a [Backend] that stores nothing.
type EmptyBackend struct{}

// type check
var _ Backend = EmptyBackend{}

// Load implements the [Backend] interface for EmptyBackend.
func (EmptyBackend) Load(_ context.Context) (d *Data, err error) { return &Data{}, nil }

// Save implements the [Backend] interface for EmptyBackend.
func (EmptyBackend) Save(_ context.Context, _ *Data) (err error) { return nil }

// Metrics is an interface that is used for the collection of the filter
// storage statistics.
type Metrics interface {
	// ObserveSave records a save of the storage that took dur.
	ObserveSave(ctx context.Context, dur time.Duration, err error)

	// SetSubscriptionsCount sets the number of listed subscriptions.
	SetSubscriptionsCount(ctx context.Context, n int)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveSave implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveSave(_ context.Context, _ time.Duration, _ error) {}

// SetSubscriptionsCount implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetSubscriptionsCount(_ context.Context, _ int) {}
