// Package rediskv contains an implementation of [storage.Backend] that keeps
// the data in Redis.
package rediskv

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/FilterSync/internal/storage/inifile"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/gomodule/redigo/redis"
)

// Operation names for [Metrics].
const (
	OpGet = "get"
	OpSet = "set"
)

// Metrics is an interface that is used for the collection of the Redis backend
// statistics.
type Metrics interface {
	// ObserveOperation records the duration and the result of an operation.
	ObserveOperation(ctx context.Context, op string, dur time.Duration, err error)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveOperation implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveOperation(_ context.Context, _ string, _ time.Duration, _ error) {}

// Config is the configuration for the Redis-based [storage.Backend]
// implementation.  All fields must not be empty.
type Config struct {
	// Pool maintains a pool of Redis connections.  It must not be nil.
	Pool redisutil.Pool

	// Metrics is used for the collection of the backend statistics.  It must
	// not be nil.
	Metrics Metrics

	// Key is the key under which the data is stored.  It must not be empty.
	Key string
}

// Backend is a Redis implementation of the [storage.Backend] interface.  The
// whole storage is kept as one document in the format of package inifile.
type Backend struct {
	pool    redisutil.Pool
	metrics Metrics
	key     string
}

// New returns a new *Backend.  c must not be nil.
func New(c *Config) (b *Backend) {
	return &Backend{
		pool:    c.Pool,
		metrics: c.Metrics,
		key:     c.Key,
	}
}

// type check
var _ storage.Backend = (*Backend)(nil)

// Load implements the [storage.Backend] interface for *Backend.
func (b *Backend) Load(ctx context.Context) (d *storage.Data, err error) {
	defer func() { err = errors.Annotate(err, "getting %q: %w", b.key) }()

	start := time.Now()
	val, err := b.get(ctx)
	b.metrics.ObserveOperation(ctx, OpGet, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if val == nil {
		return &storage.Data{}, nil
	}

	return inifile.Decode(val)
}

// get returns the stored document or nil if there is none.
func (b *Backend) get(ctx context.Context) (val []byte, err error) {
	c, err := b.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting from pool: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, c.Close()) }()

	val, err = redis.Bytes(c.Do(redisutil.CmdGET, b.key))
	switch {
	case err == nil:
		return val, nil
	case errors.Is(err, redis.ErrNil):
		return nil, nil
	default:
		return nil, fmt.Errorf("get command: %w", err)
	}
}

// Save implements the [storage.Backend] interface for *Backend.
func (b *Backend) Save(ctx context.Context, d *storage.Data) (err error) {
	defer func() { err = errors.Annotate(err, "setting %q: %w", b.key) }()

	start := time.Now()
	err = b.set(ctx, inifile.Encode(d))
	b.metrics.ObserveOperation(ctx, OpSet, time.Since(start), err)

	return err
}

// set stores val.
func (b *Backend) set(ctx context.Context, val []byte) (err error) {
	c, err := b.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("getting from pool: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, c.Close()) }()

	_, err = c.Do(redisutil.CmdSET, b.key, val)
	if err != nil {
		return fmt.Errorf("set command: %w", err)
	}

	return nil
}
