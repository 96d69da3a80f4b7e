package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/storage/rediskv"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// RedisKV is the Prometheus-based implementation of the [rediskv.Metrics]
// interface.
type RedisKV struct {
	// getDuration is a histogram with the duration of reading the storage
	// document.
	getDuration prometheus.Observer

	// setDuration is a histogram with the duration of writing the storage
	// document.
	setDuration prometheus.Observer

	// errors is a counter of the failed operations.
	errors prometheus.Counter
}

// NewRedisKV registers the Redis storage backend metrics in reg and returns a
// properly initialized [*RedisKV].
func NewRedisKV(namespace string, reg prometheus.Registerer) (m *RedisKV, err error) {
	const (
		redisOpDuration = "op_duration_seconds"
		redisErrors     = "errors_total"
	)

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      redisOpDuration,
		Subsystem: subsystemRedis,
		Namespace: namespace,
		Help: "Duration of a single Redis storage operation. " +
			"Label op is the corresponding operation name.",
		Buckets: []float64{0.001, 0.010, 0.100, 1, 10},
	}, []string{"op"})

	errCtr := prometheus.NewCounter(prometheus.CounterOpts{
		Name:      redisErrors,
		Subsystem: subsystemRedis,
		Namespace: namespace,
		Help:      "Total number of errors encountered with the Redis storage.",
	})

	m = &RedisKV{
		getDuration: opDuration.WithLabelValues(rediskv.OpGet),
		setDuration: opDuration.WithLabelValues(rediskv.OpSet),
		errors:      errCtr,
	}

	err = register(reg, container.KeyValues[string, prometheus.Collector]{{
		Key:   redisOpDuration,
		Value: opDuration,
	}, {
		Key:   redisErrors,
		Value: errCtr,
	}})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ rediskv.Metrics = (*RedisKV)(nil)

// ObserveOperation implements the [rediskv.Metrics] interface for *RedisKV.
func (m *RedisKV) ObserveOperation(_ context.Context, op string, dur time.Duration, err error) {
	switch op {
	case rediskv.OpGet:
		m.getDuration.Observe(dur.Seconds())
	case rediskv.OpSet:
		m.setDuration.Observe(dur.Seconds())
	default:
		panic(fmt.Errorf("operation: %w: %q", errors.ErrBadEnumValue, op))
	}

	if err != nil {
		m.errors.Inc()
	}
}
