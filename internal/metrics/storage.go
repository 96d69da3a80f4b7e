package metrics

import (
	"context"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/golibs/container"
	"github.com/prometheus/client_golang/prometheus"
)

// Storage is the Prometheus-based implementation of the [storage.Metrics]
// interface.
type Storage struct {
	// saveDuration is a histogram with the duration of saving the storage.
	saveDuration prometheus.Histogram

	// saveStatus is a gauge with the status of the last save.  1 means
	// success.
	saveStatus prometheus.Gauge

	// lastSaved is a gauge with the time of the last successful save.
	lastSaved prometheus.Gauge

	// subscriptions is a gauge with the number of the listed subscriptions.
	subscriptions prometheus.Gauge
}

// NewStorage registers the filter storage metrics in reg and returns a
// properly initialized [*Storage].
func NewStorage(namespace string, reg prometheus.Registerer) (m *Storage, err error) {
	const (
		saveDuration  = "save_duration_seconds"
		saveStatus    = "save_status"
		lastSaved     = "last_saved_time"
		subscriptions = "subscriptions_total"
	)

	m = &Storage{
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:      saveDuration,
			Subsystem: subsystemStorage,
			Namespace: namespace,
			Help:      "Time elapsed on saving the filter storage.",
			Buckets:   []float64{0.001, 0.010, 0.100, 1, 10},
		}),
		saveStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      saveStatus,
			Subsystem: subsystemStorage,
			Namespace: namespace,
			Help:      "Status of the last save of the filter storage.  1 means success.",
		}),
		lastSaved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      lastSaved,
			Subsystem: subsystemStorage,
			Namespace: namespace,
			Help:      "Time when the filter storage was last saved successfully.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      subscriptions,
			Subsystem: subsystemStorage,
			Namespace: namespace,
			Help:      "The number of the listed subscriptions.",
		}),
	}

	err = register(reg, container.KeyValues[string, prometheus.Collector]{{
		Key:   saveDuration,
		Value: m.saveDuration,
	}, {
		Key:   saveStatus,
		Value: m.saveStatus,
	}, {
		Key:   lastSaved,
		Value: m.lastSaved,
	}, {
		Key:   subscriptions,
		Value: m.subscriptions,
	}})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ storage.Metrics = (*Storage)(nil)

// ObserveSave implements the [storage.Metrics] interface for *Storage.
func (m *Storage) ObserveSave(_ context.Context, dur time.Duration, err error) {
	m.saveDuration.Observe(dur.Seconds())
	SetStatusGauge(m.saveStatus, err)
	if err == nil {
		m.lastSaved.SetToCurrentTime()
	}
}

// SetSubscriptionsCount implements the [storage.Metrics] interface for
// *Storage.
func (m *Storage) SetSubscriptionsCount(_ context.Context, n int) {
	m.subscriptions.Set(float64(n))
}
