package metrics

import (
	"context"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/FilterSync/internal/synchronizer"
	"github.com/AdguardTeam/golibs/container"
	"github.com/prometheus/client_golang/prometheus"
)

// Synchronizer is the Prometheus-based implementation of the
// [synchronizer.Metrics] interface.
type Synchronizer struct {
	// downloads is a counter of the finished downloads by the resulting
	// status.
	downloads *prometheus.CounterVec

	// downloadDuration is a histogram with the duration of a download
	// including the application of the result.
	downloadDuration prometheus.Histogram

	// inFlight is a gauge with the number of downloads in progress.
	inFlight prometheus.Gauge
}

// NewSynchronizer registers the synchronizer metrics in reg and returns a
// properly initialized [*Synchronizer].
func NewSynchronizer(namespace string, reg prometheus.Registerer) (m *Synchronizer, err error) {
	const (
		downloads        = "downloads_total"
		downloadDuration = "download_duration_seconds"
		inFlight         = "downloads_in_flight"
	)

	m = &Synchronizer{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      downloads,
			Subsystem: subsystemSynchronizer,
			Namespace: namespace,
			Help: "The total number of finished downloads. " +
				"Label status is the resulting status of the subscription.",
		}, []string{"status"}),
		downloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:      downloadDuration,
			Subsystem: subsystemSynchronizer,
			Namespace: namespace,
			Help:      "Time elapsed on downloading and applying a subscription.",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      inFlight,
			Subsystem: subsystemSynchronizer,
			Namespace: namespace,
			Help:      "The number of downloads in progress.",
		}),
	}

	err = register(reg, container.KeyValues[string, prometheus.Collector]{{
		Key:   downloads,
		Value: m.downloads,
	}, {
		Key:   downloadDuration,
		Value: m.downloadDuration,
	}, {
		Key:   inFlight,
		Value: m.inFlight,
	}})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ synchronizer.Metrics = (*Synchronizer)(nil)

// ObserveDownload implements the [synchronizer.Metrics] interface for
// *Synchronizer.
func (m *Synchronizer) ObserveDownload(
	_ context.Context,
	status subscription.Status,
	dur time.Duration,
) {
	m.downloads.WithLabelValues(string(status)).Inc()
	m.downloadDuration.Observe(dur.Seconds())
}

// SetInFlight implements the [synchronizer.Metrics] interface for
// *Synchronizer.
func (m *Synchronizer) SetInFlight(_ context.Context, n int) {
	m.inFlight.Set(float64(n))
}
