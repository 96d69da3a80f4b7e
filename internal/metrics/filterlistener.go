package metrics

import (
	"context"

	"github.com/AdguardTeam/FilterSync/internal/filterlistener"
	"github.com/AdguardTeam/golibs/container"
	"github.com/prometheus/client_golang/prometheus"
)

// FilterListener is the Prometheus-based implementation of the
// [filterlistener.Metrics] interface.
type FilterListener struct {
	// deployed is a counter of the filters deployed to the engine.
	deployed prometheus.Counter

	// undeployed is a counter of the filters removed from the engine.
	undeployed prometheus.Counter

	// deployErrors is a counter of the rejected engine updates.
	deployErrors prometheus.Counter

	// dirtiness is a gauge with the accumulated dirtiness of the storage.
	dirtiness prometheus.Gauge
}

// NewFilterListener registers the filter listener metrics in reg and returns a
// properly initialized [*FilterListener].
func NewFilterListener(
	namespace string,
	reg prometheus.Registerer,
) (m *FilterListener, err error) {
	const (
		filters      = "filters_total"
		deployErrors = "deploy_errors_total"
		dirtiness    = "dirtiness"
	)

	filtersVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      filters,
		Subsystem: subsystemFilterListener,
		Namespace: namespace,
		Help: "The total number of filter deployment changes. " +
			"Label op is either deploy or undeploy.",
	}, []string{"op"})

	m = &FilterListener{
		deployed:   filtersVec.WithLabelValues("deploy"),
		undeployed: filtersVec.WithLabelValues("undeploy"),
		deployErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      deployErrors,
			Subsystem: subsystemFilterListener,
			Namespace: namespace,
			Help:      "The total number of rejected engine updates.",
		}),
		dirtiness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      dirtiness,
			Subsystem: subsystemFilterListener,
			Namespace: namespace,
			Help:      "The accumulated dirtiness of the storage.  It is saved at 1.",
		}),
	}

	err = register(reg, container.KeyValues[string, prometheus.Collector]{{
		Key:   filters,
		Value: filtersVec,
	}, {
		Key:   deployErrors,
		Value: m.deployErrors,
	}, {
		Key:   dirtiness,
		Value: m.dirtiness,
	}})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ filterlistener.Metrics = (*FilterListener)(nil)

// ObserveDeploy implements the [filterlistener.Metrics] interface for
// *FilterListener.
func (m *FilterListener) ObserveDeploy(_ context.Context, added, removed int, err error) {
	if err != nil {
		m.deployErrors.Inc()

		return
	}

	m.deployed.Add(float64(added))
	m.undeployed.Add(float64(removed))
}

// SetDirtiness implements the [filterlistener.Metrics] interface for
// *FilterListener.
func (m *FilterListener) SetDirtiness(_ context.Context, d float64) {
	m.dirtiness.Set(d)
}
