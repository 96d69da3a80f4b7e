// Package metrics contains the Prometheus-based implementations of the metrics
// interfaces of FilterSync.
package metrics

import (
	"fmt"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the default namespace of the metrics.
const Namespace = "filtersync"

// constants with the subsystem names that we use in our prometheus metrics.
const (
	subsystemApplication    = "app"
	subsystemDNR            = "dnr"
	subsystemFilterListener = "filterlistener"
	subsystemRedis          = "redis"
	subsystemStorage        = "storage"
	subsystemSynchronizer   = "synchronizer"
)

// SetUpGauge registers a gauge in reg signalling that the service has been
// started.  The gauge has a constant value of 1 and is labeled with the build
// information.
func SetUpGauge(
	namespace string,
	reg prometheus.Registerer,
	version string,
	revision string,
	goversion string,
) (err error) {
	const up = "up"

	upGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      up,
		Namespace: namespace,
		Subsystem: subsystemApplication,
		Help: `A metric with a constant '1' value labeled by ` +
			`version, revision, and goversion from which the program was built.`,
		ConstLabels: prometheus.Labels{
			"version":   version,
			"revision":  revision,
			"goversion": goversion,
		},
	})

	err = reg.Register(upGauge)
	if err != nil {
		return fmt.Errorf("registering metrics %q: %w", up, err)
	}

	upGauge.Set(1)

	return nil
}

// SetStatusGauge is a helper function that automatically checks if there's an
// error and sets the gauge to either 1 (success) or 0 (error).
func SetStatusGauge(gauge prometheus.Gauge, err error) {
	if err == nil {
		gauge.Set(1)
	} else {
		gauge.Set(0)
	}
}

// register registers every collector in reg.
func register(
	reg prometheus.Registerer,
	collectors container.KeyValues[string, prometheus.Collector],
) (err error) {
	var errs []error
	for _, c := range collectors {
		err = reg.Register(c.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("registering metrics %q: %w", c.Key, err))
		}
	}

	return errors.Join(errs...)
}
