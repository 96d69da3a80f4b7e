package metrics

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/prometheus/client_golang/prometheus"
)

// DNR is the Prometheus-based implementation of the [dnr.Metrics] interface.
type DNR struct {
	// rulesUsed is a gauge with the number of the dynamic rules in the rule
	// store.
	rulesUsed prometheus.Gauge
}

// NewDNR registers the declarative rule engine metrics in reg and returns a
// properly initialized [*DNR].
func NewDNR(namespace string, reg prometheus.Registerer) (m *DNR, err error) {
	const rulesUsed = "rules_used"

	m = &DNR{
		rulesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      rulesUsed,
			Subsystem: subsystemDNR,
			Namespace: namespace,
			Help:      "The number of the dynamic rules in the rule store.",
		}),
	}

	err = reg.Register(m.rulesUsed)
	if err != nil {
		return nil, fmt.Errorf("registering metrics %q: %w", rulesUsed, err)
	}

	return m, nil
}

// type check
var _ dnr.Metrics = (*DNR)(nil)

// SetRulesUsed implements the [dnr.Metrics] interface for *DNR.
func (m *DNR) SetRulesUsed(_ context.Context, n int) {
	m.rulesUsed.Set(float64(n))
}
