// Package metrics wires the node's Prometheus registry and the handful
// of collectors shared across components. Scrape transport (HTTP) is a
// concern of the hosting process, not of this package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry returns a fresh registry carrying the standard Go runtime
// and process collectors, ready for component-specific collectors to be
// registered into it.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
