package host

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomyedwab/sqlviewer/sqlproxy/registry"
)

// Test-only accessors for the external host_test package, which cannot live
// in package host because sqlproxytest imports host.

const (
	Succeeded = succeeded
	Failed    = failed
)

func (w *Worker) Registry() *registry.Registry { return w.registry }

func (m *Metrics) Requests() *prometheus.CounterVec { return m.requests }

func (m *Metrics) Handles() *prometheus.GaugeVec { return m.handles }
