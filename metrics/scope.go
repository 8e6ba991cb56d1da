package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scope is a stats collector that prefixes every stat name it reports
// with the path of NewScope calls used to reach it, so a nested
// component's metrics stay distinguishable from its siblings' without
// each call site having to spell out the full name.
type Scope interface {
	NewScope(scopes ...string) Scope

	Inc(stat string, value int64) error
	Gauge(stat string, value int64) error
	GaugeDelta(stat string, value int64) error
	Timing(stat string, delta int64) error
	TimingDuration(stat string, delta time.Duration) error
	SetInt(stat string, value int64) error

	MustRegister(...prometheus.Collector)
}

// prometheusScope is a Scope backed by a prometheus.Registerer.
type prometheusScope struct {
	*autoRegisterer
	prefix     []string
	registerer prometheus.Registerer
}

var _ Scope = &prometheusScope{}

// NewPromScope returns a Scope that registers and updates collectors
// against registerer, under the underscore-joined scopes prefix.
func NewPromScope(registerer prometheus.Registerer, scopes ...string) Scope {
	return &prometheusScope{
		prefix:         scopes,
		autoRegisterer: newAutoRegisterer(registerer),
		registerer:     registerer,
	}
}

func (s *prometheusScope) MustRegister(collectors ...prometheus.Collector) {
	s.registerer.MustRegister(collectors...)
}

// NewScope returns a child Scope whose prefix is this Scope's prefix
// with scopes appended.
func (s *prometheusScope) NewScope(scopes ...string) Scope {
	child := make([]string, 0, len(s.prefix)+len(scopes))
	child = append(child, s.prefix...)
	child = append(child, scopes...)
	return &prometheusScope{
		prefix:         child,
		autoRegisterer: s.autoRegisterer,
		registerer:     s.registerer,
	}
}

func (s *prometheusScope) Inc(stat string, value int64) error {
	s.autoCounter(s.statName(stat)).Add(float64(value))
	return nil
}

func (s *prometheusScope) Gauge(stat string, value int64) error {
	s.autoGauge(s.statName(stat)).Set(float64(value))
	return nil
}

func (s *prometheusScope) GaugeDelta(stat string, value int64) error {
	s.autoGauge(s.statName(stat)).Add(float64(value))
	return nil
}

func (s *prometheusScope) Timing(stat string, delta int64) error {
	s.autoSummary(s.statName(stat) + "_seconds").Observe(float64(delta))
	return nil
}

func (s *prometheusScope) TimingDuration(stat string, delta time.Duration) error {
	s.autoSummary(s.statName(stat) + "_seconds").Observe(delta.Seconds())
	return nil
}

func (s *prometheusScope) SetInt(stat string, value int64) error {
	s.autoGauge(s.statName(stat)).Set(float64(value))
	return nil
}

// statName joins this scope's prefix segments with stat using
// underscores, matching Prometheus's naming convention.
func (s *prometheusScope) statName(stat string) string {
	if len(s.prefix) == 0 {
		return stat
	}
	return strings.Join(s.prefix, "_") + "_" + stat
}

// discardScope is a Scope that drops everything reported to it, for use
// where a caller needs a Scope but the process isn't exporting metrics.
type discardScope struct{}

// NewNoopScope returns a Scope that discards everything reported to it.
func NewNoopScope() Scope {
	return discardScope{}
}

func (discardScope) NewScope(scopes ...string) Scope { return discardScope{} }

func (discardScope) Inc(stat string, value int64) error { return nil }

func (discardScope) Gauge(stat string, value int64) error { return nil }

func (discardScope) GaugeDelta(stat string, value int64) error { return nil }

func (discardScope) Timing(stat string, delta int64) error { return nil }

func (discardScope) TimingDuration(stat string, delta time.Duration) error { return nil }

func (discardScope) SetInt(stat string, value int64) error { return nil }

func (discardScope) MustRegister(...prometheus.Collector) {}
