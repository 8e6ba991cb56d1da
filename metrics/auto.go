package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// promAdjust adjusts a name for use by Prometheus: It strips off a single label
// of prefix (which is always the name of the service, and therefore duplicated
// by Prometheus' instance labels), and replaces "-" and "." with "_".
func promAdjust(name string) string {
	name = strings.Replace(name, "-", "_", -1)
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return labels[0]
	}
	return strings.Join(labels[1:], "_")
}

// autoProm memoizes Prometheus collectors by name, registering each one
// against a specific registerer the first time it's asked for (Prometheus
// panics on repeat registration of the same name). Safe for concurrent
// access.
type autoProm struct {
	sync.RWMutex
	registerer prometheus.Registerer
	metrics    map[string]prometheus.Collector
}

type maker func(string) prometheus.Collector

func (ap *autoProm) get(name string, make maker) prometheus.Collector {
	name = promAdjust(name)
	ap.RLock()
	result := ap.metrics[name]
	ap.RUnlock()
	if result != nil {
		return result
	}
	ap.Lock()
	defer ap.Unlock()

	// Check once more, since it could have been added while we were locked.
	if ap.metrics[name] != nil {
		return ap.metrics[name]
	}
	result = make(name)
	ap.registerer.MustRegister(result)
	ap.metrics[name] = result
	return result
}

func newAutoProm(registerer prometheus.Registerer) *autoProm {
	return &autoProm{
		registerer: registerer,
		metrics:    make(map[string]prometheus.Collector),
	}
}

// autoRegisterer bundles the three collector kinds a Scope needs
// (gauges, counters, summaries), each auto-registering against the same
// prometheus.Registerer the first time a given stat name is used. Every
// Scope derived from a common root via NewScope shares one
// autoRegisterer, so scopes never collide on collector names or
// double-register the same one.
type autoRegisterer struct {
	gauges    *autoProm
	counters  *autoProm
	summaries *autoProm
}

func newAutoRegisterer(registerer prometheus.Registerer) *autoRegisterer {
	return &autoRegisterer{
		gauges:    newAutoProm(registerer),
		counters:  newAutoProm(registerer),
		summaries: newAutoProm(registerer),
	}
}

func (a *autoRegisterer) autoGauge(name string) prometheus.Gauge {
	return a.gauges.get(name, func(cleaned string) prometheus.Collector {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name: cleaned,
			Help: "auto",
		})
	}).(prometheus.Gauge)
}

func (a *autoRegisterer) autoCounter(name string) prometheus.Counter {
	return a.counters.get(name, func(cleaned string) prometheus.Collector {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Name: cleaned,
			Help: "auto",
		})
	}).(prometheus.Counter)
}

func (a *autoRegisterer) autoSummary(name string) prometheus.Summary {
	return a.summaries.get(name, func(cleaned string) prometheus.Collector {
		return prometheus.NewSummary(prometheus.SummaryOpts{
			Name: cleaned,
			Help: "auto",
		})
	}).(prometheus.Summary)
}
