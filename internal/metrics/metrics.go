// Package metrics exposes sync-engine counters on a private Prometheus
// registry. The registry is the only process-global in the module; everything
// else is passed by reference.
package metrics

import (
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prom.NewRegistry()

	// SyncsTotal counts per-mapping sync attempts by outcome ("success"/"failure").
	SyncsTotal = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vmrsync", Name: "syncs_total",
		Help: "Mapping syncs processed, labelled by mapping and result",
	}, []string{"mapping", "result"})

	// PatchApplicationsTotal counts individual patch applications by outcome.
	PatchApplicationsTotal = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vmrsync", Name: "patch_applications_total",
		Help: "VMR patch applications, labelled by result",
	}, []string{"result"})

	// RemoteFetchesTotal counts fetches issued by the clone manager.
	RemoteFetchesTotal = prom.NewCounter(prom.CounterOpts{
		Namespace: "vmrsync", Name: "remote_fetches_total",
		Help: "Remote fetch operations issued while materializing clones",
	})

	// CloakViolationsTotal counts offending files reported by cloak scans.
	CloakViolationsTotal = prom.NewCounter(prom.CounterOpts{
		Namespace: "vmrsync", Name: "cloak_violations_total",
		Help: "Files reported by cloak scans as forbidden",
	})
)

var registerOnce sync.Once

func register() {
	registerOnce.Do(func() {
		registry.MustRegister(SyncsTotal, PatchApplicationsTotal, RemoteFetchesTotal, CloakViolationsTotal)
		registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	})
}

// Handler returns the scrape endpoint for the private registry.
func Handler() http.Handler {
	register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
