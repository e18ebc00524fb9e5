package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Tenant routing and provisioning metrics. Defined in a standalone package to
// avoid import cycles between the connection cache and HTTP packages.

var (
	TenantCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_cache_hits_total",
		Help: "Connection cache lookups served from an existing pool",
	})

	TenantCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_cache_misses_total",
		Help: "Connection cache lookups that required opening a pool",
	})

	TenantPoolsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenant_pools_open",
		Help: "Tenant connection pools currently held by the cache",
	})

	TenantPoolOpenFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_pool_open_failures_total",
		Help: "Failed attempts to open a tenant connection pool",
	})

	ProvisioningRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_provisioning_runs_total",
		Help: "Provisioning runs by outcome",
	}, []string{"result"})

	ProvisioningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenant_provisioning_duration_seconds",
		Help:    "Wall time of tenant provisioning runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, path and status",
	}, []string{"method", "path", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Register registers all collectors on the given registry (or the default if
// nil). Re-registration is tolerated so multiple components can call it.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		TenantCacheHits,
		TenantCacheMisses,
		TenantPoolsOpen,
		TenantPoolOpenFailures,
		ProvisioningRuns,
		ProvisioningDuration,
		HTTPRequests,
		HTTPDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
