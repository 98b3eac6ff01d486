// Package metrics exposes the core's Prometheus surface: primary election
// outcomes, heartbeat classification tallies, license pool occupancy, and
// dispatcher request counts, grounded on pkg/metrics/metrics.go's use of
// prometheus.NewDesc/GaugeVec/CounterVec to report operator-internal state
// rather than synced cluster resources.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ElectionOutcomeTotal counts every election.Run conclusion by outcome
	// label (became-primary, other-primary, no-wait, timed-out,
	// finalize-failed).
	ElectionOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoscale_core_election_outcome_total",
		Help: "Count of primary election outcomes by result.",
	}, []string{"outcome"})

	// HeartbeatClassificationTotal counts every health.Classify result by
	// tag (OnTime, Late, TooLate, Dropped, Recovering, Recovered).
	HeartbeatClassificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoscale_core_heartbeat_classification_total",
		Help: "Count of heartbeat classification results by tag.",
	}, []string{"result"})

	// LicensePoolOccupancy reports the current count of in-use and unused
	// licenses in the pool, refreshed on every dispatch.Dispatcher.Status
	// call.
	LicensePoolOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autoscale_core_license_pool_occupancy",
		Help: "Current license pool occupancy by state (used, unused).",
	}, []string{"state"})

	// DispatchRequestsTotal counts every request the dispatcher routes, by
	// request type and outcome HTTP status.
	DispatchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoscale_core_dispatch_requests_total",
		Help: "Count of dispatched requests by request type and response status.",
	}, []string{"req_type", "status"})
)

func init() {
	prometheus.MustRegister(
		ElectionOutcomeTotal,
		HeartbeatClassificationTotal,
		LicensePoolOccupancy,
		DispatchRequestsTotal,
	)
}

// ObserveLicensePool records a point-in-time occupancy snapshot (§5 of
// SPEC_FULL.md's supplemented status endpoint reuses the same counts).
func ObserveLicensePool(used, unused int) {
	LicensePoolOccupancy.WithLabelValues("used").Set(float64(used))
	LicensePoolOccupancy.WithLabelValues("unused").Set(float64(unused))
}
