// Package health implements the Health Check Engine (§4.4, C4): a pure
// classifier (save for its tNow input) that turns a heartbeat arrival into
// an updated HealthCheckRecord and a closed-set result tag.
package health

import "github.com/openshift/autoscale-core/internal/apis/fleet"

// Result is the closed set of outcomes a heartbeat classification can
// produce (§4.4, §9 "tagged variants over strings").
type Result string

const (
	ResultOnTime     Result = "OnTime"
	ResultLate       Result = "Late"
	ResultTooLate    Result = "TooLate"
	ResultDropped    Result = "Dropped"
	ResultRecovering Result = "Recovering"
	ResultRecovered  Result = "Recovered"
)

// Params bundles the configured thresholds classification needs (§4.4).
type Params struct {
	MaxLossCount         int
	DelayAllowanceSec    int
	MaxSyncRecoveryCount int
}

// Classify applies §4.4's classification rules to record as of tNow
// (absolute ms), returning the updated record and the result tag. record
// is passed and returned by value so callers can't accidentally mutate the
// caller's copy before deciding whether to persist it.
func Classify(record fleet.HealthCheckRecord, tNow int64, p Params) (fleet.HealthCheckRecord, Result) {
	wasOutOfSync := record.SyncState == fleet.SyncStateOutOfSync

	expected := record.NextHeartbeatTime
	actualDelay := tNow - expected
	allowance := int64(p.DelayAllowanceSec) * 1000
	intervalMs := int64(record.HeartbeatInterval) * 1000

	var result Result

	switch {
	case actualDelay <= 0:
		result = ResultOnTime
		record.HeartbeatLossCount = 0
		record.Seq++
		record.NextHeartbeatTime = tNow + intervalMs

	case actualDelay <= allowance:
		result = ResultLate
		record.HeartbeatLossCount = 0
		record.Seq++
		record.NextHeartbeatTime = tNow + intervalMs

	case record.HeartbeatLossCount+1 < p.MaxLossCount:
		result = ResultTooLate
		record.HeartbeatLossCount++
		record.NextHeartbeatTime += intervalMs

	default:
		result = ResultDropped
		record.Healthy = false
		record.SyncState = fleet.SyncStateOutOfSync
		return record, result
	}

	// A fresh OnTime/Late arrival after an out-of-sync period starts (or
	// continues) recovery instead of silently going back to in-sync.
	if wasOutOfSync {
		record.SyncRecoveryCount++
		if record.SyncRecoveryCount >= p.MaxSyncRecoveryCount {
			record.SyncState = fleet.SyncStateInSync
			record.SyncRecoveryCount = 0
			record.Healthy = true
			result = ResultRecovered
		} else {
			result = ResultRecovering
		}
		return record, result
	}

	record.Healthy = true
	return record, result
}

// IsOutOfSync reports whether record absorbs further heartbeats without
// mutation (§8 "Out-of-sync absorbs"): once out-of-sync, classification is
// skipped entirely by callers until an explicit reset.
func IsOutOfSync(record fleet.HealthCheckRecord) bool {
	return record.SyncState == fleet.SyncStateOutOfSync
}
