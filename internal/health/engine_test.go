package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
)

func baseRecord() fleet.HealthCheckRecord {
	return fleet.HealthCheckRecord{
		VmID:              "vm-1",
		HeartbeatInterval: 30,
		NextHeartbeatTime: 100_000,
		SyncState:         fleet.SyncStateInSync,
		Healthy:           true,
	}
}

func TestClassifyOnTime(t *testing.T) {
	params := Params{MaxLossCount: 3, DelayAllowanceSec: 2, MaxSyncRecoveryCount: 3}
	record := baseRecord()
	record.HeartbeatLossCount = 2

	updated, result := Classify(record, 90_000, params)

	assert.Equal(t, ResultOnTime, result)
	assert.Equal(t, 0, updated.HeartbeatLossCount)
	assert.Equal(t, int64(90_000+30_000), updated.NextHeartbeatTime)
	assert.True(t, updated.Healthy)
}

func TestClassifyLateWithinAllowance(t *testing.T) {
	params := Params{MaxLossCount: 3, DelayAllowanceSec: 2, MaxSyncRecoveryCount: 3}
	record := baseRecord()

	updated, result := Classify(record, 101_500, params)

	assert.Equal(t, ResultLate, result)
	assert.Equal(t, 0, updated.HeartbeatLossCount)
	assert.True(t, updated.Healthy)
}

func TestClassifyTooLateIncrementsLossCount(t *testing.T) {
	params := Params{MaxLossCount: 3, DelayAllowanceSec: 2, MaxSyncRecoveryCount: 3}
	record := baseRecord()
	record.HeartbeatLossCount = 0

	updated, result := Classify(record, 110_000, params)

	assert.Equal(t, ResultTooLate, result)
	assert.Equal(t, 1, updated.HeartbeatLossCount)
	assert.True(t, updated.Healthy)
	assert.Equal(t, fleet.SyncStateInSync, updated.SyncState)
}

func TestClassifyDroppedAtLossCeiling(t *testing.T) {
	params := Params{MaxLossCount: 3, DelayAllowanceSec: 2, MaxSyncRecoveryCount: 3}
	record := baseRecord()
	record.HeartbeatLossCount = 2 // next TooLate would be count 3, equal to MaxLossCount

	updated, result := Classify(record, 110_000, params)

	assert.Equal(t, ResultDropped, result)
	assert.False(t, updated.Healthy)
	assert.Equal(t, fleet.SyncStateOutOfSync, updated.SyncState)
}

func TestClassifyRecoveringThenRecovered(t *testing.T) {
	params := Params{MaxLossCount: 3, DelayAllowanceSec: 2, MaxSyncRecoveryCount: 2}
	record := baseRecord()
	record.SyncState = fleet.SyncStateOutOfSync
	record.Healthy = false

	updated, result := Classify(record, 90_000, params)
	assert.Equal(t, ResultRecovering, result)
	assert.Equal(t, fleet.SyncStateOutOfSync, updated.SyncState)
	assert.Equal(t, 1, updated.SyncRecoveryCount)

	updated, result = Classify(updated, updated.NextHeartbeatTime-5_000, params)
	assert.Equal(t, ResultRecovered, result)
	assert.Equal(t, fleet.SyncStateInSync, updated.SyncState)
	assert.True(t, updated.Healthy)
	assert.Equal(t, 0, updated.SyncRecoveryCount)
}

func TestIsOutOfSync(t *testing.T) {
	record := baseRecord()
	assert.False(t, IsOutOfSync(record))
	record.SyncState = fleet.SyncStateOutOfSync
	assert.True(t, IsOutOfSync(record))
}
