// Package e2e drives the dispatcher's public surface against the in-memory
// reference platform adapter, exercising the concrete scenarios spec.md §8
// describes end to end rather than unit-by-unit. It plays the role the
// teacher's pkg/controller/machinehealthcheck table-driven Reconcile tests
// play: assert on the externally observable outcome of one handler
// invocation, not on the internals of how it got there.
package e2e

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/dispatch"
	"github.com/openshift/autoscale-core/internal/platform/memory"
	"github.com/openshift/autoscale-core/internal/proxy"
)

// amplePx reports a large remaining budget so bounded waiters in these
// tests never hit the timeout path unintentionally.
type amplePx struct{}

func (amplePx) Log(string, proxy.Level) {}
func (amplePx) Info(string)             {}
func (amplePx) Warning(string)          {}
func (amplePx) Error(string)            {}
func (amplePx) FormatResponse(status int, body string, secret bool, headers map[string]string) any {
	return body
}
func (amplePx) GetRemainingExecutionTimeMs() int64 { return 60_000 }

func newFleet(t *testing.T) (*memory.Adapter, *dispatch.Dispatcher) {
	t.Helper()
	adapter := memory.New()
	for _, item := range []fleet.SettingItem{
		{Key: fleet.SettingDeploymentSettingsSaved, Value: "true"},
		{Key: fleet.SettingMasterScalingGroupName, Value: "primary-group"},
		{Key: fleet.SettingPAYGScalingGroupName, Value: "payg-group"},
		{Key: fleet.SettingHeartbeatInterval, Value: "30"},
		{Key: fleet.SettingHeartbeatLossCount, Value: "3"},
		{Key: fleet.SettingHeartbeatDelayAllowance, Value: "2"},
		{Key: fleet.SettingMasterElectionTimeout, Value: "30"},
	} {
		adapter.SeedSetting(item)
	}
	d := &dispatch.Dispatcher{Adapter: adapter, Proxy: amplePx{}}
	return adapter, d
}

func heartbeat(t *testing.T, d *dispatch.Dispatcher, vmID string) dispatch.Response {
	t.Helper()
	resp, err := d.Dispatch(context.Background(), fleet.RequestInfo{
		Type:       fleet.ReqTypeHeartbeatSync,
		InstanceID: vmID,
		Interval:   fleet.UseExistingInterval,
	})
	require.NoError(t, err)
	return resp
}

// Scenario 1: first heartbeat from the only VM in the primary group elects
// it outright and creates its health record with no master-ip change body.
func TestFirstHeartbeatFromSolePrimaryElectsItself(t *testing.T) {
	adapter, d := newFleet(t)
	adapter.SeedVm(fleet.VirtualMachine{VmID: "vm-a", ScalingGroupName: "primary-group", PrimaryPrivateIP: "10.0.0.1"})

	resp := heartbeat(t, d, "vm-a")

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "", resp.Body)

	record, err := adapter.GetMasterRecord(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "vm-a", record.VmID)
	assert.Equal(t, fleet.VoteStateDone, record.VoteState)

	health, err := adapter.GetHealthCheckRecord(context.Background(), "vm-a")
	require.NoError(t, err)
	require.NotNil(t, health)
	assert.True(t, health.Healthy)
}

// Scenario 2: a secondary VM's first heartbeat learns the already-elected
// primary's address and gets it back in the response body.
func TestSecondaryHeartbeatLearnsThePrimary(t *testing.T) {
	adapter, d := newFleet(t)
	adapter.SeedVm(fleet.VirtualMachine{VmID: "vm-a", ScalingGroupName: "primary-group", PrimaryPrivateIP: "10.0.0.1"})
	adapter.SeedVm(fleet.VirtualMachine{VmID: "vm-b", ScalingGroupName: "payg-group", PrimaryPrivateIP: "10.0.0.2"})

	heartbeat(t, d, "vm-a") // vm-a becomes primary

	resp := heartbeat(t, d, "vm-b")
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"master-ip":"10.0.0.1"}`, resp.Body)

	health, err := adapter.GetHealthCheckRecord(context.Background(), "vm-b")
	require.NoError(t, err)
	require.NotNil(t, health)
	assert.Equal(t, "10.0.0.1", health.PrimaryIP)
}

// Scenario 3: once the incumbent primary is marked unhealthy, the next
// eligible heartbeat purges its record and elects a new primary. vm-b must
// already be past its first-ever heartbeat (which always reports an empty
// body when it elects itself, per scenario 1) for the master-ip-changed
// response body to apply — this is the "steady-state, primary IP changed"
// path of step 10, not the first-ever-heartbeat path of step 9.
func TestUnhealthyPrimaryIsPurgedAndReplaced(t *testing.T) {
	adapter, d := newFleet(t)
	adapter.SeedVm(fleet.VirtualMachine{VmID: "vm-a", ScalingGroupName: "primary-group", PrimaryPrivateIP: "10.0.0.1"})
	adapter.SeedVm(fleet.VirtualMachine{VmID: "vm-b", ScalingGroupName: "primary-group", PrimaryPrivateIP: "10.0.0.2"})

	heartbeat(t, d, "vm-a") // vm-a becomes primary
	heartbeat(t, d, "vm-b") // vm-b's first heartbeat learns vm-a as primary

	h, err := adapter.GetHealthCheckRecord(context.Background(), "vm-a")
	require.NoError(t, err)
	require.NotNil(t, h)
	h.Healthy = false
	h.SyncState = fleet.SyncStateOutOfSync
	require.NoError(t, adapter.UpdateHealthCheckRecord(context.Background(), *h))

	resp := heartbeat(t, d, "vm-b")
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"master-ip":"10.0.0.2"}`, resp.Body)

	record, err := adapter.GetMasterRecord(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "vm-b", record.VmID)
	assert.Equal(t, fleet.VoteStateDone, record.VoteState)
}

// Scenario 4: two eligible candidates heartbeating concurrently with no
// primary record yet must produce exactly one done PrimaryRecord between
// them; the conditional create on the singleton record is the only thing
// serializing them (§5).
func TestConcurrentCandidatesElectExactlyOnePrimary(t *testing.T) {
	adapter, d := newFleet(t)
	adapter.SeedVm(fleet.VirtualMachine{VmID: "vm-b", ScalingGroupName: "primary-group", PrimaryPrivateIP: "10.0.0.2"})
	adapter.SeedVm(fleet.VirtualMachine{VmID: "vm-c", ScalingGroupName: "primary-group", PrimaryPrivateIP: "10.0.0.3"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); heartbeat(t, d, "vm-b") }()
	go func() { defer wg.Done(); heartbeat(t, d, "vm-c") }()
	wg.Wait()

	record, err := adapter.GetMasterRecord(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, fleet.VoteStateDone, record.VoteState)
	assert.Contains(t, []string{"vm-b", "vm-c"}, record.VmID)
}

// Scenario 5/6: license assignment is idempotent for a repeat requester and
// recycles a license held by a VM that has since gone out of sync.
func TestLicenseAssignmentIdempotentAndRecycling(t *testing.T) {
	adapter, d := newFleet(t)
	d.LicenseContainer = "licenses"
	d.LicenseDir = "fgt/"
	d.LicenseProduct = "fortigate"
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-bytes")})

	first, err := d.AssignLicense(context.Background(), "vm-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("license-bytes"), first.Content)
	assert.True(t, first.Secret)

	second, err := d.AssignLicense(context.Background(), "vm-a")
	require.NoError(t, err)
	assert.Equal(t, first.FileName, second.FileName)

	require.NoError(t, adapter.CreateHealthCheckRecord(context.Background(), fleet.HealthCheckRecord{
		VmID:      "vm-a",
		Healthy:   false,
		SyncState: fleet.SyncStateOutOfSync,
	}))

	third, err := d.AssignLicense(context.Background(), "vm-b")
	require.NoError(t, err)
	assert.Equal(t, "fgt-01.lic", third.FileName)

	usage, err := adapter.ListLicenseUsage(context.Background(), "fortigate")
	require.NoError(t, err)
	var holders []string
	for _, u := range usage {
		holders = append(holders, u.VmID)
	}
	assert.Contains(t, holders, "vm-b")
}

// Status message requests are accepted and always answered with an empty
// 200 body, regardless of fleet state (§4.8).
func TestStatusMessageIsAcceptedAndIgnored(t *testing.T) {
	_, d := newFleet(t)
	resp, err := d.Dispatch(context.Background(), fleet.RequestInfo{
		Type:   fleet.ReqTypeStatusMessage,
		Status: "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "", resp.Body)
}

// A configuration-missing deployment must be rejected before any routing
// happens, regardless of request type (§4.8 init precondition).
func TestDispatchFailsFastWhenDeploymentSettingsNotSaved(t *testing.T) {
	adapter := memory.New()
	d := &dispatch.Dispatcher{Adapter: adapter, Proxy: amplePx{}}

	_, err := d.Dispatch(context.Background(), fleet.RequestInfo{Type: fleet.ReqTypeHeartbeatSync, InstanceID: "vm-a"})
	require.Error(t, err)
}
