package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/platform/memory"
)

// TestStatusTalliesHealthFleetWide guards against regressing to tallying
// only the VMs holding a license usage row: a VM that never touched C7
// still has to be counted.
func TestStatusTalliesHealthFleetWide(t *testing.T) {
	adapter := memory.New()
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-one")})
	require.NoError(t, adapter.CreateHealthCheckRecord(context.Background(), fleet.HealthCheckRecord{VmID: "vm-licensed", ScalingGroupName: "primary-group", Healthy: true}))
	require.NoError(t, adapter.CreateHealthCheckRecord(context.Background(), fleet.HealthCheckRecord{VmID: "vm-unlicensed", ScalingGroupName: "primary-group", Healthy: false}))

	d := &Dispatcher{Adapter: adapter, LicenseContainer: "licenses", LicenseDir: "fgt/", LicenseProduct: "fortigate"}
	summary, err := d.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.HealthyCount)
	assert.Equal(t, 1, summary.UnhealthyCount)
}

// TestStatusScopesToNamedScalingGroups confirms the optional scaling-group
// filter excludes VMs outside it.
func TestStatusScopesToNamedScalingGroups(t *testing.T) {
	adapter := memory.New()
	require.NoError(t, adapter.CreateHealthCheckRecord(context.Background(), fleet.HealthCheckRecord{VmID: "vm-a", ScalingGroupName: "primary-group", Healthy: true}))
	require.NoError(t, adapter.CreateHealthCheckRecord(context.Background(), fleet.HealthCheckRecord{VmID: "vm-b", ScalingGroupName: "payg-group", Healthy: true}))

	d := &Dispatcher{Adapter: adapter, LicenseProduct: "fortigate"}
	summary, err := d.Status(context.Background(), "primary-group")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.HealthyCount)
	assert.Equal(t, 0, summary.UnhealthyCount)
}
