package license

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/platform/memory"
)

func TestAssignPicksAnUnusedLicense(t *testing.T) {
	adapter := memory.New()
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-one")})

	result, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-1"})
	require.NoError(t, err)
	assert.Equal(t, "fgt-01.lic", result.FileName)
	assert.Equal(t, []byte("license-one"), result.Content)
	assert.True(t, result.Secret)

	stock, err := adapter.ListLicenseStock(context.Background(), "fortigate")
	require.NoError(t, err)
	assert.Len(t, stock, 1)
}

func TestAssignIsIdempotentForTheSameVm(t *testing.T) {
	adapter := memory.New()
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-one")})

	first, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-1"})
	require.NoError(t, err)

	second, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-1"})
	require.NoError(t, err)

	assert.Equal(t, first.FileName, second.FileName)

	usage, err := adapter.ListLicenseUsage(context.Background(), "fortigate")
	require.NoError(t, err)
	assert.Len(t, usage, 1)
}

func TestAssignRecyclesAnOutOfSyncHolder(t *testing.T) {
	adapter := memory.New()
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-one")})

	_, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-old"})
	require.NoError(t, err)

	// vm-old never reports in (no health record), so refreshInSync marks it
	// out of sync and it becomes recyclable for the next requester.
	result, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-new"})
	require.NoError(t, err)
	assert.Equal(t, "fgt-01.lic", result.FileName)

	usage, err := adapter.ListLicenseUsage(context.Background(), "fortigate")
	require.NoError(t, err)
	var vmIDs []string
	for _, u := range usage {
		vmIDs = append(vmIDs, u.VmID)
	}
	assert.Contains(t, vmIDs, "vm-new")
	assert.NotContains(t, vmIDs, "vm-old")
}

func TestAssignSurvivesTransientIOBelowTheRetryBound(t *testing.T) {
	adapter := memory.New()
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-one")})

	var calls atomic.Int32
	adapter.SetFailureInjector(func(op string) error {
		if op == "ListLicenseStock" && calls.Add(1) <= 2 {
			return autoscaleerrors.ErrTransientIO
		}
		return nil
	})

	result, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-1"})
	require.NoError(t, err)
	assert.Equal(t, "fgt-01.lic", result.FileName)
}

func TestAssignSurfacesTransientIOOnceRetriesExhaust(t *testing.T) {
	adapter := memory.New()
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-one")})

	adapter.SetFailureInjector(func(op string) error {
		if op == "ListLicenseStock" {
			return autoscaleerrors.ErrTransientIO
		}
		return nil
	})

	_, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-1"})
	assert.ErrorIs(t, err, autoscaleerrors.ErrTransientIO)
}

func TestAssignExhaustedWhenEveryHolderIsHealthy(t *testing.T) {
	adapter := memory.New()
	adapter.SeedLicenseFile(fleet.LicenseFile{FileName: "fgt-01.lic", Checksum: "cksum-1", Content: []byte("license-one")})

	_, err := Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-holder"})
	require.NoError(t, err)

	require.NoError(t, adapter.CreateHealthCheckRecord(context.Background(), fleet.HealthCheckRecord{
		VmID:      "vm-holder",
		Healthy:   true,
		SyncState: fleet.SyncStateInSync,
	}))

	_, err = Assign(context.Background(), adapter, nil, "licenses", "fgt/", Request{ProductName: "fortigate", VmID: "vm-new"})
	assert.ErrorIs(t, err, autoscaleerrors.ErrLicenseExhausted)
}
