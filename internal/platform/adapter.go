// Package platform defines the capability set the core needs from a cloud
// platform (§4.1). A concrete implementation of Adapter is how the core is
// wired to a real cloud's VM lifecycle API, KV store, and blob store; the
// core itself never imports a cloud SDK.
//
// Implementations compose by substitution, not inheritance: Adapter is a
// plain interface so a test can hand the dispatcher a struct satisfying a
// handful of the methods wrapped around a map, just as the teacher's
// reconcilers are driven by fake clientsets in place of a live apiserver.
package platform

import (
	"context"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
)

// VmDescriptor narrows a describeVm call (§4.1); either field may be
// empty, but at least one must be set.
type VmDescriptor struct {
	VmID             string
	ScalingGroupName string
}

// Adapter abstracts all cloud I/O the core needs: VM describe, KV store
// CRUD with conditional writes, blob listing/fetch, scaling-group actions,
// and request parsing (§4.1).
type Adapter interface {
	// Init prepares the adapter for use (credentials, client construction).
	Init(ctx context.Context) error

	// GetRequestType classifies an opaque incoming request.
	GetRequestType(ctx context.Context, req any) (fleet.ReqType, error)
	// GetReqVmID extracts the instance id a request claims.
	GetReqVmID(ctx context.Context, req any) (string, error)
	// GetReqHeartbeatInterval extracts the requested interval, or
	// fleet.UseExistingInterval if the request says "use-existing" or
	// supplies none.
	GetReqHeartbeatInterval(ctx context.Context, req any) (int, error)
	// GetRequestInfo normalizes an opaque request into the typed shape
	// the rest of the core consumes.
	GetRequestInfo(ctx context.Context, req any) (fleet.RequestInfo, error)

	// DescribeVm resolves a VM by id and/or scaling group. Returns
	// (nil, nil) if no matching VM exists.
	DescribeVm(ctx context.Context, desc VmDescriptor) (*fleet.VirtualMachine, error)
	// GetTargetVm resolves the VM identified by the current request.
	GetTargetVm(ctx context.Context, vmID string) (*fleet.VirtualMachine, error)
	// GetMasterVm resolves the VM currently named by the PrimaryRecord,
	// or (nil, nil) if there is none.
	GetMasterVm(ctx context.Context) (*fleet.VirtualMachine, error)
	// VmEquals compares two VM identities (by VmID, as §3 treats a
	// re-launch as producing a distinct identity).
	VmEquals(a, b *fleet.VirtualMachine) bool
	// DeleteVm terminates/deregisters a VM with the scaling group.
	DeleteVm(ctx context.Context, vm *fleet.VirtualMachine) error

	// GetSettings returns the full settings table.
	GetSettings(ctx context.Context) (fleet.Settings, error)
	// SetSettingItem upserts one setting row; unknown keys are accepted
	// at this layer. internal/settings does not filter them on read
	// either: Registry.Get returns any stored key, and only its typed
	// accessors are limited to recognized keys.
	SetSettingItem(ctx context.Context, item fleet.SettingItem) error

	// GetHealthCheckRecord returns (nil, nil) if no record exists for vmID.
	GetHealthCheckRecord(ctx context.Context, vmID string) (*fleet.HealthCheckRecord, error)
	CreateHealthCheckRecord(ctx context.Context, r fleet.HealthCheckRecord) error
	UpdateHealthCheckRecord(ctx context.Context, r fleet.HealthCheckRecord) error
	DeleteHealthCheckRecord(ctx context.Context, vmID string) error
	// ListHealthCheckRecords returns every known health record, fleet-wide;
	// unlike the license usage table, membership here isn't scoped to a
	// product, so a status summary can tally health across the whole fleet
	// rather than just the subset holding a license.
	ListHealthCheckRecords(ctx context.Context) ([]fleet.HealthCheckRecord, error)

	// GetMasterRecord returns (nil, nil) if the singleton is absent.
	GetMasterRecord(ctx context.Context) (*fleet.PrimaryRecord, error)
	// CreateMasterRecord performs a conditional put: it succeeds only if
	// the record currently matches expectedOld (nil meaning "absent").
	// On mismatch it returns autoscaleerrors.ErrRaceLost.
	CreateMasterRecord(ctx context.Context, newRecord fleet.PrimaryRecord, expectedOld *fleet.PrimaryRecord) error
	UpdateMasterRecord(ctx context.Context, r fleet.PrimaryRecord) error
	// DeleteMasterRecord performs a conditional delete against expected;
	// a concurrent purge returns autoscaleerrors.ErrRaceLost.
	DeleteMasterRecord(ctx context.Context, expected fleet.PrimaryRecord) error

	// ListLicenseFiles lists the license blobs under a container/prefix.
	ListLicenseFiles(ctx context.Context, container, dir string) ([]fleet.LicenseFile, error)
	// LoadLicenseFileContent lazily fetches a blob's bytes.
	LoadLicenseFileContent(ctx context.Context, container, path string) ([]byte, error)
	ListLicenseStock(ctx context.Context, product string) ([]fleet.LicenseStockRecord, error)
	ListLicenseUsage(ctx context.Context, product string) ([]fleet.LicenseUsageRecord, error)
	UpdateLicenseStock(ctx context.Context, records []fleet.LicenseStockRecord) error
	// UpdateLicenseUsage applies upserts/deletes. A conditional insert of
	// a new usage row (unique on VmID) that loses a race returns
	// autoscaleerrors.ErrRaceLost.
	UpdateLicenseUsage(ctx context.Context, records []fleet.LicenseUsageRecord) error

	// CompleteLifecycleAction is an optional hook: an adapter without
	// lifecycle hooks implements it as a no-op. Core code calls it
	// unconditionally.
	CompleteLifecycleAction(ctx context.Context, vmID string, action string, abandon bool) error
}
