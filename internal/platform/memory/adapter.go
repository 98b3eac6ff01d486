// Package memory implements a reference platform.Adapter backed entirely by
// in-process maps guarded by a mutex, with CAS semantics on the singleton
// PrimaryRecord and the HealthCheckRecord/LicenseUsageRecord rows. It plays
// the role the teacher's fake clientsets (sigs.k8s.io/controller-runtime's
// fake.NewClientBuilder, k8s.io/client-go's fake.NewSimpleClientset) play in
// reconciler unit tests: a linearizable stand-in for a live backend, driving
// the core's tests and a standalone single-process deployment without a
// real cloud platform wired in.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/platform"
)

// Adapter is the in-memory platform.Adapter reference implementation. The
// zero value is not usable; construct with New.
type Adapter struct {
	mu sync.Mutex

	vms      map[string]fleet.VirtualMachine
	settings map[string]fleet.SettingItem

	health map[string]fleet.HealthCheckRecord
	master *fleet.PrimaryRecord

	licenseFiles map[string]fleet.LicenseFile // keyed by checksum
	licenseStock map[string]fleet.LicenseStockRecord
	licenseUsage map[string]fleet.LicenseUsageRecord // keyed by vmId

	lifecycleCompleted map[string]string // vmId -> last action

	inject FailureInjector
}

// FailureInjector is consulted by name before the I/O call it names would
// otherwise succeed; a non-nil return makes that call fail with it instead,
// the same reactor idiom the teacher's fake clientsets use
// (PrependReactor) to drive retry-path tests without a flaky real backend.
type FailureInjector func(op string) error

// SetFailureInjector installs f as the adapter's reactor; test setup, not
// part of platform.Adapter. Pass nil to clear it.
func (a *Adapter) SetFailureInjector(f FailureInjector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inject = f
}

// fail consults the installed FailureInjector for op. Callers must hold
// a.mu when calling this from inside a locked method.
func (a *Adapter) fail(op string) error {
	if a.inject == nil {
		return nil
	}
	return a.inject(op)
}

// New returns an empty Adapter. Callers seed it directly (SeedVm,
// SeedSetting, ...) since there is no external platform to Init against.
func New() *Adapter {
	return &Adapter{
		vms:                make(map[string]fleet.VirtualMachine),
		settings:           make(map[string]fleet.SettingItem),
		health:             make(map[string]fleet.HealthCheckRecord),
		licenseFiles:       make(map[string]fleet.LicenseFile),
		licenseStock:       make(map[string]fleet.LicenseStockRecord),
		licenseUsage:       make(map[string]fleet.LicenseUsageRecord),
		lifecycleCompleted: make(map[string]string),
	}
}

func (a *Adapter) Init(ctx context.Context) error { return nil }

// SeedVm registers a VM as if the platform's describe API already knew
// about it; test setup, not part of platform.Adapter.
func (a *Adapter) SeedVm(vm fleet.VirtualMachine) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vms[vm.VmID] = vm
}

// SeedSetting registers one setting row; test setup.
func (a *Adapter) SeedSetting(item fleet.SettingItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings[item.Key] = item
}

// SeedLicenseFile registers one license blob; test setup.
func (a *Adapter) SeedLicenseFile(f fleet.LicenseFile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.licenseFiles[f.Checksum] = f
}

func (a *Adapter) GetRequestType(ctx context.Context, req any) (fleet.ReqType, error) {
	info, ok := req.(fleet.RequestInfo)
	if !ok {
		return fleet.ReqTypeUnknown, nil
	}
	return info.Type, nil
}

func (a *Adapter) GetReqVmID(ctx context.Context, req any) (string, error) {
	info, ok := req.(fleet.RequestInfo)
	if !ok {
		return "", nil
	}
	return info.InstanceID, nil
}

func (a *Adapter) GetReqHeartbeatInterval(ctx context.Context, req any) (int, error) {
	info, ok := req.(fleet.RequestInfo)
	if !ok {
		return fleet.UseExistingInterval, nil
	}
	return info.Interval, nil
}

func (a *Adapter) GetRequestInfo(ctx context.Context, req any) (fleet.RequestInfo, error) {
	info, ok := req.(fleet.RequestInfo)
	if !ok {
		return fleet.RequestInfo{}, fmt.Errorf("memory adapter: unrecognized request shape %T", req)
	}
	return info, nil
}

func (a *Adapter) DescribeVm(ctx context.Context, desc platform.VmDescriptor) (*fleet.VirtualMachine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if desc.VmID != "" {
		if vm, ok := a.vms[desc.VmID]; ok {
			v := vm
			return &v, nil
		}
		return nil, nil
	}
	for _, vm := range a.vms {
		if vm.ScalingGroupName == desc.ScalingGroupName {
			v := vm
			return &v, nil
		}
	}
	return nil, nil
}

func (a *Adapter) GetTargetVm(ctx context.Context, vmID string) (*fleet.VirtualMachine, error) {
	return a.DescribeVm(ctx, platform.VmDescriptor{VmID: vmID})
}

func (a *Adapter) GetMasterVm(ctx context.Context) (*fleet.VirtualMachine, error) {
	a.mu.Lock()
	if err := a.fail("GetMasterVm"); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	record := a.master
	a.mu.Unlock()
	if record == nil || record.VoteState != fleet.VoteStateDone {
		return nil, nil
	}
	return a.DescribeVm(ctx, platform.VmDescriptor{VmID: record.VmID})
}

func (a *Adapter) VmEquals(x, y *fleet.VirtualMachine) bool {
	if x == nil || y == nil {
		return x == y
	}
	return x.VmID == y.VmID
}

func (a *Adapter) DeleteVm(ctx context.Context, vm *fleet.VirtualMachine) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.vms, vm.VmID)
	return nil
}

func (a *Adapter) GetSettings(ctx context.Context) (fleet.Settings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("GetSettings"); err != nil {
		return nil, err
	}
	out := make(fleet.Settings, 0, len(a.settings))
	for _, item := range a.settings {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (a *Adapter) SetSettingItem(ctx context.Context, item fleet.SettingItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings[item.Key] = item
	return nil
}

func (a *Adapter) GetHealthCheckRecord(ctx context.Context, vmID string) (*fleet.HealthCheckRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("GetHealthCheckRecord"); err != nil {
		return nil, err
	}
	r, ok := a.health[vmID]
	if !ok {
		return nil, nil
	}
	rec := r
	return &rec, nil
}

func (a *Adapter) CreateHealthCheckRecord(ctx context.Context, r fleet.HealthCheckRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.health[r.VmID]; exists {
		return autoscaleerrors.ErrRaceLost
	}
	r.SchemaVersion = fleet.SchemaVersion
	a.health[r.VmID] = r
	return nil
}

func (a *Adapter) UpdateHealthCheckRecord(ctx context.Context, r fleet.HealthCheckRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("UpdateHealthCheckRecord"); err != nil {
		return err
	}
	r.SchemaVersion = fleet.SchemaVersion
	a.health[r.VmID] = r
	return nil
}

func (a *Adapter) DeleteHealthCheckRecord(ctx context.Context, vmID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.health, vmID)
	return nil
}

// ListHealthCheckRecords returns every known health record, fleet-wide, not
// just the ones holding a license (§9 "status is a fleet-wide aggregate").
// Not part of platform.Adapter's original §4.1 capability set; added so a
// fleet-wide status summary has somewhere to read from instead of having to
// infer membership from license usage.
func (a *Adapter) ListHealthCheckRecords(ctx context.Context) ([]fleet.HealthCheckRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("ListHealthCheckRecords"); err != nil {
		return nil, err
	}
	out := make([]fleet.HealthCheckRecord, 0, len(a.health))
	for _, r := range a.health {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VmID < out[j].VmID })
	return out, nil
}

func (a *Adapter) GetMasterRecord(ctx context.Context) (*fleet.PrimaryRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("GetMasterRecord"); err != nil {
		return nil, err
	}
	if a.master == nil {
		return nil, nil
	}
	r := *a.master
	return &r, nil
}

func (a *Adapter) CreateMasterRecord(ctx context.Context, newRecord fleet.PrimaryRecord, expectedOld *fleet.PrimaryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("CreateMasterRecord"); err != nil {
		return err
	}
	if !recordsMatch(a.master, expectedOld) {
		return autoscaleerrors.ErrRaceLost
	}
	newRecord.SchemaVersion = fleet.SchemaVersion
	newRecord.ID = uuid.NewString()
	a.master = &newRecord
	return nil
}

func (a *Adapter) UpdateMasterRecord(ctx context.Context, r fleet.PrimaryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("UpdateMasterRecord"); err != nil {
		return err
	}
	if a.master == nil || a.master.ID != r.ID {
		return autoscaleerrors.ErrRaceLost
	}
	r.SchemaVersion = fleet.SchemaVersion
	a.master = &r
	return nil
}

func (a *Adapter) DeleteMasterRecord(ctx context.Context, expected fleet.PrimaryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("DeleteMasterRecord"); err != nil {
		return err
	}
	if a.master == nil || a.master.ID != expected.ID {
		return autoscaleerrors.ErrRaceLost
	}
	a.master = nil
	return nil
}

func (a *Adapter) ListLicenseFiles(ctx context.Context, container, dir string) ([]fleet.LicenseFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("ListLicenseFiles"); err != nil {
		return nil, err
	}
	out := make([]fleet.LicenseFile, 0, len(a.licenseFiles))
	for _, f := range a.licenseFiles {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

func (a *Adapter) LoadLicenseFileContent(ctx context.Context, container, path string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("LoadLicenseFileContent"); err != nil {
		return nil, err
	}
	for _, f := range a.licenseFiles {
		if f.FileName == path {
			return f.Content, nil
		}
	}
	return nil, fmt.Errorf("memory adapter: license file %q not found", path)
}

func (a *Adapter) ListLicenseStock(ctx context.Context, product string) ([]fleet.LicenseStockRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("ListLicenseStock"); err != nil {
		return nil, err
	}
	out := make([]fleet.LicenseStockRecord, 0, len(a.licenseStock))
	for _, s := range a.licenseStock {
		if product == "" || s.ProductName == product {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Checksum < out[j].Checksum })
	return out, nil
}

func (a *Adapter) ListLicenseUsage(ctx context.Context, product string) ([]fleet.LicenseUsageRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("ListLicenseUsage"); err != nil {
		return nil, err
	}
	out := make([]fleet.LicenseUsageRecord, 0, len(a.licenseUsage))
	for _, u := range a.licenseUsage {
		if product == "" || u.ProductName == product {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VmID < out[j].VmID })
	return out, nil
}

func (a *Adapter) UpdateLicenseStock(ctx context.Context, records []fleet.LicenseStockRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range records {
		if r.FileName == "" {
			delete(a.licenseStock, r.Checksum)
			continue
		}
		a.licenseStock[r.Checksum] = r
	}
	return nil
}

// UpdateLicenseUsage applies a conditional insert per row: a row clearing
// Checksum is a recycle-delete, always allowed. A row assigning a new
// Checksum only succeeds if the vmID key is free or already holds that
// exact checksum (idempotent re-request); any other existing holder is a
// genuine race and the whole batch is rejected so the caller re-lists and
// retries (§4.7 step 7) instead of silently keeping a stale decision.
func (a *Adapter) UpdateLicenseUsage(ctx context.Context, records []fleet.LicenseUsageRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("UpdateLicenseUsage"); err != nil {
		return err
	}

	for _, r := range records {
		if r.Checksum == "" {
			continue
		}
		if existing, exists := a.licenseUsage[r.VmID]; exists && existing.Checksum != r.Checksum {
			return autoscaleerrors.ErrRaceLost
		}
	}

	for _, r := range records {
		if r.Checksum == "" {
			delete(a.licenseUsage, r.VmID)
			continue
		}
		a.licenseUsage[r.VmID] = r
	}
	return nil
}

func (a *Adapter) CompleteLifecycleAction(ctx context.Context, vmID string, action string, abandon bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if abandon {
		action = action + ":abandon"
	}
	a.lifecycleCompleted[vmID] = action
	return nil
}

func recordsMatch(have, expected *fleet.PrimaryRecord) bool {
	if have == nil || expected == nil {
		return have == expected
	}
	return have.ID == expected.ID
}

var _ platform.Adapter = (*Adapter)(nil)
