// Package settings implements the typed read-through cache over the
// Platform Adapter's settings table (§4.3, C3). It is the only path by
// which any other component reaches configuration — "no global state"
// (§9) — and exposes one typed accessor per recognized key, the way the
// teacher's pkg/operator/config.go exposes a typed OperatorConfig/Images
// pair instead of scattering raw lookups through the codebase.
package settings

import (
	"context"
	"strconv"
	"strings"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/platform"
)

// Registry is a read-through cache over the platform adapter's settings
// table, loaded once per handler invocation (§5 "memoized self within one
// handler invocation" applies equally to settings).
type Registry struct {
	adapter platform.Adapter
	values  map[string]fleet.SettingItem
}

// Load reads the full settings table from the adapter. Unknown keys are
// retained (so SetSettingItem round-trips arbitrary keys) but the typed
// accessors below only ever resolve recognized keys.
func Load(ctx context.Context, adapter platform.Adapter) (*Registry, error) {
	raw, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (fleet.Settings, error) {
		return adapter.GetSettings(ctx)
	})
	if err != nil {
		return nil, err
	}
	values := make(map[string]fleet.SettingItem, len(raw))
	for _, item := range raw {
		values[item.Key] = item
	}
	return &Registry{adapter: adapter, values: values}, nil
}

// Get returns the raw string value for key and whether it was present.
func (r *Registry) Get(key string) (string, bool) {
	item, ok := r.values[key]
	if !ok {
		return "", false
	}
	return item.Value, true
}

// Bool parses a setting the tolerant way §4.3 requires: "true" in any
// letter case, ignoring surrounding whitespace, maps to true; anything else
// (including absence) maps to false.
func (r *Registry) Bool(key string) bool {
	v, ok := r.Get(key)
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// Int parses a setting as an integer, returning def if absent or
// unparsable.
func (r *Registry) Int(key string, def int) int {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// String returns a setting's string value, or def if absent.
func (r *Registry) String(key string, def string) string {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	return v
}

// DeploymentSettingsSaved is the precondition §3/§4.8 require before the
// dispatcher proceeds at all.
func (r *Registry) DeploymentSettingsSaved() bool {
	return r.Bool(fleet.SettingDeploymentSettingsSaved)
}

// MasterScalingGroupName is the scaling group whose members are eligible
// to hold the primary role.
func (r *Registry) MasterScalingGroupName() string {
	return r.String(fleet.SettingMasterScalingGroupName, "")
}

func (r *Registry) BYOLScalingGroupName() string {
	return r.String(fleet.SettingBYOLScalingGroupName, "")
}

func (r *Registry) PAYGScalingGroupName() string {
	return r.String(fleet.SettingPAYGScalingGroupName, "")
}

// HeartbeatIntervalSec is the configured seconds between expected health
// reports; defaults to 30 when unset, since §3 requires it be > 0.
func (r *Registry) HeartbeatIntervalSec() int {
	v := r.Int(fleet.SettingHeartbeatInterval, 30)
	if v <= 0 {
		return 30
	}
	return v
}

func (r *Registry) HeartbeatLossCount() int {
	return r.Int(fleet.SettingHeartbeatLossCount, 3)
}

func (r *Registry) HeartbeatDelayAllowanceSec() int {
	return r.Int(fleet.SettingHeartbeatDelayAllowance, 2)
}

func (r *Registry) MasterElectionTimeoutSec() int {
	return r.Int(fleet.SettingMasterElectionTimeout, 300)
}

// MasterElectionNoWait answers the §9 open question with one setting, one
// behavior: the same value governs both the bootstrap and the heartbeat
// election call sites.
func (r *Registry) MasterElectionNoWait() bool {
	return r.Bool(fleet.SettingMasterElectionNoWait)
}

func (r *Registry) AssetStorageName() string {
	return r.String(fleet.SettingAssetStorageName, "")
}

func (r *Registry) AssetStorageKeyPrefix() string {
	return r.String(fleet.SettingAssetStorageKeyPrefix, "")
}

func (r *Registry) FortiGateLicenseStorageKeyPrefix() string {
	return r.String(fleet.SettingFortiGateLicenseStorageKeyPrefix, "")
}

func (r *Registry) EnableHybridLicensing() bool {
	return r.Bool(fleet.SettingEnableHybridLicensing)
}

func (r *Registry) GetLicenseGracePeriodSec() int {
	return r.Int(fleet.SettingGetLicenseGracePeriod, 600)
}

func (r *Registry) AutoscaleHandlerURL() string {
	return r.String(fleet.SettingAutoscaleHandlerURL, "")
}

func (r *Registry) FortiGatePSKSecret() string {
	return r.String(fleet.SettingFortiGatePSKSecret, "")
}

func (r *Registry) FortiGateSyncInterface() string {
	return r.String(fleet.SettingFortiGateSyncInterface, "")
}

func (r *Registry) FortiGateTrafficPort() string {
	return r.String(fleet.SettingFortiGateTrafficPort, "")
}

func (r *Registry) FortiGateAdminPort() string {
	return r.String(fleet.SettingFortiGateAdminPort, "")
}

// VirtualNetworkID is the VPC/virtual-network id heartbeat requests must
// match (§4.6 step 2). An empty value disables the check, which is what
// every test harness and the memory adapter default to.
func (r *Registry) VirtualNetworkID() string {
	return r.String(fleet.SettingVirtualNetworkID, "")
}

// Set writes through to the adapter. Per §9, unknown keys are accepted at
// the adapter layer and simply won't resolve through any typed accessor.
func (r *Registry) Set(ctx context.Context, item fleet.SettingItem) error {
	err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return r.adapter.SetSettingItem(ctx, item)
	})
	if err != nil {
		return err
	}
	r.values[item.Key] = item
	return nil
}
