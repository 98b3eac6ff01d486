package fleet

// SettingItem is one row of the ordered settings table (§3): a typed,
// describable, optionally-editable, optionally-JSON-encoded configuration
// value. The Settings Registry (internal/settings) is the only component
// that reads these tuples and exposes a typed accessor per recognized key.
type SettingItem struct {
	Key         string
	Value       string
	Description string
	Editable    bool
	JSONEncoded bool
}

// Settings is the ordered set of configuration tuples the platform adapter
// returns. Order is preserved for display purposes only; lookups are by
// key.
type Settings []SettingItem

// Recognized setting keys (§3), each with a typed accessor on
// settings.Registry. Keys outside this list are still stored on write and
// returned by Registry.Get; only the typed accessors are limited to them.
const (
	SettingDeploymentSettingsSaved          = "deployment-settings-saved"
	SettingMasterScalingGroupName           = "master-scaling-group-name"
	SettingBYOLScalingGroupName             = "byol-scaling-group-name"
	SettingPAYGScalingGroupName             = "payg-scaling-group-name"
	SettingHeartbeatInterval                = "heartbeat-interval"
	SettingHeartbeatLossCount               = "heartbeat-loss-count"
	SettingHeartbeatDelayAllowance          = "heartbeat-delay-allowance"
	SettingMasterElectionTimeout            = "master-election-timeout"
	SettingMasterElectionNoWait             = "master-election-no-wait"
	SettingAssetStorageName                 = "asset-storage-name"
	SettingAssetStorageKeyPrefix            = "asset-storage-key-prefix"
	SettingFortiGateLicenseStorageKeyPrefix = "fortigate-license-storage-key-prefix"
	SettingEnableHybridLicensing            = "enable-hybrid-licensing"
	SettingGetLicenseGracePeriod            = "get-license-grace-period"
	SettingAutoscaleHandlerURL              = "autoscale-handler-url"
	SettingFortiGatePSKSecret               = "fortigate-psk-secret"
	SettingFortiGateSyncInterface           = "fortigate-sync-interface"
	SettingFortiGateTrafficPort             = "fortigate-traffic-port"
	SettingFortiGateAdminPort               = "fortigate-admin-port"
	// SettingFortiGateDefaultPassword is written (not read as a boot setting)
	// by the heartbeat orchestrator to record which VM last became primary
	// (§4.6 step 9).
	SettingFortiGateDefaultPassword = "fortigate-default-password"

	// SettingVirtualNetworkID is not in spec.md's enumerated (explicitly
	// non-exhaustive) key list but is required by §4.6 step 2's "matches
	// the configured VPC id" check. Its resolution (key name, empty-value
	// meaning "check disabled") is recorded as an Open Question decision
	// in DESIGN.md's "Open Question decisions" section.
	SettingVirtualNetworkID = "virtual-network-id"
)
