// Package fleet holds the typed data model shared across the autoscale
// core: virtual machine identity, health and primary-election records, and
// the license pool bookkeeping types. None of these types know how they
// are persisted — that is the Platform Adapter's job.
package fleet

import "github.com/blang/semver"

// SchemaVersion is stamped on every record a platform adapter persists so
// that a reader can detect a record written by an incompatible core
// version before trusting its fields.
var SchemaVersion = semver.MustParse("1.0.0")

// VirtualMachine is the identity of a VM as seen by the platform. It is
// immutable for the lifetime of a VM; a re-launch produces a new VmID.
type VirtualMachine struct {
	VmID             string
	ScalingGroupName string
	PrimaryPrivateIP string
	PrimaryPublicIP  string
	VirtualNetworkID string
	SubnetID         string
}

// SyncState is the closed set of states a monitored VM's heartbeat sync
// can be in.
type SyncState string

const (
	SyncStateInSync    SyncState = "in-sync"
	SyncStateOutOfSync SyncState = "out-of-sync"
)

// HealthCheckRecord is the one-per-monitored-VM health record (§3).
type HealthCheckRecord struct {
	SchemaVersion semver.Version

	VmID             string
	ScalingGroupName string
	IP               string
	// PrimaryIP is the primary this VM currently follows; may be empty.
	PrimaryIP string

	HeartbeatInterval  int // seconds, > 0
	HeartbeatLossCount int
	NextHeartbeatTime  int64 // absolute ms
	SyncState          SyncState
	SyncRecoveryCount  int
	Seq                int64
	Healthy            bool
	UpToDate           bool

	// Device-reported auxiliary fields, passed through unmodified.
	SendTime           int64
	DeviceSyncTime     int64
	DeviceSyncFailTime int64
	DeviceSyncStatus   string
	DeviceIsPrimary    bool
	DeviceChecksum     string
}

// VoteState is the closed set of states a PrimaryRecord's election can be
// in (§4.5).
type VoteState string

const (
	VoteStatePending VoteState = "pending"
	VoteStateDone    VoteState = "done"
	VoteStateTimeout VoteState = "timeout"
)

// PrimaryRecord is the at-most-one-row singleton electing the fleet's
// primary VM (§3). ID is the opaque token conditional writers compare
// against; it is empty/absent when no record exists.
type PrimaryRecord struct {
	SchemaVersion semver.Version

	ID               string
	VmID             string
	IP               string
	ScalingGroupName string
	VirtualNetworkID string
	SubnetID         string
	VoteEndTime      int64
	VoteState        VoteState
}

// LicenseFile is a license artifact present in blob storage.
type LicenseFile struct {
	FileName  string
	Checksum  string
	Algorithm string
	Content   []byte // lazily populated; nil until fetched
}

// LicenseStockRecord is the metadata of a license present in the pool,
// keyed by Checksum.
type LicenseStockRecord struct {
	Checksum    string
	FileName    string
	Algorithm   string
	ProductName string
}

// LicenseUsageRecord assigns one Checksum to one VmID.
type LicenseUsageRecord struct {
	VmID        string
	Checksum    string
	FileName    string
	ProductName string
	// VmInSync is cached from the last reconciliation pass (§4.7 step 5).
	VmInSync   bool
	AssignedAt int64
}
