// Package dispatch implements the Request Dispatcher (§4.8, C8): the single
// entry point that classifies an incoming request, enforces the
// deployment-settings-saved precondition, and routes to the owning
// component. It imports each component it routes to (the Health Check
// Engine only indirectly, through heartbeat), so every component is
// reachable through here or through its own tests.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/bootstrap"
	"github.com/openshift/autoscale-core/internal/election"
	"github.com/openshift/autoscale-core/internal/heartbeat"
	"github.com/openshift/autoscale-core/internal/license"
	"github.com/openshift/autoscale-core/internal/metrics"
	"github.com/openshift/autoscale-core/internal/platform"
	"github.com/openshift/autoscale-core/internal/proxy"
	"github.com/openshift/autoscale-core/internal/settings"
)

// Response is the dispatcher's final answer, ready to be handed to the
// proxy adapter's FormatResponse.
type Response struct {
	Status  int
	Body    string
	Secret  bool
	Headers map[string]string
}

// StatusSummary is the supplemented read-only snapshot returned for
// StatusMessage requests' side channel (SPEC_FULL.md §5); the wire response
// to the request itself stays the documented empty-body 200.
type StatusSummary struct {
	PrimaryVmID        string
	HealthyCount       int
	UnhealthyCount     int
	LicenseUsedCount   int
	LicenseUnusedCount int
}

// Dispatcher wires C1-C7 together. LicenseContainer/LicenseDir/LicenseProduct
// configure where C7 looks for license blobs; BootstrapStrategy defaults to
// bootstrap.KeyValueStrategy if nil.
type Dispatcher struct {
	Adapter           platform.Adapter
	Proxy             proxy.Adapter
	BootstrapStrategy bootstrap.Strategy

	LicenseContainer string
	LicenseDir       string
	LicenseProduct   string
}

// Dispatch runs one request to completion per §4.8's routing table.
func (d *Dispatcher) Dispatch(ctx context.Context, req any) (Response, error) {
	registry, err := settings.Load(ctx, d.Adapter)
	if err != nil {
		return Response{Status: 500}, err
	}
	if !registry.DeploymentSettingsSaved() {
		return Response{Status: 500}, autoscaleerrors.ErrConfigurationMissing
	}

	info, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (fleet.RequestInfo, error) {
		return d.Adapter.GetRequestInfo(ctx, req)
	})
	if err != nil {
		return Response{Status: 500}, err
	}
	if info.Status != "" {
		info.Type = fleet.ReqTypeStatusMessage
	}

	resp, err := d.route(ctx, registry, info)
	metrics.DispatchRequestsTotal.WithLabelValues(string(info.Type), fmt.Sprint(resp.Status)).Inc()
	return resp, err
}

func (d *Dispatcher) route(ctx context.Context, registry *settings.Registry, info fleet.RequestInfo) (Response, error) {
	switch info.Type {
	case fleet.ReqTypeLaunchingVm:
		return d.onLaunching(ctx, info)
	case fleet.ReqTypeLaunchedVm:
		return d.onLaunched(ctx, info)
	case fleet.ReqTypeBootstrapConfig:
		return d.onBootstrapConfig(ctx, registry, info)
	case fleet.ReqTypeHeartbeatSync:
		return d.onHeartbeatSync(ctx, registry, info)
	case fleet.ReqTypeStatusMessage:
		return Response{Status: 200, Body: ""}, nil
	case fleet.ReqTypeTerminatingVm:
		return d.onTerminating(ctx, info)
	case fleet.ReqTypeTerminatedVm:
		return d.onTerminated(ctx, info)
	default:
		return Response{Status: 403, Body: "unrecognized request"}, nil
	}
}

// onLaunching is the platform-defined hook point for LaunchingVm; the core
// has no default behavior beyond acknowledging the request (§4.8).
func (d *Dispatcher) onLaunching(ctx context.Context, info fleet.RequestInfo) (Response, error) {
	return Response{Status: 200, Body: ""}, nil
}

// onLaunched adds the VM to fleet state with no election (§4.8).
func (d *Dispatcher) onLaunched(ctx context.Context, info fleet.RequestInfo) (Response, error) {
	if info.InstanceID == "" {
		return Response{Status: 403, Body: "missing instance-id"}, nil
	}
	if _, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.VirtualMachine, error) {
		return d.Adapter.GetTargetVm(ctx, info.InstanceID)
	}); err != nil {
		return Response{Status: 500}, err
	}
	return Response{Status: 200, Body: ""}, nil
}

func (d *Dispatcher) onBootstrapConfig(ctx context.Context, registry *settings.Registry, info fleet.RequestInfo) (Response, error) {
	if info.InstanceID == "" {
		return Response{Status: 403, Body: "missing instance-id"}, nil
	}
	self, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.VirtualMachine, error) {
		return d.Adapter.GetTargetVm(ctx, info.InstanceID)
	})
	if err != nil {
		return Response{Status: 500}, err
	}
	if self == nil {
		return Response{Status: 403, Body: "unknown instance-id"}, nil
	}

	primaryUnhealthy := false
	primaryVm, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.VirtualMachine, error) {
		return d.Adapter.GetMasterVm(ctx)
	})
	if err == nil && primaryVm != nil {
		if h, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.HealthCheckRecord, error) {
			return d.Adapter.GetHealthCheckRecord(ctx, primaryVm.VmID)
		}); err == nil {
			primaryUnhealthy = h == nil || !h.Healthy
		}
	}

	result, err := election.Run(ctx, d.Adapter, d.Proxy, election.Params{
		Self:                    self,
		PrimaryScalingGroupName: registry.MasterScalingGroupName(),
		ElectionTimeoutSec:      registry.MasterElectionTimeoutSec(),
		NoWait:                  registry.MasterElectionNoWait(),
		PrimaryUnhealthy:        primaryUnhealthy,
	})
	if err != nil {
		return Response{Status: 500}, err
	}
	metrics.ElectionOutcomeTotal.WithLabelValues(string(result.Outcome)).Inc()

	if result.Outcome == election.OutcomeTimedOut {
		return Response{Status: 500, Body: "election timed out"}, nil
	}
	if result.Outcome == election.OutcomeFinalizeFailed {
		if result.Record != nil {
			if err := election.Purge(ctx, d.Adapter, *result.Record); err != nil {
				return Response{Status: 500}, err
			}
		}
		return Response{Status: 500, Body: "primary election finalize failed"}, nil
	}

	primaryVm = nil
	if result.Record != nil {
		primaryVm, _ = autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.VirtualMachine, error) {
			return d.Adapter.DescribeVm(ctx, platform.VmDescriptor{VmID: result.Record.VmID})
		})
	}

	settingsTable, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (fleet.Settings, error) {
		return d.Adapter.GetSettings(ctx)
	})
	if err != nil {
		return Response{Status: 500}, err
	}

	strategy := d.BootstrapStrategy
	if strategy == nil {
		strategy = bootstrap.KeyValueStrategy{}
	}
	body, err := strategy.Render(ctx, self, primaryVm, settingsTable)
	if err != nil {
		return Response{Status: 500}, err
	}
	return Response{Status: 200, Body: body}, nil
}

func (d *Dispatcher) onHeartbeatSync(ctx context.Context, registry *settings.Registry, info fleet.RequestInfo) (Response, error) {
	orch := heartbeat.Orchestrator{Adapter: d.Adapter, Proxy: d.Proxy, Settings: registry}
	resp, err := orch.Handle(ctx, info)
	if err != nil {
		if errors.Is(err, autoscaleerrors.ErrUnauthorized) {
			return Response{Status: 403, Body: "unauthorized"}, nil
		}
		return Response{Status: 500}, err
	}
	return Response{Status: resp.Status, Body: resp.Body}, nil
}

// onTerminating marks a VM out-of-sync, deletes its health record, and
// purges the primary record if it was the primary (§4.8).
func (d *Dispatcher) onTerminating(ctx context.Context, info fleet.RequestInfo) (Response, error) {
	if info.InstanceID == "" {
		return Response{Status: 403, Body: "missing instance-id"}, nil
	}

	h, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.HealthCheckRecord, error) {
		return d.Adapter.GetHealthCheckRecord(ctx, info.InstanceID)
	})
	if err != nil {
		return Response{Status: 500}, err
	} else if h != nil {
		h.SyncState = fleet.SyncStateOutOfSync
		h.Healthy = false
		if err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
			return d.Adapter.UpdateHealthCheckRecord(ctx, *h)
		}); err != nil {
			return Response{Status: 500}, err
		}
	}
	if err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return d.Adapter.DeleteHealthCheckRecord(ctx, info.InstanceID)
	}); err != nil {
		return Response{Status: 500}, err
	}

	record, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.PrimaryRecord, error) {
		return d.Adapter.GetMasterRecord(ctx)
	})
	if err != nil {
		return Response{Status: 500}, err
	}
	if record != nil && record.VmID == info.InstanceID {
		if err := election.Purge(ctx, d.Adapter, *record); err != nil {
			return Response{Status: 500}, err
		}
	}
	return Response{Status: 200, Body: ""}, nil
}

// onTerminated finalizes teardown once the platform confirms the VM is
// gone: no further state should reference it (§4.8).
func (d *Dispatcher) onTerminated(ctx context.Context, info fleet.RequestInfo) (Response, error) {
	if info.InstanceID == "" {
		return Response{Status: 403, Body: "missing instance-id"}, nil
	}
	if err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return d.Adapter.CompleteLifecycleAction(ctx, info.InstanceID, "terminate", false)
	}); err != nil {
		return Response{Status: 500}, err
	}
	return Response{Status: 200, Body: ""}, nil
}

// Status assembles the supplemented read-only snapshot (SPEC_FULL.md §5).
// Health is tallied fleet-wide, across every scaling group named in
// scalingGroups (all of them, if none are named) — not just the subset of
// VMs currently holding a license, since a fleet can run products that
// never touch C7 at all.
func (d *Dispatcher) Status(ctx context.Context, scalingGroups ...string) (StatusSummary, error) {
	summary := StatusSummary{}

	record, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.PrimaryRecord, error) {
		return d.Adapter.GetMasterRecord(ctx)
	})
	if err == nil && record != nil && record.VoteState == fleet.VoteStateDone {
		summary.PrimaryVmID = record.VmID
	}

	usage, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.LicenseUsageRecord, error) {
		return d.Adapter.ListLicenseUsage(ctx, d.LicenseProduct)
	})
	if err != nil {
		return StatusSummary{}, err
	}
	stock, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.LicenseStockRecord, error) {
		return d.Adapter.ListLicenseStock(ctx, d.LicenseProduct)
	})
	if err != nil {
		return StatusSummary{}, err
	}
	summary.LicenseUsedCount = len(usage)
	if unused := len(stock) - len(usage); unused > 0 {
		summary.LicenseUnusedCount = unused
	}
	metrics.ObserveLicensePool(summary.LicenseUsedCount, summary.LicenseUnusedCount)

	records, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.HealthCheckRecord, error) {
		return d.Adapter.ListHealthCheckRecords(ctx)
	})
	if err != nil {
		return StatusSummary{}, err
	}
	groups := make(map[string]bool, len(scalingGroups))
	for _, g := range scalingGroups {
		groups[g] = true
	}
	for _, h := range records {
		if len(groups) > 0 && !groups[h.ScalingGroupName] {
			continue
		}
		if h.Healthy {
			summary.HealthyCount++
		} else {
			summary.UnhealthyCount++
		}
	}

	return summary, nil
}

// AssignLicense runs C7 for one (productName-implicit, vmId) request.
func (d *Dispatcher) AssignLicense(ctx context.Context, vmID string) (license.Result, error) {
	return license.Assign(ctx, d.Adapter, d.Proxy, d.LicenseContainer, d.LicenseDir, license.Request{
		ProductName: d.LicenseProduct,
		VmID:        vmID,
	})
}
