// Package heartbeat implements the Heartbeat Sync Orchestrator (§4.6, C6):
// the per-request logic gluing the Health Check Engine and the Primary
// Election State Machine together and producing the response envelope for
// a reporting VM.
package heartbeat

import (
	"context"
	"time"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/election"
	"github.com/openshift/autoscale-core/internal/health"
	"github.com/openshift/autoscale-core/internal/metrics"
	"github.com/openshift/autoscale-core/internal/platform"
	"github.com/openshift/autoscale-core/internal/proxy"
	"github.com/openshift/autoscale-core/internal/settings"
)

// Orchestrator wires the platform/proxy adapters and settings registry
// together to run one heartbeat request to completion.
type Orchestrator struct {
	Adapter  platform.Adapter
	Proxy    proxy.Adapter
	Settings *settings.Registry
	// Now returns ms since epoch; overridable for deterministic tests.
	Now func() int64
}

func (o *Orchestrator) now() int64 {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UnixMilli()
}

// Handle runs the algorithm described in §4.6 for one HeartbeatSync
// request and returns the response the dispatcher should render.
func (o *Orchestrator) Handle(ctx context.Context, req fleet.RequestInfo) (Response, error) {
	// Step 1: resolve self.
	selfVm, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.VirtualMachine, error) {
		return o.Adapter.GetTargetVm(ctx, req.InstanceID)
	})
	if err != nil {
		return Response{}, err
	}
	if selfVm == nil {
		return Response{Status: 403, Body: "Instance id not provided"}, nil
	}

	// Step 2: VPC/virtual-network authorization check.
	if vpc := o.Settings.VirtualNetworkID(); vpc != "" && selfVm.VirtualNetworkID != vpc {
		return Response{}, autoscaleerrors.ErrUnauthorized
	}

	primaryScalingGroup := o.Settings.MasterScalingGroupName()

	// Step 3: load self health; out-of-sync absorbs (§8) — no mutation,
	// no election, no master-ip, an immediate no-op response.
	selfHealth, err := getHealthCheckRecord(ctx, o.Adapter, selfVm.VmID)
	if err != nil {
		return Response{}, err
	}
	if selfHealth != nil && health.IsOutOfSync(*selfHealth) {
		return Response{Status: 200, Body: ""}, nil
	}

	// Step 4: load primary VM + its health.
	primaryVm, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.VirtualMachine, error) {
		return o.Adapter.GetMasterVm(ctx)
	})
	if err != nil {
		return Response{}, err
	}
	var primaryHealth *fleet.HealthCheckRecord
	if primaryVm != nil {
		primaryHealth, err = getHealthCheckRecord(ctx, o.Adapter, primaryVm.VmID)
		if err != nil {
			return Response{}, err
		}
	}

	isSelfPrimary := primaryVm != nil && o.Adapter.VmEquals(selfVm, primaryVm) && selfVm.ScalingGroupName == primaryScalingGroup

	// Step 5: primary self-reporting is the single source of truth.
	if isSelfPrimary && primaryHealth != nil {
		h := *primaryHealth
		selfHealth = &h
	}

	selfWasUnhealthy := selfHealth != nil && !selfHealth.Healthy
	primaryMissingOrUnhealthy := primaryVm == nil || (primaryHealth != nil && !primaryHealth.Healthy) || primaryHealth == nil

	var lifecycleShouldAbandon bool
	newPrimaryVm := primaryVm
	var electionRecord *fleet.PrimaryRecord

	// Steps 6-8: election check, unless self is already unhealthy.
	if !selfWasUnhealthy {
		if primaryMissingOrUnhealthy {
			result, err := election.Run(ctx, o.Adapter, o.Proxy, election.Params{
				Self:                    selfVm,
				PrimaryScalingGroupName: primaryScalingGroup,
				ElectionTimeoutSec:      o.Settings.MasterElectionTimeoutSec(),
				NoWait:                  o.Settings.MasterElectionNoWait(),
				PrimaryUnhealthy:        primaryVm != nil && (primaryHealth == nil || !primaryHealth.Healthy),
				Now:                     o.now,
			})
			if err != nil {
				return Response{}, err
			}
			metrics.ElectionOutcomeTotal.WithLabelValues(string(result.Outcome)).Inc()

			switch result.Outcome {
			case election.OutcomeTimedOut:
				// §4.5 step 4 timeout path: remove self from monitor and
				// terminate; caller is responsible for recovery.
				if selfHealth != nil {
					_ = autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
						return o.Adapter.DeleteHealthCheckRecord(ctx, selfVm.VmID)
					})
				}
				if err := deleteVm(ctx, o.Adapter, selfVm); err != nil {
					return Response{}, err
				}
				return Response{Status: 500, Body: "election timed out; instance terminating"}, nil

			case election.OutcomeFinalizeFailed:
				// §4.6 step 8: finalize failed, purge and abandon.
				if result.Record != nil {
					if err := election.Purge(ctx, o.Adapter, *result.Record); err != nil {
						return Response{}, err
					}
				}
				lifecycleShouldAbandon = true
				electionRecord = nil

			case election.OutcomeBecamePrimary:
				electionRecord = result.Record
				newPrimaryVm = selfVm

			case election.OutcomeOtherPrimary:
				electionRecord = result.Record
				if result.Record != nil {
					if vm, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.VirtualMachine, error) {
						return o.Adapter.DescribeVm(ctx, platform.VmDescriptor{VmID: result.Record.VmID})
					}); err == nil {
						newPrimaryVm = vm
					}
				}

			case election.OutcomeNoWait:
				electionRecord = result.Record
			}
		}
	}

	becameNewPrimary := newPrimaryVm != nil && newPrimaryVm.VmID == selfVm.VmID && newPrimaryVm.ScalingGroupName == primaryScalingGroup

	// Step 9: first-ever heartbeat for this VM.
	if selfHealth == nil {
		if err := completeLifecycle(ctx, o.Adapter, selfVm.VmID, "get-config", lifecycleShouldAbandon); err != nil {
			return Response{}, err
		}

		masterIP := ""
		if newPrimaryVm != nil {
			masterIP = newPrimaryVm.PrimaryPrivateIP
		}
		if electionRecord != nil && electionRecord.VoteState == fleet.VoteStatePending && o.Settings.MasterElectionNoWait() {
			masterIP = ""
		}

		interval := req.Interval
		if interval == fleet.UseExistingInterval || interval <= 0 {
			interval = o.Settings.HeartbeatIntervalSec()
		}

		record := fleet.HealthCheckRecord{
			SchemaVersion:      fleet.SchemaVersion,
			VmID:               selfVm.VmID,
			ScalingGroupName:   selfVm.ScalingGroupName,
			IP:                 selfVm.PrimaryPrivateIP,
			PrimaryIP:          masterIP,
			HeartbeatInterval:  interval,
			NextHeartbeatTime:  o.now() + int64(interval)*1000,
			SyncState:          fleet.SyncStateInSync,
			Healthy:            true,
			UpToDate:           true,
		}
		if err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
			return o.Adapter.CreateHealthCheckRecord(ctx, record)
		}); err != nil {
			return Response{}, err
		}

		if becameNewPrimary {
			if err := o.Settings.Set(ctx, fleet.SettingItem{
				Key:   fleet.SettingFortiGateDefaultPassword,
				Value: selfVm.VmID,
			}); err != nil {
				return Response{}, err
			}
		}

		// A VM reporting in for the first time already knows its own
		// address, so becoming primary itself yields no news; learning of
		// a distinct primary does (§8 scenario 2).
		if !becameNewPrimary && masterIP != "" {
			return Response{Status: 200, Body: encodeMasterIP(masterIP)}, nil
		}
		return Response{Status: 200, Body: ""}, nil
	}

	// Steps 10-11: an existing, healthy-or-unhealthy self health record.
	if selfHealth.Healthy {
		params := health.Params{
			MaxLossCount:          o.Settings.HeartbeatLossCount(),
			DelayAllowanceSec:     o.Settings.HeartbeatDelayAllowanceSec(),
			MaxSyncRecoveryCount:  3,
		}

		interval := req.Interval
		if interval == fleet.UseExistingInterval || interval <= 0 {
			interval = selfHealth.HeartbeatInterval
		}

		before := *selfHealth
		before.HeartbeatInterval = interval

		updated, classification := health.Classify(before, o.now(), params)
		metrics.HeartbeatClassificationTotal.WithLabelValues(string(classification)).Inc()

		oldMasterIP := updated.PrimaryIP
		newMasterIP := oldMasterIP
		if newPrimaryVm != nil {
			newMasterIP = newPrimaryVm.PrimaryPrivateIP
		}
		updated.PrimaryIP = newMasterIP

		if updated.SyncState == fleet.SyncStateOutOfSync {
			if err := updateHealthCheckRecord(ctx, o.Adapter, updated); err != nil {
				return Response{}, err
			}
			if err := deleteVm(ctx, o.Adapter, selfVm); err != nil {
				return Response{}, err
			}
			return Response{Status: 200, Body: encodeShutdown()}, nil
		}

		if err := updateHealthCheckRecord(ctx, o.Adapter, updated); err != nil {
			return Response{}, err
		}

		if newMasterIP != oldMasterIP {
			return Response{Status: 200, Body: encodeMasterIP(newMasterIP)}, nil
		}
		return Response{Status: 200, Body: ""}, nil
	}

	// selfHealth exists and is unhealthy (§4.6 step 11).
	if selfHealth.SyncState == fleet.SyncStateInSync {
		selfHealth.SyncState = fleet.SyncStateOutOfSync
		if err := updateHealthCheckRecord(ctx, o.Adapter, *selfHealth); err != nil {
			return Response{}, err
		}
	}
	if err := deleteVm(ctx, o.Adapter, selfVm); err != nil {
		return Response{}, err
	}
	return Response{Status: 200, Body: encodeShutdown()}, nil
}

func completeLifecycle(ctx context.Context, adapter platform.Adapter, vmID, action string, abandon bool) error {
	return autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return adapter.CompleteLifecycleAction(ctx, vmID, action, abandon)
	})
}

// getHealthCheckRecord, updateHealthCheckRecord, and deleteVm wrap the
// corresponding adapter calls in the transient-I/O retry policy (§7); they
// exist as named helpers because Handle calls each of them from more than
// one branch.
func getHealthCheckRecord(ctx context.Context, adapter platform.Adapter, vmID string) (*fleet.HealthCheckRecord, error) {
	return autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.HealthCheckRecord, error) {
		return adapter.GetHealthCheckRecord(ctx, vmID)
	})
}

func updateHealthCheckRecord(ctx context.Context, adapter platform.Adapter, r fleet.HealthCheckRecord) error {
	return autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return adapter.UpdateHealthCheckRecord(ctx, r)
	})
}

func deleteVm(ctx context.Context, adapter platform.Adapter, vm *fleet.VirtualMachine) error {
	return autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return adapter.DeleteVm(ctx, vm)
	})
}
