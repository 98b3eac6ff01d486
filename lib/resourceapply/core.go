// Package resourceapply provides idempotent get-or-create/update-if-changed
// helpers, adapted from the teacher's ApplyService/ApplyMachineSet/ApplyCluster
// trio (which applied a desired Kubernetes object against a live apiserver,
// updating only when the existing object differs). Here the "apiserver" is
// the Platform Adapter's settings table, the one CRUD surface in §4.1 that
// is a plain get/create/update rather than one already carrying its own CAS
// contract (HealthCheckRecord and PrimaryRecord have theirs built directly
// into the adapter interface).
package resourceapply

import (
	"context"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/platform"
)

// ApplySetting ensures the platform adapter's settings table holds required,
// writing through only if no row exists yet or the existing row differs.
// Returns the row now in effect and whether a write was performed.
func ApplySetting(ctx context.Context, adapter platform.Adapter, required fleet.SettingItem) (fleet.SettingItem, bool, error) {
	existing, ok, err := getSetting(ctx, adapter, required.Key)
	if err != nil {
		return fleet.SettingItem{}, false, err
	}
	if !ok {
		if err := adapter.SetSettingItem(ctx, required); err != nil {
			return fleet.SettingItem{}, false, err
		}
		return required, true, nil
	}

	if existing == required {
		return existing, false, nil
	}

	if err := adapter.SetSettingItem(ctx, required); err != nil {
		return fleet.SettingItem{}, false, err
	}
	return required, true, nil
}

// ApplySettings runs ApplySetting for each of required, aggregating errors
// the way the teacher's operator sync loop aggregates per-resource apply
// failures instead of aborting on the first one.
func ApplySettings(ctx context.Context, adapter platform.Adapter, required []fleet.SettingItem) ([]fleet.SettingItem, error) {
	applied := make([]fleet.SettingItem, 0, len(required))
	var errs []error
	for _, item := range required {
		result, _, err := ApplySetting(ctx, adapter, item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, result)
	}
	if len(errs) > 0 {
		return applied, autoscaleerrors.NewAggregate(errs)
	}
	return applied, nil
}

func getSetting(ctx context.Context, adapter platform.Adapter, key string) (fleet.SettingItem, bool, error) {
	table, err := adapter.GetSettings(ctx)
	if err != nil {
		return fleet.SettingItem{}, false, err
	}
	for _, item := range table {
		if item.Key == key {
			return item, true, nil
		}
	}
	return fleet.SettingItem{}, false, nil
}
