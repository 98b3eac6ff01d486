// Package bootstrap defines the Bootstrap Strategy capability the Request
// Dispatcher delegates to for BootstrapConfig requests: given the settings
// registry and the resolved primary VM, produce the configuration text body
// a newly-launched VM should apply. The core ships one trivial default
// implementation; a real deployment supplies its own (a templating engine,
// a cloud-init renderer, whatever its VM image expects) without the core
// needing to know which.
package bootstrap

import (
	"context"
	"fmt"
	"sort"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
)

// Strategy renders the configuration body handed back to a VM that just
// completed primary election during bootstrap (§4.8 BootstrapConfig).
type Strategy interface {
	Render(ctx context.Context, self *fleet.VirtualMachine, primary *fleet.VirtualMachine, settings fleet.Settings) (string, error)
}

// KeyValueStrategy is the default Strategy: a deterministic `key=value`
// rendering of the settings table, plus the resolved primary's address.
// It exists so the dispatcher's BootstrapConfig path is exercisable without
// a templating dependency; real deployments are expected to replace it.
type KeyValueStrategy struct{}

func (KeyValueStrategy) Render(ctx context.Context, self *fleet.VirtualMachine, primary *fleet.VirtualMachine, settings fleet.Settings) (string, error) {
	items := make([]fleet.SettingItem, len(settings))
	copy(items, settings)
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	out := ""
	for _, item := range items {
		out += fmt.Sprintf("%s=%s\n", item.Key, item.Value)
	}
	if primary != nil {
		out += fmt.Sprintf("master-ip=%s\n", primary.PrimaryPrivateIP)
	}
	return out, nil
}
