package autoscaleerrors

import utilerrors "k8s.io/apimachinery/pkg/util/errors"

// NewAggregate collects zero or more errors encountered during a fan-out
// step (e.g. the license package's three concurrent listings, or
// resourceapply.ApplySettings writing several rows) into a single error, the same
// way pkg/controller/machinehealthcheck accumulates per-target errors
// before returning from Reconcile. Returns nil if errs is empty or every
// entry is nil.
func NewAggregate(errs []error) error {
	return utilerrors.NewAggregate(errs)
}
