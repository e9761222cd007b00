package domain

import (
	kerrors "github.com/kitehq/kite/internal/domain/errors"
)

// Ride is a named composition of segments expressed as a flow tree, with
// optional global environment overrides and a concurrency cap.
type Ride struct {
	// Name uniquely identifies the ride. Must be non-blank.
	Name string

	// Description is an optional human-readable summary.
	Description string

	// Flow is the root of the composition tree.
	Flow *FlowNode

	// Env holds ride-level environment overrides applied to every segment.
	Env map[string]string

	// MaxConcurrency caps concurrent segment execution for the parallel
	// scheduler. Zero means the host logical CPU count; negative is invalid.
	MaxConcurrency int

	// OnFailure is a collaborator hook the caller invokes when the aggregate
	// result is not successful. The scheduler itself never calls it.
	OnFailure func(result *SchedulerResult)
}

// Validate checks the config-time invariants of a ride definition.
func (r *Ride) Validate() error {
	if isBlank(r.Name) {
		return kerrors.NewValidationError("name", "ride name must not be blank")
	}
	if r.MaxConcurrency < 0 {
		return kerrors.NewValidationError("maxConcurrency", "must be positive when set")
	}
	if r.Flow == nil {
		return kerrors.NewValidationError("flow", "ride must have a flow")
	}
	return r.Flow.Validate()
}
