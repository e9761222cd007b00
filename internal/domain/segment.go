package domain

import (
	"context"
	"time"

	kerrors "github.com/kitehq/kite/internal/domain/errors"
)

// ExecuteFunc is the body of a segment. It receives the cancellation context
// of the current attempt and the per-segment execution context, and returns
// an error on failure. The runner never inspects the body; it only invokes
// it. Bodies are expected to honor ctx at blocking points so per-segment
// timeouts can cancel them.
type ExecuteFunc func(ctx context.Context, ec *ExecutionContext) error

// ConditionFunc is a pure predicate deciding whether a segment should run.
type ConditionFunc func(ctx *ExecutionContext) (bool, error)

// SuccessHook runs after a segment reaches SUCCESS.
type SuccessHook func(ctx *ExecutionContext)

// FailureHook runs after a segment reaches its final FAILURE. It never runs
// for TIMEOUT or SKIPPED, and never per attempt.
type FailureHook func(ctx *ExecutionContext, err error)

// CompleteHook runs exactly once with the final status of a segment whose
// condition passed.
type CompleteHook func(ctx *ExecutionContext, status Status)

// Segment is an immutable definition of one unit of work. Segments are
// created by the configuration front-end before scheduling begins and are
// referenced by name from every layer.
type Segment struct {
	// Name uniquely identifies the segment. Must be non-blank.
	Name string

	// Description is an optional human-readable summary.
	Description string

	// DependsOn lists the segment names this segment waits for.
	DependsOn []string

	// Condition, when set, gates execution. A false result records SKIPPED
	// without firing any lifecycle hook.
	Condition ConditionFunc

	// ConditionExpr is an expression-language alternative to Condition,
	// evaluated over the execution context when Condition is nil.
	ConditionExpr string

	// Timeout bounds a single attempt. Zero means unbounded.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// RetryDelay is the wait between attempts.
	RetryDelay time.Duration

	// RetryOn gates retries to errors whose type or message contains one of
	// these substrings. Empty means retry on any non-timeout failure.
	RetryOn []string

	// Outputs maps artifact names to workspace-relative source paths
	// captured into the artifact store on success.
	Outputs map[string]string

	// Env holds per-segment environment overrides applied on top of the
	// context environment.
	Env map[string]string

	// OnSuccess fires iff the final status is SUCCESS.
	OnSuccess SuccessHook

	// OnFailure fires iff the final status is FAILURE.
	OnFailure FailureHook

	// OnComplete fires exactly once with the final status.
	OnComplete CompleteHook

	// Execute is the segment body.
	Execute ExecuteFunc
}

// Validate checks the config-time invariants of a segment definition.
// These errors prevent scheduling entirely.
func (s *Segment) Validate() error {
	if isBlank(s.Name) {
		return kerrors.NewValidationError("name", "segment name must not be blank")
	}
	if s.MaxRetries < 0 {
		return kerrors.NewValidationError("maxRetries", "must be >= 0")
	}
	if s.RetryDelay < 0 {
		return kerrors.NewValidationError("retryDelay", "must be >= 0")
	}
	if s.Timeout < 0 {
		return kerrors.NewValidationError("timeout", "must be positive when set")
	}
	for name, path := range s.Outputs {
		if isBlank(name) {
			return kerrors.NewValidationError("outputs", "artifact name must not be blank")
		}
		if isBlank(path) {
			return kerrors.NewValidationError("outputs", "artifact source path must not be blank for "+name)
		}
	}
	return nil
}

// MaxAttempts returns the total number of attempts the executor may consume.
func (s *Segment) MaxAttempts() int {
	return 1 + s.MaxRetries
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
