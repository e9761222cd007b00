package executor

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/kitehq/kite/internal/domain"
	kerrors "github.com/kitehq/kite/internal/domain/errors"
)

// ConditionEvaluator evaluates segment conditions. Predicate functions are
// invoked directly; expression-string conditions are compiled once and
// cached, then run against the execution context variables.
type ConditionEvaluator struct {
	mu       sync.RWMutex
	compiled map[string]*vm.Program
}

// NewConditionEvaluator creates an evaluator with an empty compile cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		compiled: make(map[string]*vm.Program),
	}
}

// ShouldRun decides whether a segment's condition permits execution. A
// segment without a condition always runs. The predicate form wins over the
// expression form when both are set.
func (ce *ConditionEvaluator) ShouldRun(segment *domain.Segment, ctx *domain.ExecutionContext) (bool, error) {
	if segment.Condition != nil {
		return segment.Condition(ctx)
	}
	if segment.ConditionExpr != "" {
		return ce.EvaluateExpr(segment.ConditionExpr, ConditionVariables(ctx))
	}
	return true, nil
}

// EvaluateExpr evaluates a boolean expression against the given variables.
func (ce *ConditionEvaluator) EvaluateExpr(condition string, variables map[string]any) (bool, error) {
	program, err := ce.compile(condition)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, variables)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}

	value, ok := result.(bool)
	if !ok {
		return false, kerrors.NewValidationError("condition",
			fmt.Sprintf("condition %q did not return a boolean, got %T", condition, result))
	}
	return value, nil
}

// ConditionVariables builds the expression environment from an execution
// context: branch, commitSha, workspace, ci, and the environment map.
func ConditionVariables(ctx *domain.ExecutionContext) map[string]any {
	env := make(map[string]string, len(ctx.Environment))
	for k, v := range ctx.Environment {
		env[k] = v
	}
	return map[string]any{
		"branch":    ctx.Branch,
		"commitSha": ctx.CommitSha,
		"workspace": ctx.Workspace,
		"ci":        ctx.IsCI(),
		"env":       env,
	}
}

func (ce *ConditionEvaluator) compile(condition string) (*vm.Program, error) {
	ce.mu.RLock()
	program, cached := ce.compiled[condition]
	ce.mu.RUnlock()
	if cached {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.Env(map[string]any{}), expr.AsBool())
	if err != nil {
		// Compile again without the typed environment so expressions can
		// reference variables the static env does not declare.
		program, err = expr.Compile(condition, expr.AsBool())
		if err != nil {
			return nil, kerrors.NewValidationError("condition",
				fmt.Sprintf("failed to compile condition %q: %v", condition, err))
		}
	}

	ce.mu.Lock()
	ce.compiled[condition] = program
	ce.mu.Unlock()
	return program, nil
}
