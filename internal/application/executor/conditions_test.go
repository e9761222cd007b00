package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitehq/kite/internal/domain"
)

func conditionContext() *domain.ExecutionContext {
	return &domain.ExecutionContext{
		Branch:      "main",
		CommitSha:   "abc123",
		Workspace:   "/tmp/ws",
		Environment: map[string]string{"DEPLOY_ENV": "staging"},
	}
}

func TestShouldRunDefaultsToTrue(t *testing.T) {
	ce := NewConditionEvaluator()
	ok, err := ce.ShouldRun(&domain.Segment{Name: "s"}, conditionContext())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShouldRunPredicateWinsOverExpr(t *testing.T) {
	ce := NewConditionEvaluator()
	seg := &domain.Segment{
		Name:          "s",
		Condition:     func(ctx *domain.ExecutionContext) (bool, error) { return false, nil },
		ConditionExpr: "true",
	}
	ok, err := ce.ShouldRun(seg, conditionContext())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExprConditions(t *testing.T) {
	ce := NewConditionEvaluator()
	ctx := conditionContext()

	cases := []struct {
		name string
		expr string
		want bool
	}{
		{"BranchMatch", `branch == "main"`, true},
		{"BranchMismatch", `branch == "release"`, false},
		{"EnvLookup", `env["DEPLOY_ENV"] == "staging"`, true},
		{"NotCI", `!ci`, true},
		{"Compound", `branch == "main" && env["DEPLOY_ENV"] != "production"`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seg := &domain.Segment{Name: "s", ConditionExpr: tc.expr}
			ok, err := ce.ShouldRun(seg, ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestExprCompileErrorSurfaces(t *testing.T) {
	ce := NewConditionEvaluator()
	seg := &domain.Segment{Name: "s", ConditionExpr: "branch =="}
	_, err := ce.ShouldRun(seg, conditionContext())
	assert.Error(t, err)
}

func TestCompileCacheReuse(t *testing.T) {
	ce := NewConditionEvaluator()
	ctx := conditionContext()
	seg := &domain.Segment{Name: "s", ConditionExpr: `branch == "main"`}
	for i := 0; i < 3; i++ {
		ok, err := ce.ShouldRun(seg, ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ce.mu.RLock()
	defer ce.mu.RUnlock()
	assert.Len(t, ce.compiled, 1)
}

func TestConditionVariablesExposeCI(t *testing.T) {
	ctx := conditionContext()
	ctx.Environment["CI"] = "true"
	vars := ConditionVariables(ctx)
	assert.Equal(t, true, vars["ci"])
	assert.Equal(t, "main", vars["branch"])
}
