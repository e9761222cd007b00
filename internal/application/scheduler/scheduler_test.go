package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitehq/kite/internal/application/executor"
	"github.com/kitehq/kite/internal/domain"
	"github.com/kitehq/kite/internal/infrastructure/logging"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
)

func newTestOptions(t *testing.T, maxConcurrency int) Options {
	t.Helper()
	loggers := logging.NewManager(logging.ManagerOptions{
		Root:    t.TempDir(),
		Console: io.Discard,
	})
	observers := monitoring.NewObserverManager()
	return Options{
		Executor:       executor.NewSegmentExecutor(loggers, observers),
		Observers:      observers,
		MaxConcurrency: maxConcurrency,
	}
}

func testContext(t *testing.T) *domain.ExecutionContext {
	t.Helper()
	return &domain.ExecutionContext{
		Branch:      "main",
		CommitSha:   "abc123",
		Environment: map[string]string{},
		Workspace:   t.TempDir(),
	}
}

func sleeper(name string, d time.Duration, deps ...string) *domain.Segment {
	return &domain.Segment{
		Name:      name,
		DependsOn: deps,
		Execute: func(ctx context.Context, ec *domain.ExecutionContext) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

func failing(name string, deps ...string) *domain.Segment {
	return &domain.Segment{
		Name:      name,
		DependsOn: deps,
		Execute: func(ctx context.Context, ec *domain.ExecutionContext) error {
			return errors.New("boom")
		},
	}
}

func schedulers(t *testing.T, maxConcurrency int) map[string]Scheduler {
	return map[string]Scheduler{
		"sequential": NewSequentialScheduler(newTestOptions(t, maxConcurrency)),
		"parallel":   NewParallelScheduler(newTestOptions(t, maxConcurrency)),
	}
}

func TestEmptyInput(t *testing.T) {
	for name, s := range schedulers(t, 4) {
		t.Run(name, func(t *testing.T) {
			result := s.Schedule(context.Background(), nil, testContext(t))
			assert.Empty(t, result.Results)
			assert.Zero(t, result.FailureCount())
			assert.Zero(t, result.TotalDuration)
		})
	}
}

func TestLinearChainAllSucceed(t *testing.T) {
	segments := []*domain.Segment{
		sleeper("a", 10*time.Millisecond),
		sleeper("b", 10*time.Millisecond, "a"),
		sleeper("c", 10*time.Millisecond, "b"),
	}
	s := NewParallelScheduler(newTestOptions(t, 4))
	result := s.Schedule(context.Background(), segments, testContext(t))

	require.Len(t, result.Results, 3)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, domain.StatusSuccess, result.Results[name].Status, name)
	}
	assert.GreaterOrEqual(t, result.ExecutionTime, 30*time.Millisecond)
	assert.GreaterOrEqual(t, result.TotalDuration, 30*time.Millisecond)
	assert.True(t, result.IsSuccess())
}

func TestIndependentTripleRunsConcurrently(t *testing.T) {
	segments := []*domain.Segment{
		sleeper("a", 100*time.Millisecond),
		sleeper("b", 100*time.Millisecond),
		sleeper("c", 100*time.Millisecond),
	}
	s := NewParallelScheduler(newTestOptions(t, 3))
	result := s.Schedule(context.Background(), segments, testContext(t))

	require.Len(t, result.Results, 3)
	for name, r := range result.Results {
		assert.Equal(t, domain.StatusSuccess, r.Status, name)
	}
	assert.Less(t, result.ExecutionTime, 300*time.Millisecond)
}

func TestCascadingSkip(t *testing.T) {
	for name, s := range schedulers(t, 4) {
		t.Run(name, func(t *testing.T) {
			segments := []*domain.Segment{
				failing("a"),
				sleeper("b", time.Millisecond, "a"),
				sleeper("c", time.Millisecond),
			}
			result := s.Schedule(context.Background(), segments, testContext(t))

			assert.Equal(t, domain.StatusFailure, result.Results["a"].Status)
			assert.Equal(t, domain.StatusSkipped, result.Results["b"].Status)
			assert.Contains(t, result.Results["b"].Message, "dependency")
			assert.Equal(t, domain.StatusSuccess, result.Results["c"].Status)
			assert.Equal(t, 1, result.FailureCount())
			assert.Equal(t, 1, result.SkippedCount())
			assert.False(t, result.IsSuccess())
		})
	}
}

func TestSkipCascadesTransitively(t *testing.T) {
	for name, s := range schedulers(t, 4) {
		t.Run(name, func(t *testing.T) {
			segments := []*domain.Segment{
				failing("a"),
				sleeper("b", time.Millisecond, "a"),
				sleeper("c", time.Millisecond, "b"),
			}
			result := s.Schedule(context.Background(), segments, testContext(t))
			assert.Equal(t, domain.StatusSkipped, result.Results["b"].Status)
			assert.Equal(t, domain.StatusSkipped, result.Results["c"].Status)
		})
	}
}

func TestCycleProducesNoPartialExecution(t *testing.T) {
	for name, s := range schedulers(t, 4) {
		t.Run(name, func(t *testing.T) {
			ran := int32(0)
			body := func(ctx context.Context, ec *domain.ExecutionContext) error {
				atomic.AddInt32(&ran, 1)
				return nil
			}
			segments := []*domain.Segment{
				{Name: "a", DependsOn: []string{"b"}, Execute: body},
				{Name: "b", DependsOn: []string{"a"}, Execute: body},
			}
			result := s.Schedule(context.Background(), segments, testContext(t))

			require.Len(t, result.Results, 2)
			for _, r := range result.Results {
				assert.Equal(t, domain.StatusSkipped, r.Status)
				assert.Contains(t, r.Error, "cyclic")
			}
			assert.Zero(t, atomic.LoadInt32(&ran))
		})
	}
}

func TestValidationFailureSkipsEverything(t *testing.T) {
	for name, s := range schedulers(t, 4) {
		t.Run(name, func(t *testing.T) {
			segments := []*domain.Segment{
				sleeper("a", time.Millisecond),
				sleeper("b", time.Millisecond, "ghost"),
			}
			result := s.Schedule(context.Background(), segments, testContext(t))
			require.Len(t, result.Results, 2)
			for _, r := range result.Results {
				assert.Equal(t, domain.StatusSkipped, r.Status)
				assert.Contains(t, r.Error, "validation failed")
			}
		})
	}
}

func TestResultSetMatchesInputByName(t *testing.T) {
	for name, s := range schedulers(t, 2) {
		t.Run(name, func(t *testing.T) {
			segments := []*domain.Segment{
				sleeper("a", time.Millisecond),
				failing("b"),
				sleeper("c", time.Millisecond, "b"),
				{Name: "d", Condition: func(ctx *domain.ExecutionContext) (bool, error) { return false, nil }},
			}
			result := s.Schedule(context.Background(), segments, testContext(t))
			require.Len(t, result.Results, len(segments))
			for _, seg := range segments {
				r, ok := result.Results[seg.Name]
				require.True(t, ok, seg.Name)
				assert.True(t, r.Status.IsTerminal())
			}
		})
	}
}

func TestDependenciesSucceededForEverySuccess(t *testing.T) {
	for name, s := range schedulers(t, 3) {
		t.Run(name, func(t *testing.T) {
			segments := []*domain.Segment{
				sleeper("root", time.Millisecond),
				failing("flaky"),
				sleeper("x", time.Millisecond, "root"),
				sleeper("y", time.Millisecond, "root", "flaky"),
				sleeper("z", time.Millisecond, "x"),
			}
			result := s.Schedule(context.Background(), segments, testContext(t))
			for _, seg := range segments {
				r := result.Results[seg.Name]
				if r.Status != domain.StatusSuccess {
					continue
				}
				for _, dep := range seg.DependsOn {
					assert.Equal(t, domain.StatusSuccess, result.Results[dep].Status,
						"dependency %s of successful %s", dep, seg.Name)
				}
			}
		})
	}
}

func TestMaxConcurrencyCap(t *testing.T) {
	const limit = 3
	var active, peak int32
	var mu sync.Mutex

	segments := make([]*domain.Segment, 0, 10)
	for i := 0; i < 10; i++ {
		segments = append(segments, &domain.Segment{
			Name: string(rune('a' + i)),
			Execute: func(ctx context.Context, ec *domain.ExecutionContext) error {
				current := atomic.AddInt32(&active, 1)
				mu.Lock()
				if current > peak {
					peak = current
				}
				mu.Unlock()
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			},
		})
	}

	s := NewParallelScheduler(newTestOptions(t, limit))
	result := s.Schedule(context.Background(), segments, testContext(t))

	require.Len(t, result.Results, 10)
	assert.Zero(t, result.FailureCount())
	mu.Lock()
	observed := peak
	mu.Unlock()
	assert.LessOrEqual(t, observed, int32(limit))
	// ceil(10/3) waves of 50ms each.
	assert.GreaterOrEqual(t, result.ExecutionTime, 4*50*time.Millisecond)
}

func TestConditionSkipDoesNotSatisfyDependents(t *testing.T) {
	for name, s := range schedulers(t, 4) {
		t.Run(name, func(t *testing.T) {
			segments := []*domain.Segment{
				{
					Name:      "gate",
					Condition: func(ctx *domain.ExecutionContext) (bool, error) { return false, nil },
					Execute:   func(ctx context.Context, ec *domain.ExecutionContext) error { return nil },
				},
				sleeper("after", time.Millisecond, "gate"),
			}
			result := s.Schedule(context.Background(), segments, testContext(t))
			assert.Equal(t, domain.StatusSkipped, result.Results["gate"].Status)
			assert.Equal(t, domain.StatusSkipped, result.Results["after"].Status)
			assert.Contains(t, result.Results["after"].Message, "dependency")
		})
	}
}

func TestParallelDefaultsToCPUCount(t *testing.T) {
	s := NewParallelScheduler(newTestOptions(t, 0))
	assert.Positive(t, s.MaxConcurrency())
}
