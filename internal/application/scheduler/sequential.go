package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kitehq/kite/internal/application/executor"
	"github.com/kitehq/kite/internal/domain"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
)

// SequentialScheduler executes segments one at a time in topological order.
// It is the fallback strategy for debugging and for segments that capture
// process-wide standard streams.
type SequentialScheduler struct {
	executor  *executor.SegmentExecutor
	observers *monitoring.ObserverManager
}

// NewSequentialScheduler creates a sequential scheduler.
func NewSequentialScheduler(opts Options) *SequentialScheduler {
	return &SequentialScheduler{
		executor:  opts.Executor,
		observers: opts.Observers,
	}
}

// Schedule runs every segment in dependency order. Graph-validation errors
// abort scheduling with an all-SKIPPED result; a cycle surfacing at sort
// time produces all-FAILURE. Otherwise each segment passes the condition
// gate, then the dependency gate, then executes.
func (s *SequentialScheduler) Schedule(ctx context.Context, segments []*domain.Segment, execCtx *domain.ExecutionContext) *domain.SchedulerResult {
	if len(segments) == 0 {
		return emptyResult()
	}
	start := time.Now()

	graph := NewSegmentGraph(segments)
	if validation := validateForScheduling(graph, segments); !validation.Valid {
		return allSkipped(segments, validation, start)
	}

	sorted, err := graph.TopologicalSort()
	if err != nil {
		return allFailed(segments, err, start)
	}

	results := make(map[string]*domain.SegmentResult, len(segments))
	for _, name := range sorted {
		segment, _ := graph.Node(name)
		results[name] = s.runOne(ctx, segment, execCtx, results)
	}

	return &domain.SchedulerResult{
		InvocationID:  uuid.New().String(),
		Results:       results,
		ExecutionTime: time.Since(start),
		TotalDuration: sumDurations(results),
	}
}

// runOne applies the per-segment dispatch rules: condition check first, then
// the dependency gate, then the executor.
func (s *SequentialScheduler) runOne(ctx context.Context, segment *domain.Segment, execCtx *domain.ExecutionContext, results map[string]*domain.SegmentResult) *domain.SegmentResult {
	ok, err := s.executor.ShouldRun(segment, execCtx)
	if err != nil {
		return &domain.SegmentResult{
			Segment: segment,
			Status:  domain.StatusFailure,
			Message: "condition evaluation failed",
			Error:   err.Error(),
			Cause:   err,
		}
	}
	if !ok {
		result := skippedResult(segment, "condition evaluated to false")
		s.observers.NotifySegmentSkipped(segment, result.Message)
		s.observers.NotifySegmentCompleted(segment, result)
		return result
	}

	if reason, passed := dependencyGate(segment, func(name string) (*domain.SegmentResult, bool) {
		r, found := results[name]
		return r, found
	}); !passed {
		result := skippedResult(segment, reason)
		s.observers.NotifySegmentSkipped(segment, reason)
		s.observers.NotifySegmentCompleted(segment, result)
		return result
	}

	return s.executor.Execute(ctx, segment, execCtx)
}

var _ Scheduler = (*SequentialScheduler)(nil)
