package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"github.com/kitehq/kite/internal/application/executor"
	"github.com/kitehq/kite/internal/domain"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
)

// ParallelScheduler executes segments level by level: all members of a
// level run concurrently, gated by a global semaphore, and the level is
// awaited before the next one starts. Because level k+1 only starts after
// every level-k segment has a terminal result in the concurrent map,
// dependency lookups are race-free; segments within a level cannot depend
// on each other by construction.
type ParallelScheduler struct {
	executor       *executor.SegmentExecutor
	observers      *monitoring.ObserverManager
	maxConcurrency int
}

// NewParallelScheduler creates a parallel scheduler. A non-positive
// MaxConcurrency defaults to the host logical CPU count.
func NewParallelScheduler(opts Options) *ParallelScheduler {
	max := opts.MaxConcurrency
	if max <= 0 {
		max = runtime.NumCPU()
	}
	return &ParallelScheduler{
		executor:       opts.Executor,
		observers:      opts.Observers,
		maxConcurrency: max,
	}
}

// MaxConcurrency returns the effective concurrency cap.
func (s *ParallelScheduler) MaxConcurrency() int {
	return s.maxConcurrency
}

// Schedule validates the graph, groups segments into parallel levels, and
// drives them level by level. No lock is held while a user execute body
// runs; results are written exactly once per segment into a concurrent map.
func (s *ParallelScheduler) Schedule(ctx context.Context, segments []*domain.Segment, execCtx *domain.ExecutionContext) *domain.SchedulerResult {
	if len(segments) == 0 {
		return emptyResult()
	}
	start := time.Now()

	graph := NewSegmentGraph(segments)
	if validation := validateForScheduling(graph, segments); !validation.Valid {
		return allSkipped(segments, validation, start)
	}

	levels, err := graph.Levels()
	if err != nil {
		return allFailed(segments, err, start)
	}

	results := xsync.NewMapOf[string, *domain.SegmentResult]()
	sem := semaphore.NewWeighted(int64(s.maxConcurrency))

	for _, level := range levels {
		var wg sync.WaitGroup
		for _, name := range level {
			segment, _ := graph.Node(name)
			wg.Add(1)
			go func(segment *domain.Segment) {
				defer wg.Done()
				results.Store(segment.Name, s.runOne(ctx, segment, execCtx, results, sem))
			}(segment)
		}
		wg.Wait()
	}

	final := make(map[string]*domain.SegmentResult, len(segments))
	results.Range(func(name string, result *domain.SegmentResult) bool {
		final[name] = result
		return true
	})

	return &domain.SchedulerResult{
		InvocationID:  uuid.New().String(),
		Results:       final,
		ExecutionTime: time.Since(start),
		TotalDuration: sumDurations(final),
	}
}

// runOne mirrors the sequential dispatch rules inside a level: condition
// check, dependency check against the results accumulated so far, then the
// executor under the concurrency semaphore.
func (s *ParallelScheduler) runOne(ctx context.Context, segment *domain.Segment, execCtx *domain.ExecutionContext, results *xsync.MapOf[string, *domain.SegmentResult], sem *semaphore.Weighted) *domain.SegmentResult {
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

	if reason, passed := dependencyGate(segment, results.Load); !passed {
		result := skippedResult(segment, reason)
		s.observers.NotifySegmentSkipped(segment, reason)
		s.observers.NotifySegmentCompleted(segment, result)
		return result
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return &domain.SegmentResult{
			Segment: segment,
			Status:  domain.StatusFailure,
			Error:   err.Error(),
			Cause:   err,
		}
	}
	defer sem.Release(1)

	return s.executor.Execute(ctx, segment, execCtx)
}

var _ Scheduler = (*ParallelScheduler)(nil)
