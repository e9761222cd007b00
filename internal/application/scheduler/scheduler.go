package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kitehq/kite/internal/application/executor"
	"github.com/kitehq/kite/internal/domain"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
)

// Scheduler turns a segment set into a complete result map, honoring
// dependencies, conditions, and the cascading-skip rules. The sequential and
// parallel strategies are interchangeable behind this interface.
type Scheduler interface {
	Schedule(ctx context.Context, segments []*domain.Segment, execCtx *domain.ExecutionContext) *domain.SchedulerResult
}

// Options configures a scheduler.
type Options struct {
	// Executor runs individual segments. Required.
	Executor *executor.SegmentExecutor
	// Observers receives lifecycle notifications. Optional.
	Observers *monitoring.ObserverManager
	// MaxConcurrency caps concurrent segments for the parallel strategy.
	// Zero means the host logical CPU count.
	MaxConcurrency int
}

// validateForScheduling runs config-time segment validation plus the three
// graph checks. Any error prevents execution entirely.
func validateForScheduling(graph *SegmentGraph, segments []*domain.Segment) *ValidationResult {
	result := &ValidationResult{Valid: true}
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	graphResult := graph.Validate()
	result.Errors = append(result.Errors, graphResult.Errors...)
	result.Valid = len(result.Errors) == 0
	return result
}

// allSkipped builds the result used when validation fails: every input
// segment is SKIPPED with a message referencing the first validation error.
func allSkipped(segments []*domain.Segment, validation *ValidationResult, start time.Time) *domain.SchedulerResult {
	message := "validation failed"
	if len(validation.Errors) > 0 {
		message = fmt.Sprintf("validation failed: %s", validation.Errors[0])
	}
	results := make(map[string]*domain.SegmentResult, len(segments))
	for _, seg := range segments {
		results[seg.Name] = &domain.SegmentResult{
			Segment: seg,
			Status:  domain.StatusSkipped,
			Message: message,
			Error:   message,
		}
	}
	return &domain.SchedulerResult{
		InvocationID:  uuid.New().String(),
		Results:       results,
		ExecutionTime: time.Since(start),
	}
}

// allFailed builds the result used when the sort uncovers a cycle that
// slipped past validation: every segment is FAILURE with the cycle message.
func allFailed(segments []*domain.Segment, err error, start time.Time) *domain.SchedulerResult {
	results := make(map[string]*domain.SegmentResult, len(segments))
	for _, seg := range segments {
		results[seg.Name] = &domain.SegmentResult{
			Segment: seg,
			Status:  domain.StatusFailure,
			Error:   err.Error(),
			Cause:   err,
		}
	}
	return &domain.SchedulerResult{
		InvocationID:  uuid.New().String(),
		Results:       results,
		ExecutionTime: time.Since(start),
	}
}

// emptyResult is returned for an empty segment list: zero duration, no
// entries, not an error.
func emptyResult() *domain.SchedulerResult {
	return &domain.SchedulerResult{
		InvocationID: uuid.New().String(),
		Results:      make(map[string]*domain.SegmentResult),
	}
}

// dependencyGate checks the terminal results of a segment's dependencies.
// A segment is skipped if any dependency's status is not SUCCESS, including
// dependencies that were themselves skipped; the cascade is total.
func dependencyGate(segment *domain.Segment, lookup func(name string) (*domain.SegmentResult, bool)) (string, bool) {
	for _, dep := range segment.DependsOn {
		result, ok := lookup(dep)
		if !ok {
			return fmt.Sprintf("dependency %q has no result", dep), false
		}
		if result.Status != domain.StatusSuccess {
			return fmt.Sprintf("dependency %q failed or was skipped (%s)", dep, result.Status), false
		}
	}
	return "", true
}

// skippedResult builds a SKIPPED result with the given reason. Lifecycle
// hooks do not fire for scheduler-level skips.
func skippedResult(segment *domain.Segment, reason string) *domain.SegmentResult {
	return &domain.SegmentResult{
		Segment: segment,
		Status:  domain.StatusSkipped,
		Message: reason,
	}
}

// sumDurations adds up per-segment durations for the aggregate.
func sumDurations(results map[string]*domain.SegmentResult) time.Duration {
	var total time.Duration
	for _, r := range results {
		total += r.Duration
	}
	return total
}
