package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/kitehq/kite/internal/domain"
	kerrors "github.com/kitehq/kite/internal/domain/errors"
	"github.com/kitehq/kite/internal/infrastructure/logging"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
)

// SegmentExecutor runs one segment through its state machine: condition
// check, attempt loop with per-attempt timeout, artifact capture, and hook
// dispatch with at-most-once semantics per terminal state.
type SegmentExecutor struct {
	loggers    *logging.Manager
	observers  *monitoring.ObserverManager
	conditions *ConditionEvaluator
}

// NewSegmentExecutor creates a segment executor. The logger manager is
// required; the observer manager may be nil.
func NewSegmentExecutor(loggers *logging.Manager, observers *monitoring.ObserverManager) *SegmentExecutor {
	return &SegmentExecutor{
		loggers:    loggers,
		observers:  observers,
		conditions: NewConditionEvaluator(),
	}
}

// ShouldRun evaluates the segment's condition against the context.
func (e *SegmentExecutor) ShouldRun(segment *domain.Segment, ctx *domain.ExecutionContext) (bool, error) {
	return e.conditions.ShouldRun(segment, ctx)
}

// Execute runs the segment now and returns its terminal result. The caller
// is responsible for dependency gating; Execute handles the condition, the
// attempt loop, retries, timeouts, outputs, and hooks.
func (e *SegmentExecutor) Execute(ctx context.Context, segment *domain.Segment, execCtx *domain.ExecutionContext) *domain.SegmentResult {
	start := time.Now()

	ok, err := e.ShouldRun(segment, execCtx)
	if err != nil {
		// A broken condition means the segment never passed its gate, so no
		// lifecycle hook fires.
		return &domain.SegmentResult{
			Segment:  segment,
			Status:   domain.StatusFailure,
			Message:  "condition evaluation failed",
			Error:    err.Error(),
			Cause:    err,
			Duration: time.Since(start),
		}
	}
	if !ok {
		result := &domain.SegmentResult{
			Segment:  segment,
			Status:   domain.StatusSkipped,
			Message:  "condition evaluated to false",
			Duration: time.Since(start),
		}
		e.observers.NotifySegmentSkipped(segment, result.Message)
		e.observers.NotifySegmentCompleted(segment, result)
		return result
	}

	logger, err := e.loggers.Start(segment.Name)
	if err != nil {
		return &domain.SegmentResult{
			Segment:  segment,
			Status:   domain.StatusFailure,
			Error:    fmt.Sprintf("failed to create segment logger: %v", err),
			Cause:    err,
			Duration: time.Since(start),
		}
	}
	defer e.loggers.Stop(segment.Name)

	segCtx := execCtx.WithLogger(logger)
	if len(segment.Env) > 0 {
		env := make(map[string]string, len(segCtx.Environment)+len(segment.Env))
		for k, v := range segCtx.Environment {
			env[k] = v
		}
		for k, v := range segment.Env {
			env[k] = v
		}
		segCtx.Environment = env
	}
	result := e.runAttempts(ctx, segment, segCtx, logger)
	result.Duration = time.Since(start)
	result.LogOutput = logger.Output()

	e.dispatchHooks(segment, segCtx, result, logger)
	e.observers.NotifySegmentCompleted(segment, result)
	return result
}

// runAttempts drives the attempt loop: each attempt runs the body under the
// configured timeout; a timeout is terminal, a failure may retry after the
// retry delay, success captures outputs.
func (e *SegmentExecutor) runAttempts(ctx context.Context, segment *domain.Segment, segCtx *domain.ExecutionContext, logger *logging.SegmentLogger) *domain.SegmentResult {
	var lastErr error

	for attempt := 1; attempt <= segment.MaxAttempts(); attempt++ {
		e.observers.NotifySegmentStarted(segment, attempt)
		if attempt > 1 {
			logger.Info("retrying (attempt %d of %d)", attempt, segment.MaxAttempts())
		}

		err := e.runAttempt(ctx, segment, segCtx, attempt)
		if err == nil {
			e.captureOutputs(segment, segCtx, logger)
			return &domain.SegmentResult{Segment: segment, Status: domain.StatusSuccess}
		}

		if timeoutErr, ok := err.(*attemptTimeout); ok {
			logger.Error("timed out after %s", segment.Timeout)
			return &domain.SegmentResult{
				Segment: segment,
				Status:  domain.StatusTimeout,
				Error:   fmt.Sprintf("segment exceeded its timeout of %s", segment.Timeout),
				Cause:   timeoutErr,
			}
		}

		lastErr = err
		logger.Error("attempt %d failed: %v", attempt, err)

		if !shouldRetry(segment, err, attempt) {
			break
		}

		e.observers.NotifySegmentRetrying(segment, attempt+1, segment.RetryDelay)
		if !e.waitRetryDelay(ctx, segment.RetryDelay) {
			lastErr = ctx.Err()
			break
		}
	}

	return &domain.SegmentResult{
		Segment: segment,
		Status:  domain.StatusFailure,
		Error:   lastErr.Error(),
		Cause:   lastErr,
	}
}

// waitRetryDelay sleeps for the retry delay, honoring cancellation. Retry
// delays count toward the overall wall clock, not toward any attempt
// timeout.
func (e *SegmentExecutor) waitRetryDelay(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// attemptTimeout marks an attempt terminated by its deadline.
type attemptTimeout struct {
	timeout time.Duration
}

func (t *attemptTimeout) Error() string {
	return (&kerrors.TimeoutError{Timeout: t.timeout}).Error()
}

// runAttempt executes the body once, bounded by the segment timeout when one
// is configured. The body runs on its own goroutine so the deadline fires
// even while it blocks; cancellation propagates through the attempt context
// into subprocesses, which are killed at the process-group level.
func (e *SegmentExecutor) runAttempt(ctx context.Context, segment *domain.Segment, segCtx *domain.ExecutionContext, attempt int) error {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if segment.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, segment.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- e.invokeBody(attemptCtx, segment, segCtx, attempt)
	}()

	select {
	case err := <-done:
		if err != nil && segment.Timeout > 0 && attemptCtx.Err() == context.DeadlineExceeded {
			return &attemptTimeout{timeout: segment.Timeout}
		}
		return err
	case <-attemptCtx.Done():
		if segment.Timeout > 0 && attemptCtx.Err() == context.DeadlineExceeded {
			return &attemptTimeout{timeout: segment.Timeout}
		}
		return attemptCtx.Err()
	}
}

// invokeBody calls the user execute function, converting panics to errors.
func (e *SegmentExecutor) invokeBody(ctx context.Context, segment *domain.Segment, segCtx *domain.ExecutionContext, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.NewSegmentError(segment.Name, attempt, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	if segment.Execute == nil {
		return nil
	}
	return segment.Execute(ctx, segCtx)
}

// captureOutputs stores declared outputs into the artifact store. Capture is
// best-effort: a failed store is a warning, never a segment failure.
func (e *SegmentExecutor) captureOutputs(segment *domain.Segment, segCtx *domain.ExecutionContext, logger *logging.SegmentLogger) {
	if len(segment.Outputs) == 0 || segCtx.Artifacts == nil {
		return
	}
	for name, relative := range segment.Outputs {
		source := segCtx.Resolve(relative)
		if err := segCtx.Artifacts.Put(name, source); err != nil {
			logger.Warn("failed to store artifact %q from %q: %v", name, relative, err)
			continue
		}
		logger.Info("stored artifact %q from %q", name, relative)
	}
}

// dispatchHooks fires the lifecycle hooks for the terminal result. Hook
// panics are swallowed into warnings; onComplete always runs last.
func (e *SegmentExecutor) dispatchHooks(segment *domain.Segment, segCtx *domain.ExecutionContext, result *domain.SegmentResult, logger *logging.SegmentLogger) {
	switch result.Status {
	case domain.StatusSuccess:
		if segment.OnSuccess != nil {
			e.safeHook("onSuccess", logger, func() { segment.OnSuccess(segCtx) })
		}
	case domain.StatusFailure:
		if segment.OnFailure != nil {
			cause := result.Cause
			e.safeHook("onFailure", logger, func() { segment.OnFailure(segCtx, cause) })
		}
	}
	if segment.OnComplete != nil {
		status := result.Status
		e.safeHook("onComplete", logger, func() { segment.OnComplete(segCtx, status) })
	}
}

func (e *SegmentExecutor) safeHook(name string, logger *logging.SegmentLogger, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("%s hook panicked: %v", name, r)
		}
	}()
	hook()
}
