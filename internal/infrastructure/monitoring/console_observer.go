package monitoring

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/kitehq/kite/internal/domain"
)

// ConsoleObserver logs lifecycle events through zerolog. The CLI attaches it
// so a ride narrates its progress on the runner's own log stream, separate
// from the per-segment console lines.
type ConsoleObserver struct {
	log zerolog.Logger
}

// NewConsoleObserver creates a console observer over the given logger.
func NewConsoleObserver(log zerolog.Logger) *ConsoleObserver {
	return &ConsoleObserver{log: log}
}

func (o *ConsoleObserver) OnRideStarted(rideName, invocationID string, segmentCount int) {
	o.log.Info().
		Str("ride", rideName).
		Str("invocation", invocationID).
		Int("segments", segmentCount).
		Msg("ride started")
}

func (o *ConsoleObserver) OnRideCompleted(rideName, invocationID string, result *domain.SchedulerResult) {
	event := o.log.Info()
	if !result.IsSuccess() {
		event = o.log.Error()
	}
	event.
		Str("ride", rideName).
		Str("invocation", invocationID).
		Int("success", result.SuccessCount()).
		Int("failed", result.FailureCount()).
		Int("skipped", result.SkippedCount()).
		Dur("took", result.ExecutionTime).
		Msg("ride completed")
}

func (o *ConsoleObserver) OnSegmentStarted(segment *domain.Segment, attempt int) {
	event := o.log.Info().Str("segment", segment.Name)
	if attempt > 1 {
		event = event.Int("attempt", attempt)
	}
	event.Msg("segment started")
}

func (o *ConsoleObserver) OnSegmentCompleted(segment *domain.Segment, result *domain.SegmentResult) {
	switch result.Status {
	case domain.StatusSuccess:
		o.log.Info().Str("segment", segment.Name).Dur("took", result.Duration).Msg("segment succeeded")
	case domain.StatusSkipped:
		o.log.Info().Str("segment", segment.Name).Str("reason", result.Message).Msg("segment skipped")
	default:
		o.log.Error().
			Str("segment", segment.Name).
			Str("status", result.Status.String()).
			Str("error", result.Error).
			Dur("took", result.Duration).
			Msg("segment failed")
	}
}

func (o *ConsoleObserver) OnSegmentRetrying(segment *domain.Segment, attempt int, delay time.Duration) {
	o.log.Warn().
		Str("segment", segment.Name).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("segment retrying")
}

func (o *ConsoleObserver) OnSegmentSkipped(segment *domain.Segment, reason string) {
	o.log.Info().Str("segment", segment.Name).Str("reason", reason).Msg("segment skipped")
}

var _ ExecutionObserver = (*ConsoleObserver)(nil)
