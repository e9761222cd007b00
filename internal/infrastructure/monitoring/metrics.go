package monitoring

import (
	"sync"
	"time"

	"github.com/kitehq/kite/internal/domain"
)

// MetricsCollector accumulates execution metrics for rides and segments.
// It implements ExecutionObserver so it can be attached to a scheduler.
type MetricsCollector struct {
	mu             sync.RWMutex
	rideMetrics    map[string]*RideMetrics
	segmentMetrics map[string]*SegmentMetrics
}

// RideMetrics represents accumulated metrics for one ride.
type RideMetrics struct {
	RideName        string        `json:"ride_name"`
	ExecutionCount  int           `json:"execution_count"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	LastExecutionAt time.Time     `json:"last_execution_at"`
}

// SegmentMetrics represents accumulated metrics for one segment name.
type SegmentMetrics struct {
	SegmentName     string        `json:"segment_name"`
	ExecutionCount  int           `json:"execution_count"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	TimeoutCount    int           `json:"timeout_count"`
	SkippedCount    int           `json:"skipped_count"`
	RetryCount      int           `json:"retry_count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		rideMetrics:    make(map[string]*RideMetrics),
		segmentMetrics: make(map[string]*SegmentMetrics),
	}
}

// RideMetricsFor returns a copy of the metrics for a ride, or nil.
func (mc *MetricsCollector) RideMetricsFor(rideName string) *RideMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	m, ok := mc.rideMetrics[rideName]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

// SegmentMetricsFor returns a copy of the metrics for a segment, or nil.
func (mc *MetricsCollector) SegmentMetricsFor(segmentName string) *SegmentMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	m, ok := mc.segmentMetrics[segmentName]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

// OnRideStarted implements ExecutionObserver.
func (mc *MetricsCollector) OnRideStarted(rideName, invocationID string, segmentCount int) {}

// OnRideCompleted records ride-level counts and durations.
func (mc *MetricsCollector) OnRideCompleted(rideName, invocationID string, result *domain.SchedulerResult) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m, ok := mc.rideMetrics[rideName]
	if !ok {
		m = &RideMetrics{RideName: rideName}
		mc.rideMetrics[rideName] = m
	}
	m.ExecutionCount++
	if result.IsSuccess() {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}
	m.TotalDuration += result.ExecutionTime
	m.AverageDuration = m.TotalDuration / time.Duration(m.ExecutionCount)
	m.LastExecutionAt = time.Now()
}

// OnSegmentStarted implements ExecutionObserver.
func (mc *MetricsCollector) OnSegmentStarted(segment *domain.Segment, attempt int) {}

// OnSegmentCompleted records the terminal result of a segment.
func (mc *MetricsCollector) OnSegmentCompleted(segment *domain.Segment, result *domain.SegmentResult) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := mc.segmentFor(segment.Name)
	m.ExecutionCount++
	switch result.Status {
	case domain.StatusSuccess:
		m.SuccessCount++
	case domain.StatusFailure:
		m.FailureCount++
	case domain.StatusTimeout:
		m.TimeoutCount++
	case domain.StatusSkipped:
		m.SkippedCount++
	}

	d := result.Duration
	m.TotalDuration += d
	m.AverageDuration = m.TotalDuration / time.Duration(m.ExecutionCount)
	if m.ExecutionCount == 1 || d < m.MinDuration {
		m.MinDuration = d
	}
	if d > m.MaxDuration {
		m.MaxDuration = d
	}
}

// OnSegmentRetrying counts retries per segment.
func (mc *MetricsCollector) OnSegmentRetrying(segment *domain.Segment, attempt int, delay time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.segmentFor(segment.Name).RetryCount++
}

// OnSegmentSkipped implements ExecutionObserver. Skips are counted when the
// terminal result arrives via OnSegmentCompleted.
func (mc *MetricsCollector) OnSegmentSkipped(segment *domain.Segment, reason string) {}

func (mc *MetricsCollector) segmentFor(name string) *SegmentMetrics {
	m, ok := mc.segmentMetrics[name]
	if !ok {
		m = &SegmentMetrics{SegmentName: name}
		mc.segmentMetrics[name] = m
	}
	return m
}

var _ ExecutionObserver = (*MetricsCollector)(nil)
