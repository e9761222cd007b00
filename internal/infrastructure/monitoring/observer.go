package monitoring

import (
	"sync"
	"time"

	"github.com/kitehq/kite/internal/domain"
)

// ExecutionObserver receives lifecycle notifications from the scheduler and
// the segment executor. Implementations must be safe for concurrent calls;
// observer errors and panics never affect execution.
type ExecutionObserver interface {
	OnRideStarted(rideName, invocationID string, segmentCount int)
	OnRideCompleted(rideName, invocationID string, result *domain.SchedulerResult)
	OnSegmentStarted(segment *domain.Segment, attempt int)
	OnSegmentCompleted(segment *domain.Segment, result *domain.SegmentResult)
	OnSegmentRetrying(segment *domain.Segment, attempt int, delay time.Duration)
	OnSegmentSkipped(segment *domain.Segment, reason string)
}

// ObserverManager fans notifications out to registered observers. A panic in
// an observer is swallowed so observation can never break a ride.
type ObserverManager struct {
	mu        sync.RWMutex
	observers []ExecutionObserver
}

// NewObserverManager creates an empty observer manager.
func NewObserverManager() *ObserverManager {
	return &ObserverManager{}
}

// Add registers an observer.
func (m *ObserverManager) Add(observer ExecutionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

// NotifyRideStarted notifies all observers that a ride began.
func (m *ObserverManager) NotifyRideStarted(rideName, invocationID string, segmentCount int) {
	m.each(func(o ExecutionObserver) { o.OnRideStarted(rideName, invocationID, segmentCount) })
}

// NotifyRideCompleted notifies all observers that a ride finished.
func (m *ObserverManager) NotifyRideCompleted(rideName, invocationID string, result *domain.SchedulerResult) {
	m.each(func(o ExecutionObserver) { o.OnRideCompleted(rideName, invocationID, result) })
}

// NotifySegmentStarted notifies all observers that a segment attempt began.
func (m *ObserverManager) NotifySegmentStarted(segment *domain.Segment, attempt int) {
	m.each(func(o ExecutionObserver) { o.OnSegmentStarted(segment, attempt) })
}

// NotifySegmentCompleted notifies all observers of a terminal segment result.
func (m *ObserverManager) NotifySegmentCompleted(segment *domain.Segment, result *domain.SegmentResult) {
	m.each(func(o ExecutionObserver) { o.OnSegmentCompleted(segment, result) })
}

// NotifySegmentRetrying notifies all observers that a segment will retry.
func (m *ObserverManager) NotifySegmentRetrying(segment *domain.Segment, attempt int, delay time.Duration) {
	m.each(func(o ExecutionObserver) { o.OnSegmentRetrying(segment, attempt, delay) })
}

// NotifySegmentSkipped notifies all observers that a segment was skipped.
func (m *ObserverManager) NotifySegmentSkipped(segment *domain.Segment, reason string) {
	m.each(func(o ExecutionObserver) { o.OnSegmentSkipped(segment, reason) })
}

func (m *ObserverManager) each(notify func(ExecutionObserver)) {
	if m == nil {
		return
	}
	m.mu.RLock()
	observers := make([]ExecutionObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()
	for _, o := range observers {
		func() {
			defer func() { _ = recover() }()
			notify(o)
		}()
	}
}
