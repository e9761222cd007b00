// Package kite is a local CI/CD ride runner: segments are units of work,
// rides compose them into sequential and parallel stages, and the scheduler
// executes them across a dependency graph with per-segment timeout, retry,
// conditional-skip, lifecycle-hook, and artifact contracts.
package kite

import (
	"github.com/kitehq/kite/internal/application/scheduler"
	"github.com/kitehq/kite/internal/domain"
	kerrors "github.com/kitehq/kite/internal/domain/errors"
	"github.com/kitehq/kite/internal/infrastructure/artifacts"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
)

// Segment is an immutable definition of one unit of work.
type Segment = domain.Segment

// Ride is a named composition of segments expressed as a flow tree.
type Ride = domain.Ride

// FlowNode is the tagged tree composing sequential and parallel stages.
type FlowNode = domain.FlowNode

// SegmentOverrides carries per-flow overrides on a segment reference.
type SegmentOverrides = domain.SegmentOverrides

// ExecutionContext is the per-segment bundle of environment and services.
type ExecutionContext = domain.ExecutionContext

// SegmentResult is the per-segment outcome of one invocation.
type SegmentResult = domain.SegmentResult

// SchedulerResult aggregates the outcomes of one invocation.
type SchedulerResult = domain.SchedulerResult

// Status is the terminal outcome of a segment execution.
type Status = domain.Status

// Terminal statuses.
const (
	StatusSuccess = domain.StatusSuccess
	StatusFailure = domain.StatusFailure
	StatusSkipped = domain.StatusSkipped
	StatusTimeout = domain.StatusTimeout
)

// Flow constructors.
var (
	SegmentRef     = domain.SegmentRef
	SegmentRefWith = domain.SegmentRefWith
	Sequential     = domain.Sequential
	Parallel       = domain.Parallel
)

// Scheduler turns a segment set into a complete result map.
type Scheduler = scheduler.Scheduler

// GraphStats summarizes the parallel structure of a dependency graph.
type GraphStats = scheduler.GraphStats

// ValidationResult carries the outcome of graph validation.
type ValidationResult = scheduler.ValidationResult

// ExecutionObserver receives lifecycle notifications during a ride.
type ExecutionObserver = monitoring.ExecutionObserver

// MetricsCollector accumulates ride and segment metrics.
type MetricsCollector = monitoring.MetricsCollector

// RideMetrics is the accumulated metrics of one ride.
type RideMetrics = monitoring.RideMetrics

// SegmentMetrics is the accumulated metrics of one segment.
type SegmentMetrics = monitoring.SegmentMetrics

// ArtifactStore is the content store contract segments capture outputs into.
type ArtifactStore = domain.ArtifactStore

// ArtifactEntry describes one stored artifact.
type ArtifactEntry = artifacts.Entry

// Typed errors surfaced by the runner.
type (
	TimeoutError          = kerrors.TimeoutError
	ExitCodeError         = kerrors.ExitCodeError
	SpawnError            = kerrors.SpawnError
	CyclicDependencyError = kerrors.CyclicDependencyError
	ValidationError       = kerrors.ValidationError
	ConfigurationError    = kerrors.ConfigurationError
)
