package kite

import (
	"io"

	"github.com/kitehq/kite/internal/application/executor"
	"github.com/kitehq/kite/internal/application/scheduler"
	"github.com/kitehq/kite/internal/domain"
	"github.com/kitehq/kite/internal/infrastructure/artifacts"
	"github.com/kitehq/kite/internal/infrastructure/logging"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
	"github.com/kitehq/kite/internal/infrastructure/process"
	"github.com/kitehq/kite/internal/infrastructure/secrets"
)

// SchedulerConfig configures a scheduler built through the facade.
type SchedulerConfig struct {
	// LogRoot is the directory segment log files are written under.
	LogRoot string
	// ArtifactRoot is the artifact store directory. Empty disables capture.
	ArtifactRoot string
	// MaxConcurrency is not read by NewRuntime; the parallel strategy's cap
	// is the maxConcurrency argument of NewParallelScheduler.
	MaxConcurrency int
	// Console receives per-segment console lines; nil means stdout, use
	// io.Discard to suppress.
	Console io.Writer
	// Observers to attach in addition to the internal metrics collector.
	Observers []ExecutionObserver
}

// Runtime bundles the wired infrastructure behind a scheduler so callers
// can reach the artifact store, masker, and metrics of an invocation.
type Runtime struct {
	Masker    *secrets.Masker
	Loggers   *logging.Manager
	Artifacts *artifacts.Store
	Observers *monitoring.ObserverManager
	Metrics   *monitoring.MetricsCollector
	Executor  *executor.SegmentExecutor
}

// NewRuntime wires the infrastructure stack for one invocation.
func NewRuntime(cfg SchedulerConfig) (*Runtime, error) {
	masker := secrets.NewMasker()
	loggers := logging.NewManager(logging.ManagerOptions{
		Root:    cfg.LogRoot,
		Console: cfg.Console,
		Masker:  masker,
	})

	var store *artifacts.Store
	if cfg.ArtifactRoot != "" {
		var err error
		store, err = artifacts.NewStore(cfg.ArtifactRoot)
		if err != nil {
			return nil, err
		}
	}

	observers := monitoring.NewObserverManager()
	metrics := monitoring.NewMetricsCollector()
	observers.Add(metrics)
	for _, o := range cfg.Observers {
		observers.Add(o)
	}

	return &Runtime{
		Masker:    masker,
		Loggers:   loggers,
		Artifacts: store,
		Observers: observers,
		Metrics:   metrics,
		Executor:  executor.NewSegmentExecutor(loggers, observers),
	}, nil
}

// NewParallelScheduler creates the level-parallel scheduler over a runtime.
func NewParallelScheduler(rt *Runtime, maxConcurrency int) Scheduler {
	return scheduler.NewParallelScheduler(scheduler.Options{
		Executor:       rt.Executor,
		Observers:      rt.Observers,
		MaxConcurrency: maxConcurrency,
	})
}

// NewSequentialScheduler creates the single-threaded scheduler over a
// runtime.
func NewSequentialScheduler(rt *Runtime) Scheduler {
	return scheduler.NewSequentialScheduler(scheduler.Options{
		Executor:  rt.Executor,
		Observers: rt.Observers,
	})
}

// NewExecutionContext builds the invocation context over a runtime. The
// runner spawns child processes through the process executor, masking
// registered secrets on every emitted line.
func NewExecutionContext(rt *Runtime, branch, commitSha, workspace string, env map[string]string) *ExecutionContext {
	if env == nil {
		env = make(map[string]string)
	}
	var store domain.ArtifactStore
	if rt.Artifacts != nil {
		store = rt.Artifacts
	}
	return &ExecutionContext{
		Branch:      branch,
		CommitSha:   commitSha,
		Environment: env,
		Workspace:   workspace,
		Artifacts:   store,
		Runner:      process.NewExecutor(rt.Masker),
	}
}

// NewArtifactStore opens an artifact store over the given root directory.
func NewArtifactStore(root string) (*artifacts.Store, error) {
	return artifacts.NewStore(root)
}

// NewSegmentGraph builds the dependency graph for a segment set, for plan
// inspection and validation outside a scheduler run.
func NewSegmentGraph(segments []*Segment) *scheduler.SegmentGraph {
	return scheduler.NewSegmentGraph(segments)
}
