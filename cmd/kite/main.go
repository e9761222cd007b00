package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	cli "github.com/urfave/cli/v3"

	"github.com/kitehq/kite"
	"github.com/kitehq/kite/internal/application/scheduler"
	"github.com/kitehq/kite/internal/domain"
	"github.com/kitehq/kite/internal/infrastructure/config"
	"github.com/kitehq/kite/internal/infrastructure/monitoring"
)

// errRideFailed drives the non-zero exit code when any segment finished in
// FAILURE or TIMEOUT; the summary already explains what happened.
var errRideFailed = fmt.Errorf("ride failed")

func main() {
	app := &cli.Command{
		Name:  "kite",
		Usage: "Local CI/CD ride runner",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: config.DefaultFileName, Usage: "Path to the configuration file"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress per-segment console output"},
		},
		Commands: []*cli.Command{
			rideCmd(),
			runCmd(),
			listCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if err != errRideFailed {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func rideCmd() *cli.Command {
	return &cli.Command{
		Name:      "ride",
		Usage:     "Execute a ride by name",
		ArgsUsage: "<ride>",
		Flags:     executionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return fmt.Errorf("ride name is required")
			}

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			ride, ok := cfg.Rides[name]
			if !ok {
				return fmt.Errorf("unknown ride %q", name)
			}

			segments, env, err := cfg.RideSegments(ride)
			if err != nil {
				return err
			}

			if cmd.Bool("dry-run") {
				return printPlan(name, segments)
			}

			concurrency := int(cmd.Int("concurrency"))
			if concurrency == 0 {
				concurrency = ride.MaxConcurrency
			}

			result, err := execute(ctx, cmd, cfg, segments, env, concurrency, name)
			if err != nil {
				return err
			}
			if !result.IsSuccess() {
				if ride.OnFailure != nil {
					ride.OnFailure(result)
				}
				return errRideFailed
			}
			return nil
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute segments (with their transitive dependencies)",
		ArgsUsage: "<segment>...",
		Flags:     executionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			names := cmd.Args().Slice()
			if len(names) == 0 {
				return fmt.Errorf("at least one segment name is required")
			}

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			segments, err := cfg.SegmentsFor(names...)
			if err != nil {
				return err
			}

			if cmd.Bool("dry-run") {
				return printPlan(strings.Join(names, ","), segments)
			}

			result, err := execute(ctx, cmd, cfg, segments, cfg.Env, int(cmd.Int("concurrency")), "")
			if err != nil {
				return err
			}
			if !result.IsSuccess() {
				return errRideFailed
			}
			return nil
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List configured segments and rides",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			fmt.Println("Segments:")
			for _, seg := range cfg.Segments {
				line := "  " + seg.Name
				if len(seg.DependsOn) > 0 {
					line += " (depends on " + strings.Join(seg.DependsOn, ", ") + ")"
				}
				if seg.Description != "" {
					line += " — " + seg.Description
				}
				fmt.Println(line)
			}
			rideNames := make([]string, 0, len(cfg.Rides))
			for name := range cfg.Rides {
				rideNames = append(rideNames, name)
			}
			sort.Strings(rideNames)
			fmt.Println("Rides:")
			for _, name := range rideNames {
				ride := cfg.Rides[name]
				line := "  " + name
				if ride.Description != "" {
					line += " — " + ride.Description
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func executionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "dry-run", Usage: "Print the execution plan without running"},
		&cli.BoolFlag{Name: "sequential", Usage: "Force the sequential strategy"},
		&cli.IntFlag{Name: "concurrency", Usage: "Cap concurrent segments (default: logical CPUs)"},
		&cli.StringFlag{Name: "branch", Usage: "Branch identifier exposed to segment conditions"},
		&cli.StringFlag{Name: "commit", Usage: "Commit SHA exposed to segment conditions"},
	}
}

// execute wires the runtime, runs the chosen scheduler strategy, persists
// the artifact manifest, and prints the summary.
func execute(ctx context.Context, cmd *cli.Command, cfg *config.Config, segments []*domain.Segment, env map[string]string, concurrency int, rideName string) (*kite.SchedulerResult, error) {
	logWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	runnerLog := zerolog.New(logWriter).With().Timestamp().Logger()

	var console io.Writer = os.Stdout
	if cmd.Bool("quiet") {
		console = io.Discard
	}

	rt, err := kite.NewRuntime(kite.SchedulerConfig{
		LogRoot:        cfg.LogRoot,
		ArtifactRoot:   cfg.ArtifactRoot,
		MaxConcurrency: concurrency,
		Console:        console,
		Observers:      []kite.ExecutionObserver{monitoring.NewConsoleObserver(runnerLog)},
	})
	if err != nil {
		return nil, err
	}
	rt.Masker.Register(config.RegisterSecrets(env)...)

	if _, err := rt.Artifacts.RestoreFromManifest(); err != nil {
		runnerLog.Warn().Err(err).Msg("could not restore artifact manifest")
	}

	execCtx := kite.NewExecutionContext(rt, cmd.String("branch"), cmd.String("commit"), cfg.Workspace, env)

	var sched kite.Scheduler
	if cmd.Bool("sequential") {
		sched = kite.NewSequentialScheduler(rt)
	} else {
		sched = kite.NewParallelScheduler(rt, concurrency)
	}

	rt.Observers.NotifyRideStarted(rideName, "", len(segments))
	result := sched.Schedule(ctx, segments, execCtx)
	rt.Observers.NotifyRideCompleted(rideName, result.InvocationID, result)

	if err := rt.Artifacts.SaveManifest(rideName); err != nil {
		runnerLog.Warn().Err(err).Msg("could not save artifact manifest")
	}

	printSummary(result)
	return result, nil
}

// printPlan renders the level plan without executing anything.
func printPlan(name string, segments []*domain.Segment) error {
	graph := scheduler.NewSegmentGraph(segments)
	if validation := graph.Validate(); !validation.Valid {
		for _, msg := range validation.Errors {
			fmt.Fprintln(os.Stderr, "invalid:", msg)
		}
		return fmt.Errorf("plan for %q is invalid", name)
	}
	levels, err := graph.Levels()
	if err != nil {
		return err
	}
	stats, err := graph.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Plan for %s: %d segments across %d levels (efficiency %.2f)\n",
		name, stats.TotalSegments, stats.LevelCount, stats.Efficiency)
	for i, level := range levels {
		fmt.Printf("  level %d: %s\n", i, strings.Join(level, ", "))
	}
	return nil
}

func printSummary(result *kite.SchedulerResult) {
	names := make([]string, 0, len(result.Results))
	for name := range result.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println()
	for _, name := range names {
		r := result.Results[name]
		line := fmt.Sprintf("  %-8s %s (%dms)", r.Status, name, r.DurationMs())
		if r.Status == domain.StatusSkipped && r.Message != "" {
			line += " — " + r.Message
		}
		if r.Error != "" && r.Status != domain.StatusSkipped {
			line += " — " + r.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d total, %d succeeded, %d failed, %d skipped in %dms (segments %dms)\n",
		result.TotalCount(), result.TotalCount()-result.FailureCount()-result.SkippedCount(),
		result.FailureCount(), result.SkippedCount(), result.ExecutionTimeMs(), result.TotalDurationMs())
}
