package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kitehq/kite/internal/domain"
	kerrors "github.com/kitehq/kite/internal/domain/errors"
)

// DefaultFileName is the configuration file kite looks for by default.
const DefaultFileName = "kite.yml"

// Default directory layout under the workspace.
const (
	DefaultLogRoot      = ".kite/logs"
	DefaultArtifactRoot = ".kite/artifacts"
)

// secretSuffixes mark environment variable names whose values are
// registered with the secret masker.
var secretSuffixes = []string{"_TOKEN", "_SECRET", "_PASSWORD", "_KEY"}

// Config is the materialized configuration: ready-made Segment and Ride
// values plus the invocation-level settings.
type Config struct {
	Workspace    string
	LogRoot      string
	ArtifactRoot string
	Env          map[string]string
	Segments     []*domain.Segment
	Rides        map[string]*domain.Ride

	segmentIndex map[string]*domain.Segment
}

// fileConfig is the raw YAML shape of a kite.yml.
type fileConfig struct {
	Workspace    string                 `yaml:"workspace"`
	LogRoot      string                 `yaml:"log_root"`
	ArtifactRoot string                 `yaml:"artifact_root"`
	EnvFile      string                 `yaml:"env_file"`
	Env          map[string]string      `yaml:"env"`
	Segments     map[string]fileSegment `yaml:"segments"`
	Rides        map[string]fileRide    `yaml:"rides"`
}

type fileSegment struct {
	Description string            `yaml:"description"`
	Command     string            `yaml:"command"`
	Argv        []string          `yaml:"argv"`
	DependsOn   []string          `yaml:"depends_on"`
	Condition   string            `yaml:"condition"`
	Timeout     string            `yaml:"timeout"`
	Retries     int               `yaml:"retries"`
	RetryDelay  string            `yaml:"retry_delay"`
	RetryOn     []string          `yaml:"retry_on"`
	Env         map[string]string `yaml:"env"`
	Outputs     map[string]string `yaml:"outputs"`
}

type fileRide struct {
	Description    string            `yaml:"description"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	Env            map[string]string `yaml:"env"`
	Flow           *fileFlowNode     `yaml:"flow"`
}

// fileFlowNode is the YAML form of a flow node: exactly one of the three
// variant fields is set.
type fileFlowNode struct {
	Segment    string          `yaml:"segment"`
	Sequential []*fileFlowNode `yaml:"sequential"`
	Parallel   []*fileFlowNode `yaml:"parallel"`
}

// Load reads and materializes a configuration file. The env file, when
// declared, is loaded into the process environment first, so commands
// spawned by segments inherit it; the `env` map of expression conditions
// holds only the configured environment, not the env file's values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.NewConfigurationError("loader", fmt.Sprintf("cannot read %s: %v", path, err))
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, kerrors.NewConfigurationError("loader", fmt.Sprintf("cannot parse %s: %v", path, err))
	}

	baseDir := filepath.Dir(path)
	if raw.EnvFile != "" {
		envPath := raw.EnvFile
		if !filepath.IsAbs(envPath) {
			envPath = filepath.Join(baseDir, envPath)
		}
		if err := godotenv.Load(envPath); err != nil {
			return nil, kerrors.NewConfigurationError("loader", fmt.Sprintf("cannot load env file %s: %v", raw.EnvFile, err))
		}
	}

	cfg := &Config{
		Workspace:    raw.Workspace,
		LogRoot:      raw.LogRoot,
		ArtifactRoot: raw.ArtifactRoot,
		Env:          raw.Env,
		Rides:        make(map[string]*domain.Ride, len(raw.Rides)),
		segmentIndex: make(map[string]*domain.Segment, len(raw.Segments)),
	}
	if cfg.Workspace == "" {
		cfg.Workspace = baseDir
	}
	if cfg.LogRoot == "" {
		cfg.LogRoot = filepath.Join(cfg.Workspace, DefaultLogRoot)
	}
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = filepath.Join(cfg.Workspace, DefaultArtifactRoot)
	}
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}

	names := make([]string, 0, len(raw.Segments))
	for name := range raw.Segments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		segment, err := buildSegment(name, raw.Segments[name])
		if err != nil {
			return nil, err
		}
		cfg.Segments = append(cfg.Segments, segment)
		cfg.segmentIndex[name] = segment
	}

	for name, rawRide := range raw.Rides {
		ride, err := cfg.buildRide(name, rawRide)
		if err != nil {
			return nil, err
		}
		cfg.Rides[name] = ride
	}

	return cfg, nil
}

// Segment returns a segment definition by name.
func (c *Config) Segment(name string) (*domain.Segment, bool) {
	seg, ok := c.segmentIndex[name]
	return seg, ok
}

// SegmentsFor resolves the named segments plus their transitive
// dependencies, in the order of Segments (sorted by name). Used by
// `kite run`.
func (c *Config) SegmentsFor(names ...string) ([]*domain.Segment, error) {
	wanted := make(map[string]bool)
	var collect func(name string) error
	collect = func(name string) error {
		if wanted[name] {
			return nil
		}
		seg, ok := c.segmentIndex[name]
		if !ok {
			return kerrors.NewConfigurationError("run", fmt.Sprintf("unknown segment %q", name))
		}
		wanted[name] = true
		for _, dep := range seg.DependsOn {
			if err := collect(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := collect(name); err != nil {
			return nil, err
		}
	}

	var segments []*domain.Segment
	for _, seg := range c.Segments {
		if wanted[seg.Name] {
			segments = append(segments, seg)
		}
	}
	return segments, nil
}

// RideSegments resolves the segment set a ride schedules, applying ride and
// flow-level overrides. The ride environment is merged over the global
// environment, global values yielding to the ride's.
func (c *Config) RideSegments(ride *domain.Ride) ([]*domain.Segment, map[string]string, error) {
	env := make(map[string]string)
	for k, v := range c.Env {
		env[k] = v
	}
	if err := mergo.Merge(&env, ride.Env, mergo.WithOverride); err != nil {
		return nil, nil, err
	}

	var segments []*domain.Segment
	for _, name := range ride.Flow.SegmentNames() {
		seg, ok := c.segmentIndex[name]
		if !ok {
			return nil, nil, kerrors.NewConfigurationError("ride",
				fmt.Sprintf("ride %q references unknown segment %q", ride.Name, name))
		}
		segments = append(segments, applyOverrides(seg, ride.Flow.OverridesFor(name)))
	}
	return segments, env, nil
}

// RegisterSecrets returns the values of environment variables that look
// like credentials, for registration with the secret masker.
func RegisterSecrets(env map[string]string) []string {
	var secrets []string
	for name, value := range env {
		upper := strings.ToUpper(name)
		for _, suffix := range secretSuffixes {
			if strings.HasSuffix(upper, suffix) && value != "" {
				secrets = append(secrets, value)
				break
			}
		}
	}
	return secrets
}

// buildSegment materializes one segment definition. Command segments get an
// execute body that shells out through the context runner.
func buildSegment(name string, raw fileSegment) (*domain.Segment, error) {
	timeout, err := parseDuration("segments."+name+".timeout", raw.Timeout)
	if err != nil {
		return nil, err
	}
	retryDelay, err := parseDuration("segments."+name+".retry_delay", raw.RetryDelay)
	if err != nil {
		return nil, err
	}
	if raw.Retries < 0 {
		return nil, kerrors.NewConfigurationError("segments."+name, "retries must be >= 0")
	}
	if raw.Command != "" && len(raw.Argv) > 0 {
		return nil, kerrors.NewConfigurationError("segments."+name, "command and argv are mutually exclusive")
	}

	segment := &domain.Segment{
		Name:          name,
		Description:   raw.Description,
		DependsOn:     raw.DependsOn,
		ConditionExpr: raw.Condition,
		Timeout:       timeout,
		MaxRetries:    raw.Retries,
		RetryDelay:    retryDelay,
		RetryOn:       raw.RetryOn,
		Outputs:       raw.Outputs,
		Env:           raw.Env,
	}

	switch {
	case raw.Command != "":
		command := raw.Command
		segment.Execute = func(ctx context.Context, ec *domain.ExecutionContext) error {
			_, err := ec.ExecShell(ctx, command)
			return err
		}
	case len(raw.Argv) > 0:
		argv := raw.Argv
		segment.Execute = func(ctx context.Context, ec *domain.ExecutionContext) error {
			_, err := ec.Exec(ctx, argv...)
			return err
		}
	default:
		return nil, kerrors.NewConfigurationError("segments."+name, "segment must declare command or argv")
	}

	if err := segment.Validate(); err != nil {
		return nil, err
	}
	return segment, nil
}

func (c *Config) buildRide(name string, raw fileRide) (*domain.Ride, error) {
	if raw.Flow == nil {
		return nil, kerrors.NewConfigurationError("rides."+name, "ride must declare a flow")
	}
	flow, err := buildFlow("rides."+name+".flow", raw.Flow)
	if err != nil {
		return nil, err
	}
	ride := &domain.Ride{
		Name:           name,
		Description:    raw.Description,
		Flow:           flow,
		Env:            raw.Env,
		MaxConcurrency: raw.MaxConcurrency,
	}
	if err := ride.Validate(); err != nil {
		return nil, err
	}
	for _, segName := range flow.SegmentNames() {
		if _, ok := c.segmentIndex[segName]; !ok {
			return nil, kerrors.NewConfigurationError("rides."+name,
				fmt.Sprintf("flow references unknown segment %q", segName))
		}
	}
	return ride, nil
}

func buildFlow(path string, raw *fileFlowNode) (*domain.FlowNode, error) {
	set := 0
	if raw.Segment != "" {
		set++
	}
	if len(raw.Sequential) > 0 {
		set++
	}
	if len(raw.Parallel) > 0 {
		set++
	}
	if set != 1 {
		return nil, kerrors.NewConfigurationError(path,
			"flow node must set exactly one of segment, sequential, parallel")
	}

	switch {
	case raw.Segment != "":
		return domain.SegmentRef(raw.Segment), nil
	case len(raw.Sequential) > 0:
		children, err := buildFlowChildren(path+".sequential", raw.Sequential)
		if err != nil {
			return nil, err
		}
		return domain.Sequential(children...), nil
	default:
		children, err := buildFlowChildren(path+".parallel", raw.Parallel)
		if err != nil {
			return nil, err
		}
		return domain.Parallel(children...), nil
	}
}

func buildFlowChildren(path string, raw []*fileFlowNode) ([]*domain.FlowNode, error) {
	children := make([]*domain.FlowNode, 0, len(raw))
	for i, child := range raw {
		node, err := buildFlow(fmt.Sprintf("%s[%d]", path, i), child)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}
	return children, nil
}

// applyOverrides clones a segment with per-flow overrides applied. The
// original definition stays untouched.
func applyOverrides(segment *domain.Segment, overrides *domain.SegmentOverrides) *domain.Segment {
	if overrides == nil {
		return segment
	}
	clone := *segment
	if overrides.Timeout != nil {
		clone.Timeout = *overrides.Timeout
	}
	if overrides.MaxRetries != nil {
		clone.MaxRetries = *overrides.MaxRetries
	}
	if overrides.RetryDelay != nil {
		clone.RetryDelay = *overrides.RetryDelay
	}
	if len(overrides.Env) > 0 {
		env := make(map[string]string, len(segment.Env)+len(overrides.Env))
		for k, v := range segment.Env {
			env[k] = v
		}
		for k, v := range overrides.Env {
			env[k] = v
		}
		clone.Env = env
	}
	return &clone
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, kerrors.NewConfigurationError(field, fmt.Sprintf("invalid duration %q", value))
	}
	if d < 0 {
		return 0, kerrors.NewConfigurationError(field, "duration must not be negative")
	}
	return d, nil
}
