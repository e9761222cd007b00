package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitehq/kite/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleConfig = `
env:
  REGISTRY: ghcr.io/example
segments:
  fmt:
    command: gofmt -l .
  build:
    description: Compile everything
    command: go build ./...
    depends_on: [fmt]
    timeout: 5m
    retries: 2
    retry_delay: 10s
    retry_on: [connection refused]
    outputs:
      bin: dist/app
  test:
    argv: [go, test, ./...]
    depends_on: [build]
    condition: 'branch == "main"'
    env:
      GOFLAGS: -count=1
rides:
  ci:
    description: Full pipeline
    max_concurrency: 4
    env:
      DEPLOY_ENV: staging
    flow:
      sequential:
        - segment: fmt
        - segment: build
        - parallel:
            - segment: test
            - segment: fmt
`

func TestLoadSegments(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Segments, 3)

	build, ok := cfg.Segment("build")
	require.True(t, ok)
	assert.Equal(t, "Compile everything", build.Description)
	assert.Equal(t, []string{"fmt"}, build.DependsOn)
	assert.Equal(t, 5*time.Minute, build.Timeout)
	assert.Equal(t, 2, build.MaxRetries)
	assert.Equal(t, 10*time.Second, build.RetryDelay)
	assert.Equal(t, []string{"connection refused"}, build.RetryOn)
	assert.Equal(t, map[string]string{"bin": "dist/app"}, build.Outputs)
	assert.NotNil(t, build.Execute)

	test, ok := cfg.Segment("test")
	require.True(t, ok)
	assert.Equal(t, `branch == "main"`, test.ConditionExpr)
	assert.Equal(t, "-count=1", test.Env["GOFLAGS"])
}

func TestLoadRides(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	ride, ok := cfg.Rides["ci"]
	require.True(t, ok)
	assert.Equal(t, 4, ride.MaxConcurrency)
	assert.Equal(t, domain.FlowSequential, ride.Flow.Kind)
	assert.Equal(t, []string{"fmt", "build", "test"}, ride.Flow.SegmentNames())
}

func TestRideSegmentsMergeEnv(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	segments, env, err := cfg.RideSegments(cfg.Rides["ci"])
	require.NoError(t, err)
	assert.Len(t, segments, 3)
	assert.Equal(t, "ghcr.io/example", env["REGISTRY"])
	assert.Equal(t, "staging", env["DEPLOY_ENV"])
}

func TestSegmentsForCollectsTransitiveDeps(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	segments, err := cfg.SegmentsFor("test")
	require.NoError(t, err)
	names := make([]string, len(segments))
	for i, s := range segments {
		names[i] = s.Name
	}
	assert.ElementsMatch(t, []string{"fmt", "build", "test"}, names)
}

func TestSegmentsForUnknownName(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	_, err = cfg.SegmentsFor("ghost")
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"MissingBody", "segments:\n  empty: {}\n"},
		{"CommandAndArgv", "segments:\n  both:\n    command: echo hi\n    argv: [echo, hi]\n"},
		{"NegativeRetries", "segments:\n  neg:\n    command: echo\n    retries: -1\n"},
		{"BadDuration", "segments:\n  bad:\n    command: echo\n    timeout: soon\n"},
		{"RideWithoutFlow", "segments:\n  a:\n    command: echo\nrides:\n  broken: {}\n"},
		{"RideUnknownSegment", "segments:\n  a:\n    command: echo\nrides:\n  broken:\n    flow:\n      segment: ghost\n"},
		{"FlowNodeAmbiguous", "segments:\n  a:\n    command: echo\nrides:\n  broken:\n    flow:\n      segment: a\n      parallel:\n        - segment: a\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KITE_FROM_ENVFILE=yes\n"), 0o644))
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("env_file: .env\nsegments:\n  a:\n    command: echo\n"), 0o644))

	_, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "yes", os.Getenv("KITE_FROM_ENVFILE"))
	t.Cleanup(func() { os.Unsetenv("KITE_FROM_ENVFILE") })
}

func TestDefaultsDerivedFromConfigDir(t *testing.T) {
	path := writeConfig(t, "segments:\n  a:\n    command: echo\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	dir := filepath.Dir(path)
	assert.Equal(t, dir, cfg.Workspace)
	assert.Equal(t, filepath.Join(dir, DefaultLogRoot), cfg.LogRoot)
	assert.Equal(t, filepath.Join(dir, DefaultArtifactRoot), cfg.ArtifactRoot)
}

func TestRegisterSecrets(t *testing.T) {
	env := map[string]string{
		"API_TOKEN":   "tok-value",
		"DB_PASSWORD": "pw-value",
		"SIGNING_KEY": "key-value",
		"HOME":        "/home/user",
		"EMPTY_TOKEN": "",
	}
	values := RegisterSecrets(env)
	assert.ElementsMatch(t, []string{"tok-value", "pw-value", "key-value"}, values)
}
