package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowValidate(t *testing.T) {
	t.Run("ValidTree", func(t *testing.T) {
		flow := Sequential(
			SegmentRef("build"),
			Parallel(SegmentRef("test"), SegmentRef("lint")),
			SegmentRef("package"),
		)
		assert.NoError(t, flow.Validate())
	})

	t.Run("EmptyParallelIsRepresentableButInvalid", func(t *testing.T) {
		flow := Sequential(SegmentRef("build"), Parallel())
		assert.Error(t, flow.Validate())
	})

	t.Run("EmptySequentialInvalid", func(t *testing.T) {
		assert.Error(t, Sequential().Validate())
	})

	t.Run("BlankSegmentRefInvalid", func(t *testing.T) {
		assert.Error(t, SegmentRef("  ").Validate())
	})
}

func TestFlowSegmentNames(t *testing.T) {
	flow := Sequential(
		SegmentRef("build"),
		Parallel(SegmentRef("test"), SegmentRef("lint"), SegmentRef("build")),
		SegmentRef("package"),
	)
	assert.Equal(t, []string{"build", "test", "lint", "package"}, flow.SegmentNames())
}

func TestFlowOverrides(t *testing.T) {
	timeout := 2 * time.Minute
	flow := Sequential(
		SegmentRefWith("build", &SegmentOverrides{Timeout: &timeout}),
		SegmentRef("test"),
	)
	overrides := flow.OverridesFor("build")
	require.NotNil(t, overrides)
	assert.Equal(t, timeout, *overrides.Timeout)
	assert.Nil(t, flow.OverridesFor("test"))
}

func TestRideValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		ride := &Ride{Name: "ci", Flow: SegmentRef("build"), MaxConcurrency: 4}
		assert.NoError(t, ride.Validate())
	})

	t.Run("BlankName", func(t *testing.T) {
		ride := &Ride{Name: " ", Flow: SegmentRef("build")}
		assert.Error(t, ride.Validate())
	})

	t.Run("NegativeConcurrency", func(t *testing.T) {
		ride := &Ride{Name: "ci", Flow: SegmentRef("build"), MaxConcurrency: -1}
		assert.Error(t, ride.Validate())
	})

	t.Run("MissingFlow", func(t *testing.T) {
		ride := &Ride{Name: "ci"}
		assert.Error(t, ride.Validate())
	})
}

func TestSegmentValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		seg := &Segment{Name: "build", MaxRetries: 1, RetryDelay: time.Second}
		assert.NoError(t, seg.Validate())
	})

	t.Run("BlankName", func(t *testing.T) {
		assert.Error(t, (&Segment{Name: "\t "}).Validate())
	})

	t.Run("NegativeRetries", func(t *testing.T) {
		assert.Error(t, (&Segment{Name: "x", MaxRetries: -1}).Validate())
	})

	t.Run("NegativeRetryDelay", func(t *testing.T) {
		assert.Error(t, (&Segment{Name: "x", RetryDelay: -time.Second}).Validate())
	})

	t.Run("BlankOutputName", func(t *testing.T) {
		seg := &Segment{Name: "x", Outputs: map[string]string{" ": "path"}}
		assert.Error(t, seg.Validate())
	})
}
