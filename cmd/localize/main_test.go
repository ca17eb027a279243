package main

import (
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localizer/internal/config"
	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/sim"
	"github.com/banshee-data/localizer/internal/storage/sqlite"
)

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("localize", flag.ContinueOnError)
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, "markov", o.strategy)
	assert.Equal(t, "exact", o.sensor)
	assert.Equal(t, "exact", o.motion)
	assert.Equal(t, 50, o.steps)
	assert.Zero(t, o.seed)
}

func TestParseFlagsRejectsBadValues(t *testing.T) {
	cases := map[string][]string{
		"strategy": {"-strategy", "kalman"},
		"sensor":   {"-sensor", "sonar"},
		"motion":   {"-motion", "fast"},
		"steps":    {"-steps", "0"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseFlags(newFlagSet(), args)
			assert.Error(t, err)
		})
	}
}

func TestParseFlagsSensorFollowsStrategy(t *testing.T) {
	o, err := parseFlags(newFlagSet(), []string{"-strategy", "particle"})
	require.NoError(t, err)
	assert.Equal(t, "noisy", o.sensor)

	o, err = parseFlags(newFlagSet(), []string{"-strategy", "markov", "-sensor", "noisy"})
	require.NoError(t, err)
	assert.Equal(t, "noisy", o.sensor)
}

func TestParseFlagsRejectsParticleWithExactSensor(t *testing.T) {
	_, err := parseFlags(newFlagSet(), []string{"-strategy", "particle", "-sensor", "exact"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-sensor noisy")
}

// The default particle rig must be able to tell particles apart, so a few
// scripted moves trigger at least one resample.
func TestBuildRigParticleDefaultsResample(t *testing.T) {
	cfg := config.DefaultScenarioConfig()
	o, err := parseFlags(newFlagSet(), []string{"-strategy", "particle", "-seed", "3"})
	require.NoError(t, err)

	r, err := buildRig(o, cfg)
	require.NoError(t, err)
	pf, ok := r.loc.(*localization.ParticleFilter)
	require.True(t, ok)

	actions, err := sim.ParseActions("FFFFFFRFFFFFFLFFFFFF")
	require.NoError(t, err)
	for _, a := range actions {
		_, err := r.robot.Move(a)
		if err != nil {
			require.ErrorIs(t, err, localization.ErrBeliefCollapse)
		}
	}
	assert.Greater(t, pf.Resamples(), 0)
}

func TestBuildRigMarkov(t *testing.T) {
	cfg := config.DefaultScenarioConfig()
	o, err := parseFlags(newFlagSet(), []string{"-seed", "9"})
	require.NoError(t, err)

	r, err := buildRig(o, cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), r.seed)
	assert.IsType(t, &localization.Markov{}, r.loc)
	assert.Equal(t, pose.Pose{X: 2, Y: 2, Orientation: pose.North}, r.robot.Pose())
}

func TestBuildRigParticle(t *testing.T) {
	cfg := config.DefaultScenarioConfig()
	o, err := parseFlags(newFlagSet(), []string{"-strategy", "particle", "-sensor", "noisy", "-motion", "noisy"})
	require.NoError(t, err)

	r, err := buildRig(o, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.GetSeed(), r.seed)
	pf, ok := r.loc.(*localization.ParticleFilter)
	require.True(t, ok)
	assert.Equal(t, cfg.GetParticleCount(), pf.Len())

	// The continuous robot starts at the centre of the start tile.
	tile := cfg.GetTileSize()
	assert.Equal(t, 2.5*tile, r.robot.Pose().X)
	assert.Equal(t, 2.5*tile, r.robot.Pose().Y)
}

func TestRunScriptedWithRecorderAndPlots(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	plots := filepath.Join(dir, "plots")

	o, err := parseFlags(newFlagSet(), []string{"-actions", "FFR", "-db", dbPath, "-plots", plots, "-log", filepath.Join(dir, "run.log")})
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), o))

	store, err := sqlite.Open(dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "markov", runs[0].Strategy)
	assert.NotNil(t, runs[0].FinishedAt)

	steps, err := store.ListSteps(runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, steps, 3)

	matches, err := filepath.Glob(filepath.Join(plots, "*", "*", "belief_*.png"))
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestRunParticleRandomActions(t *testing.T) {
	dir := t.TempDir()
	plots := filepath.Join(dir, "plots")
	o, err := parseFlags(newFlagSet(), []string{"-strategy", "particle", "-steps", "4", "-plots", plots})
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), o))

	matches, err := filepath.Glob(filepath.Join(plots, "*", "*", "particles_*.html"))
	require.NoError(t, err)
	assert.Len(t, matches, 4)
}

func TestRunMissingConfig(t *testing.T) {
	o, err := parseFlags(newFlagSet(), []string{"-config", filepath.Join(t.TempDir(), "missing.json")})
	require.NoError(t, err)
	assert.Error(t, run(context.Background(), o))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, err := parseFlags(newFlagSet(), []string{"-actions", "FF"})
	require.NoError(t, err)
	assert.NoError(t, run(ctx, o))
}
