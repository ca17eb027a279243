package robot

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/motion"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/testutil"
	"github.com/banshee-data/localizer/internal/world"
)

func newDiscrete(t *testing.T, w *world.World, m motion.Model, start pose.Pose) (*DiscreteRobot, *localization.Markov, *int) {
	t.Helper()
	s := &testutil.TileSensor{Tile: w.TileSize()}
	ml, err := localization.NewMarkov(w, s, m, localization.MarkovOptions{})
	require.NoError(t, err)
	r, err := NewDiscreteRobot(w, s, m, ml, start)
	require.NoError(t, err)

	n := 0
	r.Subscribe(func() { n++ })
	return r, ml, &n
}

func TestDiscreteRobotLocalizesAfterOneStep(t *testing.T) {
	t.Parallel()

	w := testutil.OpenWorld(t, 3, 3, 10)
	r, ml, notified := newDiscrete(t, w, motion.Deterministic{}, pose.Pose{X: 1, Y: 0, Orientation: pose.North})
	assert.Same(t, ml, r.Localizer())

	st, err := r.Move(pose.Forward)
	require.NoError(t, err)
	assert.False(t, st.Bumped)
	assert.Equal(t, pose.Pose{X: 1, Y: 1, Orientation: pose.North}, r.Pose())
	assert.Equal(t, 110.0, r.Reading())
	assert.Equal(t, 1, *notified)

	est, mass := ml.Estimate()
	assert.Equal(t, r.Pose(), est)
	assert.InDelta(t, 1, mass, 1e-9)
}

func TestDiscreteRobotCollision(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 5, 5, 10)
	start := pose.Pose{X: 1, Y: 1, Orientation: pose.South}
	r, ml, notified := newDiscrete(t, w, motion.Deterministic{}, start)

	st, err := r.Move(pose.Forward)
	require.NoError(t, err)
	assert.True(t, st.Bumped)
	assert.Equal(t, start, r.Pose())
	assert.Equal(t, start, st.Pose)
	assert.Equal(t, 1, *notified, "a bump still fires exactly one notification")

	// The localizer only saw the reading from the unchanged pose.
	assert.InDelta(t, 1, ml.Belief(1, 1, pose.South), 1e-9)
}

func TestDiscreteRobotTurns(t *testing.T) {
	t.Parallel()

	w := testutil.OpenWorld(t, 3, 3, 10)
	r, _, notified := newDiscrete(t, w, motion.Deterministic{}, pose.Pose{X: 1, Y: 1})

	_, err := r.Move(pose.TurnLeft)
	require.NoError(t, err)
	assert.Equal(t, pose.NorthWest, r.Pose().Orientation)
	_, err = r.Move(pose.TurnRight)
	require.NoError(t, err)
	assert.Equal(t, pose.North, r.Pose().Orientation)
	assert.Equal(t, 2, *notified)
}

func TestDiscreteRobotStochasticStay(t *testing.T) {
	t.Parallel()

	m, err := motion.NewStochastic(0, 1, 0, rand.NewPCG(1, 1))
	require.NoError(t, err)
	w := testutil.OpenWorld(t, 3, 3, 10)
	r, _, _ := newDiscrete(t, w, m, pose.Pose{X: 1, Y: 1, Orientation: pose.East})

	st, err := r.Move(pose.Forward)
	require.NoError(t, err)
	assert.Equal(t, motion.Stay, st.Outcome)
	assert.False(t, st.Bumped)
	assert.Equal(t, 1.0, r.Pose().X)
}

func TestDiscreteRobotTeleport(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 5, 5, 10)
	r, _, notified := newDiscrete(t, w, motion.Deterministic{}, pose.Pose{X: 1, Y: 1})

	err := r.Teleport(0, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPose))
	assert.True(t, errors.Is(err, world.ErrOccupied))
	assert.Equal(t, 0, *notified)

	err = r.Teleport(7, 2)
	assert.True(t, errors.Is(err, world.ErrOutOfBounds))

	require.NoError(t, r.Teleport(3, 2))
	assert.Equal(t, 3.0, r.Pose().X)
	assert.Equal(t, 2.0, r.Pose().Y)
	assert.Equal(t, 320.0, r.Reading())
	assert.Equal(t, orb.Point{35, 25}, r.Origin())
	assert.Equal(t, 1, *notified)
}

func TestNewDiscreteRobotRejectsBlockedStart(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 5, 5, 10)
	s := &testutil.TileSensor{Tile: 10}
	ml, err := localization.NewMarkov(w, s, motion.Deterministic{}, localization.MarkovOptions{})
	require.NoError(t, err)

	_, err = NewDiscreteRobot(w, s, motion.Deterministic{}, ml, pose.Pose{X: 0, Y: 0})
	assert.True(t, errors.Is(err, ErrInvalidPose))
}

func TestDiscreteRobotReportsCollapse(t *testing.T) {
	t.Parallel()

	// The localizer is tuned for a different sensor, so no cell ever
	// matches and the correction step collapses.
	w := testutil.OpenWorld(t, 3, 3, 10)
	truth := testutil.FlatSensor{Value: -5, Score: 1}
	ml, err := localization.NewMarkov(w, &testutil.TileSensor{Tile: 10}, motion.Deterministic{}, localization.MarkovOptions{})
	require.NoError(t, err)
	r, err := NewDiscreteRobot(w, truth, motion.Deterministic{}, ml, pose.Pose{X: 1, Y: 1})
	require.NoError(t, err)
	n := 0
	r.Subscribe(func() { n++ })

	_, err = r.Move(pose.TurnLeft)
	assert.True(t, errors.Is(err, localization.ErrBeliefCollapse))
	assert.Equal(t, 1, n)
}

func newContinuous(t *testing.T, start pose.Pose) (*ContinuousRobot, *int) {
	t.Helper()
	w := testutil.WalledWorld(t, 5, 5, 10)
	s := testutil.FlatSensor{Value: 7, Score: 1}
	pf, err := localization.NewParticleFilter(w, s, motion.Deterministic{},
		localization.ParticleConfig{Count: 20, JitterRate: 0.1, NoiseScale: 0.5, WeightFloor: 1e-300, Step: 10},
		rand.NewPCG(2, 3))
	require.NoError(t, err)
	r, err := NewContinuousRobot(w, s, motion.Deterministic{}, pf, start, 10)
	require.NoError(t, err)
	n := 0
	r.Subscribe(func() { n++ })
	return r, &n
}

func TestContinuousRobotMoveAndCollide(t *testing.T) {
	t.Parallel()

	r, notified := newContinuous(t, pose.Pose{X: 25, Y: 25, Orientation: pose.North})

	st, err := r.Move(pose.Forward)
	require.NoError(t, err)
	assert.False(t, st.Bumped)
	assert.InDelta(t, 35, r.Pose().Y, 1e-9)
	assert.Equal(t, 7.0, st.Reading)

	st, err = r.Move(pose.Forward)
	require.NoError(t, err)
	assert.True(t, st.Bumped, "the top wall starts at y=40")
	assert.InDelta(t, 35, r.Pose().Y, 1e-9)
	assert.Equal(t, 2, *notified)

	_, err = r.Move(pose.Backward)
	require.NoError(t, err)
	assert.InDelta(t, 25, r.Pose().Y, 1e-9)
	assert.Equal(t, orb.Point{25, r.Pose().Y}, r.Origin())
}

func TestContinuousRobotTeleport(t *testing.T) {
	t.Parallel()

	r, notified := newContinuous(t, pose.Pose{X: 25, Y: 25})

	err := r.Teleport(5, 25)
	assert.True(t, errors.Is(err, ErrInvalidPose))
	assert.True(t, errors.Is(err, world.ErrOccupied))
	assert.Equal(t, 0, *notified)

	require.NoError(t, r.Teleport(32.5, 17.5))
	assert.Equal(t, pose.Pose{X: 32.5, Y: 17.5}, r.Pose())
	assert.Equal(t, 1, *notified)
}

func TestNewContinuousRobotValidates(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 5, 5, 10)
	_, err := NewContinuousRobot(w, testutil.FlatSensor{}, motion.Deterministic{}, nil, pose.Pose{X: 25, Y: 25}, 0)
	assert.Error(t, err)
	_, err = NewContinuousRobot(w, testutil.FlatSensor{}, motion.Deterministic{}, nil, pose.Pose{X: 60, Y: 25}, 1)
	assert.True(t, errors.Is(err, world.ErrOutOfBounds))
}
