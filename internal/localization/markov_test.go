package localization

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localizer/internal/geometry"
	"github.com/banshee-data/localizer/internal/motion"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/sensor"
	"github.com/banshee-data/localizer/internal/testutil"
	"github.com/banshee-data/localizer/internal/world"
)

const tol = 1e-9

func newOpenMarkov(t *testing.T, m motion.Model, opts MarkovOptions) (*Markov, *testutil.TileSensor) {
	t.Helper()
	s := &testutil.TileSensor{Tile: 10}
	ml, err := NewMarkov(testutil.OpenWorld(t, 3, 3, 10), s, m, opts)
	require.NoError(t, err)
	return ml, s
}

// focus collapses the belief onto pose (i, j, o) with an exact reading.
func focus(t *testing.T, ml *Markov, s *testutil.TileSensor, i, j int, o pose.Orientation) {
	t.Helper()
	require.NoError(t, ml.See(s.Reading(i, j, o)))
	require.InDelta(t, 1, ml.Belief(i, j, o), tol)
}

func assertNormalized(t *testing.T, ml *Markov, w *world.World) {
	t.Helper()
	assert.InDelta(t, 1, ml.Sum(), 1e-9)
	for i := 0; i < ml.Cols(); i++ {
		for j := 0; j < ml.Rows(); j++ {
			if w.IsWalkable(i, j) {
				continue
			}
			for _, o := range pose.Orientations() {
				if ml.Belief(i, j, o) != 0 {
					t.Fatalf("blocked tile (%d, %d, %s) holds %g", i, j, o, ml.Belief(i, j, o))
				}
			}
		}
	}
}

func TestMarkovUniformPrior(t *testing.T) {
	t.Parallel()

	ml, _ := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{})
	for _, o := range pose.Orientations() {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				assert.InDelta(t, 1.0/72, ml.Belief(i, j, o), tol)
			}
		}
	}
	assert.InDelta(t, math.Log(72), ml.Entropy(), 1e-9)
}

func TestMarkovConcreteScenario(t *testing.T) {
	t.Parallel()

	// The agent sits at (1, 0) facing north and moves forward to (1, 1).
	ml, s := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{})

	require.NoError(t, ml.Act(pose.Forward))
	assert.InDelta(t, 1, ml.Sum(), tol)

	require.NoError(t, ml.See(s.Reading(1, 1, pose.North)))

	for _, o := range pose.Orientations() {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				want := 0.0
				if i == 1 && j == 1 && o == pose.North {
					want = 1
				}
				assert.InDelta(t, want, ml.Belief(i, j, o), tol, "(%d, %d, %s)", i, j, o)
			}
		}
	}

	est, mass := ml.Estimate()
	assert.Equal(t, pose.Pose{X: 1, Y: 1, Orientation: pose.North}, est)
	assert.InDelta(t, 1, mass, tol)
	assert.InDelta(t, 0, ml.Entropy(), tol)
}

// lWorld is a walled corridor four tiles tall in column 1 with a
// three-tile arm along row 1. The L shape has no mirror symmetry, so laser
// readings eventually single out one pose.
func lWorld(t *testing.T) *world.World {
	t.Helper()
	block, err := geometry.NewRectangle(20, 20, 20, 30)
	require.NoError(t, err)
	w, err := world.New(world.Config{Width: 50, Height: 60, TileSize: 10, WallThickness: 10, Objects: []geometry.Shape{block}})
	require.NoError(t, err)
	require.Equal(t, 6, w.WalkableCount())
	return w
}

func TestMarkovLaserCollapsesToTruePose(t *testing.T) {
	t.Parallel()

	w := lWorld(t)
	laser := sensor.NewLaser(w, 100, 1e-6)
	ml, err := NewMarkov(w, laser, motion.Deterministic{}, MarkovOptions{})
	require.NoError(t, err)
	reading := func(i, j int, o pose.Orientation) float64 {
		return laser.TrueReading(w.TileCenter(i, j), o)
	}

	// The agent starts at (1, 2) facing south and steps into the corner.
	require.NoError(t, ml.Act(pose.Forward))
	require.NoError(t, ml.See(reading(1, 1, pose.South)))

	// Every pose one tile from a wall is still possible.
	for _, p := range []pose.Pose{
		{X: 1, Y: 4, Orientation: pose.North},
		{X: 1, Y: 1, Orientation: pose.South},
		{X: 3, Y: 1, Orientation: pose.East},
		{X: 1, Y: 1, Orientation: pose.West},
	} {
		assert.InDelta(t, 0.25, ml.Belief(int(p.X), int(p.Y), p.Orientation), tol, "%s", p)
	}
	assertNormalized(t, ml, w)

	// Facing east from the corner looks down the arm, which no other
	// candidate can see.
	require.NoError(t, ml.Act(pose.TurnLeft))
	require.NoError(t, ml.Act(pose.TurnLeft))
	require.NoError(t, ml.See(reading(1, 1, pose.East)))
	assert.InDelta(t, 25, reading(1, 1, pose.East), 1e-9)

	est, mass := ml.Estimate()
	assert.Equal(t, pose.Pose{X: 1, Y: 1, Orientation: pose.East}, est)
	assert.InDelta(t, 1, mass, tol)
	assert.InDelta(t, 1, ml.Belief(1, 1, pose.East), tol)
	assertNormalized(t, ml, w)

	// A reading no walkable pose can produce is rejected.
	err = ml.See(3)
	assert.True(t, errors.Is(err, ErrBeliefCollapse))
	assert.InDelta(t, 1, ml.Belief(1, 1, pose.East), tol)
}

func TestMarkovForwardDropsMassAtGridEdge(t *testing.T) {
	t.Parallel()

	ml, _ := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{})
	require.NoError(t, ml.Act(pose.Forward))

	// Northbound mass in the top row left the grid; the bottom row has
	// nothing flowing in from below.
	for i := 0; i < 3; i++ {
		assert.Zero(t, ml.Belief(i, 0, pose.North))
		assert.Greater(t, ml.Belief(i, 2, pose.North), 0.0)
	}
}

func TestMarkovCollapseLeavesBeliefUntouched(t *testing.T) {
	t.Parallel()

	ml, s := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{})
	focus(t, ml, s, 1, 2, pose.North)
	before := ml.Slice(pose.North)

	// Moving north off the top edge would drop all mass.
	err := ml.Act(pose.Forward)
	require.True(t, errors.Is(err, ErrBeliefCollapse))
	assert.True(t, cmp.Equal(before.RawMatrix().Data, ml.Slice(pose.North).RawMatrix().Data))

	err = ml.See(9999)
	require.True(t, errors.Is(err, ErrBeliefCollapse))
	assert.InDelta(t, 1, ml.Belief(1, 2, pose.North), tol)
}

func TestMarkovRetainBlockedMass(t *testing.T) {
	t.Parallel()

	ml, s := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{RetainBlockedMass: true})
	focus(t, ml, s, 1, 2, pose.North)

	require.NoError(t, ml.Act(pose.Forward))
	assert.InDelta(t, 1, ml.Belief(1, 2, pose.North), tol)
}

func TestMarkovStochasticForward(t *testing.T) {
	t.Parallel()

	m, err := motion.NewStochastic(0.8, 0.1, 0.1, rand.NewPCG(1, 2))
	require.NoError(t, err)
	ml, s := newOpenMarkov(t, m, MarkovOptions{})
	focus(t, ml, s, 1, 1, pose.North)

	require.NoError(t, ml.Act(pose.Forward))
	assert.InDelta(t, 0.8, ml.Belief(1, 2, pose.North), tol)
	assert.InDelta(t, 0.1, ml.Belief(1, 1, pose.North), tol)
	assert.InDelta(t, 0.1, ml.Belief(1, 0, pose.North), tol)

	focus(t, ml, s, 1, 1, pose.North)
	require.NoError(t, ml.Act(pose.Backward))
	assert.InDelta(t, 0.8, ml.Belief(1, 0, pose.North), tol)
	assert.InDelta(t, 0.1, ml.Belief(1, 2, pose.North), tol)
}

func TestMarkovDiagonalMove(t *testing.T) {
	t.Parallel()

	ml, s := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{})
	focus(t, ml, s, 0, 2, pose.SouthEast)

	require.NoError(t, ml.Act(pose.Forward))
	assert.InDelta(t, 1, ml.Belief(1, 1, pose.SouthEast), tol)
}

func TestMarkovTurns(t *testing.T) {
	t.Parallel()

	ml, s := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{})
	focus(t, ml, s, 2, 0, pose.North)

	require.NoError(t, ml.Act(pose.TurnRight))
	assert.InDelta(t, 1, ml.Belief(2, 0, pose.NorthEast), tol)

	require.NoError(t, ml.Act(pose.TurnLeft))
	require.NoError(t, ml.Act(pose.TurnLeft))
	assert.InDelta(t, 1, ml.Belief(2, 0, pose.NorthWest), tol)
}

func TestMarkovTurnClosure(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 6, 5, 10)
	ml, err := NewMarkov(w, sensor.NewLaser(w, 200, 1e-6), motion.Deterministic{}, MarkovOptions{})
	require.NoError(t, err)
	require.NoError(t, ml.See(ml.TrueMeasurement(2, 2, pose.East)))

	var before [pose.NumOrientations][]float64
	for _, o := range pose.Orientations() {
		before[o] = ml.Slice(o).RawMatrix().Data
	}

	require.NoError(t, ml.Act(pose.TurnLeft))
	require.NoError(t, ml.Act(pose.TurnRight))

	for _, o := range pose.Orientations() {
		if diff := cmp.Diff(before[o], ml.Slice(o).RawMatrix().Data, cmpopts.EquateApprox(0, tol)); diff != "" {
			t.Errorf("heading %s changed (-before +after):\n%s", o, diff)
		}
	}
}

func TestMarkovTrueMeasurementTable(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 6, 5, 10)
	ml, err := NewMarkov(w, sensor.NewLaser(w, 200, 1e-6), motion.Deterministic{}, MarkovOptions{})
	require.NoError(t, err)

	// Tile (1, 1) has its centre at (15, 15); the inner wall faces are at
	// 10 and 50 (x) and 10 and 40 (y).
	assert.InDelta(t, 25, ml.TrueMeasurement(1, 1, pose.North), tol)
	assert.InDelta(t, 35, ml.TrueMeasurement(1, 1, pose.East), tol)
	assert.InDelta(t, 5, ml.TrueMeasurement(1, 1, pose.South), tol)
	assert.Zero(t, ml.TrueMeasurement(0, 0, pose.North), "blocked tiles are never cast")

	short, err := NewMarkov(w, sensor.NewLaser(w, 1, 1e-6), motion.Deterministic{}, MarkovOptions{})
	require.NoError(t, err)
	assert.Equal(t, sensor.NoReading, short.TrueMeasurement(2, 2, pose.North))
}

func TestMarkovNormalizationInvariant(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 8, 6, 10)
	src := rand.NewPCG(42, 7)
	m, err := motion.NewStochastic(0.8, 0.1, 0.1, src)
	require.NoError(t, err)
	laser := sensor.NewUncertainLaser(w, 200, 2, src)
	ml, err := NewMarkov(w, laser, m, MarkovOptions{})
	require.NoError(t, err)
	assertNormalized(t, ml, w)

	truth := pose.Pose{X: 2, Y: 2, Orientation: pose.North}
	actions := []pose.Action{pose.Forward, pose.TurnRight, pose.Forward, pose.Forward, pose.TurnLeft, pose.Backward}
	for _, a := range actions {
		require.NoError(t, ml.Act(a))
		assertNormalized(t, ml, w)

		truth.Orientation = pose.Turn(truth.Orientation, a)
		z := laser.Sense(w.TileCenter(truth.Tile()), truth.Orientation)
		require.NoError(t, ml.See(z))
		assertNormalized(t, ml, w)
	}
}

func TestMarkovMarginal(t *testing.T) {
	t.Parallel()

	ml, s := newOpenMarkov(t, motion.Deterministic{}, MarkovOptions{})
	m := ml.Marginal()
	assert.InDelta(t, 8.0/72, m.At(0, 0), tol)

	focus(t, ml, s, 2, 1, pose.West)
	m = ml.Marginal()
	assert.InDelta(t, 1, m.At(2, 1), tol)
	assert.InDelta(t, 0, m.At(0, 0), tol)

	ml.Reset()
	assert.InDelta(t, 1.0/72, ml.Belief(2, 1, pose.West), tol)
}

func TestNewMarkovRejectsBlockedWorld(t *testing.T) {
	t.Parallel()

	w := testutil.WalledWorld(t, 2, 2, 10)
	_, err := NewMarkov(w, sensor.NewLaser(w, 10, 1e-6), motion.Deterministic{}, MarkovOptions{})
	assert.Error(t, err)
}

var (
	_ Strategy = (*Markov)(nil)
	_ Strategy = (*ParticleFilter)(nil)
)
