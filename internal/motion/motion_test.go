package motion

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localizer/internal/pose"
)

func TestDeterministicKernels(t *testing.T) {
	t.Parallel()

	ks, err := Deterministic{}.Kernels(pose.Forward)
	require.NoError(t, err)

	want := Kernel{}
	want[1][2] = 1 // north moves +y
	if diff := cmp.Diff(want, ks[pose.North]); diff != "" {
		t.Errorf("north kernel mismatch (-want +got):\n%s", diff)
	}

	want = Kernel{}
	want[2][0] = 1 // south-east moves (+1, -1)
	if diff := cmp.Diff(want, ks[pose.SouthEast]); diff != "" {
		t.Errorf("south-east kernel mismatch (-want +got):\n%s", diff)
	}

	back, err := Deterministic{}.Kernels(pose.Backward)
	require.NoError(t, err)
	want = Kernel{}
	want[1][0] = 1
	if diff := cmp.Diff(want, back[pose.North]); diff != "" {
		t.Errorf("north backward kernel mismatch (-want +got):\n%s", diff)
	}
}

func TestKernelsRejectTurns(t *testing.T) {
	t.Parallel()

	for _, a := range []pose.Action{pose.TurnLeft, pose.TurnRight} {
		_, err := Deterministic{}.Kernels(a)
		assert.True(t, errors.Is(err, ErrNotApplicable), "%s", a)
	}
}

func TestStochasticKernels(t *testing.T) {
	t.Parallel()

	m, err := NewStochastic(0.7, 0.2, 0.1, rand.NewPCG(1, 1))
	require.NoError(t, err)

	fwd, err := m.Kernels(pose.Forward)
	require.NoError(t, err)
	back, err := m.Kernels(pose.Backward)
	require.NoError(t, err)

	for _, o := range pose.Orientations() {
		dx, dy := o.Direction()
		var sum float64
		for _, row := range fwd[o] {
			for _, v := range row {
				sum += v
			}
		}
		assert.InDelta(t, 1, sum, 1e-12, "%s kernel mass", o)
		assert.Equal(t, 0.7, fwd[o][1+dx][1+dy])
		assert.Equal(t, 0.2, fwd[o][1][1])
		assert.Equal(t, 0.1, fwd[o][1-dx][1-dy])

		// BACKWARD swaps the forward and backward probabilities.
		assert.Equal(t, 0.1, back[o][1+dx][1+dy])
		assert.Equal(t, 0.7, back[o][1-dx][1-dy])
	}
}

func TestNewStochasticValidates(t *testing.T) {
	t.Parallel()

	_, err := NewStochastic(0.5, 0.5, 0.5, rand.NewPCG(1, 1))
	assert.Error(t, err)
	_, err = NewStochastic(1.2, -0.1, -0.1, rand.NewPCG(1, 1))
	assert.Error(t, err)
}

func TestStochasticSampleFrequencies(t *testing.T) {
	t.Parallel()

	m, err := NewStochastic(0.6, 0.3, 0.1, rand.NewPCG(7, 11))
	require.NoError(t, err)
	assert.False(t, m.Deterministic())

	counts := map[Outcome]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		counts[m.Sample()]++
	}
	assert.InDelta(t, 0.6, float64(counts[Execute])/n, 0.02)
	assert.InDelta(t, 0.3, float64(counts[Stay])/n, 0.02)
	assert.InDelta(t, 0.1, float64(counts[Reverse])/n, 0.02)
}

func TestDeterministicSample(t *testing.T) {
	t.Parallel()

	var m Model = Deterministic{}
	assert.True(t, m.Deterministic())
	assert.Equal(t, Execute, m.Sample())
}
