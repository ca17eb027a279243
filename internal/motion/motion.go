// Package motion describes how an action moves the agent: the per-heading
// 3x3 kernels used by the grid localizer and the outcome sampler used by
// the robot and the particle filter.
package motion

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/localizer/internal/pose"
)

// ErrNotApplicable is returned when a kernel is requested for an action
// that does not translate the agent.
var ErrNotApplicable = errors.New("motion: turns have no spatial kernel")

// Kernel is the probability that mass in the centre cell ends up in each
// neighbouring cell, indexed [1+dx][1+dy].
type Kernel [3][3]float64

// Kernels holds one kernel per heading.
type Kernels [pose.NumOrientations]Kernel

// Outcome multiplies a commanded translation: 1 executes it, 0 ignores it
// and -1 reverses it.
type Outcome float64

const (
	Execute Outcome = 1
	Stay    Outcome = 0
	Reverse Outcome = -1
)

// Model maps actions to movement distributions.
type Model interface {
	// Kernels returns the 8 per-heading kernels for a translation, or
	// ErrNotApplicable for turns.
	Kernels(a pose.Action) (Kernels, error)
	// Sample draws the outcome of one commanded translation.
	Sample() Outcome
	// Deterministic reports whether Sample always returns Execute.
	Deterministic() bool
}

// Deterministic always executes the command.
type Deterministic struct{}

func (Deterministic) Kernels(a pose.Action) (Kernels, error) {
	return buildKernels(a, 1, 0, 0)
}

func (Deterministic) Sample() Outcome     { return Execute }
func (Deterministic) Deterministic() bool { return true }

// Stochastic executes, ignores or reverses a command with fixed
// probabilities.
type Stochastic struct {
	PForward  float64
	PStay     float64
	PBackward float64

	outcomes distuv.Categorical
}

// NewStochastic validates the probability triple and returns a model that
// draws its outcomes from src.
func NewStochastic(pForward, pStay, pBackward float64, src rand.Source) (*Stochastic, error) {
	for _, p := range []float64{pForward, pStay, pBackward} {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return nil, fmt.Errorf("motion probability %g outside [0, 1]", p)
		}
	}
	if sum := pForward + pStay + pBackward; math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("motion probabilities sum to %g, want 1", sum)
	}
	return &Stochastic{
		PForward:  pForward,
		PStay:     pStay,
		PBackward: pBackward,
		outcomes:  distuv.NewCategorical([]float64{pForward, pStay, pBackward}, src),
	}, nil
}

func (s *Stochastic) Kernels(a pose.Action) (Kernels, error) {
	return buildKernels(a, s.PForward, s.PStay, s.PBackward)
}

func (s *Stochastic) Sample() Outcome {
	switch int(s.outcomes.Rand()) {
	case 0:
		return Execute
	case 1:
		return Stay
	default:
		return Reverse
	}
}

func (s *Stochastic) Deterministic() bool { return false }

// buildKernels places pAhead one step along the heading of travel, pStay
// in the centre and pBehind one step the other way. BACKWARD travels along
// the opposite heading, which swaps the forward and backward cells.
func buildKernels(a pose.Action, pAhead, pStay, pBehind float64) (Kernels, error) {
	if a != pose.Forward && a != pose.Backward {
		return Kernels{}, fmt.Errorf("kernel for %s: %w", a, ErrNotApplicable)
	}
	var ks Kernels
	for _, o := range pose.Orientations() {
		dx, dy := pose.Heading(o, a).Direction()
		k := &ks[o]
		k[1+dx][1+dy] += pAhead
		k[1][1] += pStay
		k[1-dx][1-dy] += pBehind
	}
	return ks, nil
}
