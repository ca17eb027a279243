package localization

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/localizer/internal/motion"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/sensor"
	"github.com/banshee-data/localizer/internal/world"
)

// MarkovOptions tunes the grid filter.
type MarkovOptions struct {
	// RetainBlockedMass keeps mass that would move into a blocked or
	// off-grid tile in its source tile instead of dropping it.
	RetainBlockedMass bool
}

// Markov is a grid Bayes filter. Belief and the precomputed readings are
// stored as one cols x rows matrix per heading, indexed (i, j).
type Markov struct {
	world  *world.World
	sensor sensor.Model
	motion motion.Model
	opts   MarkovOptions

	cols, rows int
	belief     [pose.NumOrientations]*mat.Dense
	truth      [pose.NumOrientations]*mat.Dense
}

// NewMarkov precomputes the reading every walkable tile would produce in
// every heading and starts from a uniform belief over walkable tiles.
func NewMarkov(w *world.World, s sensor.Model, m motion.Model, opts MarkovOptions) (*Markov, error) {
	if w.WalkableCount() == 0 {
		return nil, fmt.Errorf("world has no walkable tiles: %w", ErrBeliefCollapse)
	}
	ml := &Markov{
		world:  w,
		sensor: s,
		motion: m,
		opts:   opts,
		cols:   w.Cols(),
		rows:   w.Rows(),
	}
	for _, o := range pose.Orientations() {
		t := mat.NewDense(ml.cols, ml.rows, nil)
		for i := 0; i < ml.cols; i++ {
			for j := 0; j < ml.rows; j++ {
				if w.IsWalkable(i, j) {
					t.Set(i, j, s.TrueReading(w.TileCenter(i, j), o))
				}
			}
		}
		ml.truth[o] = t
	}
	ml.Reset()
	return ml, nil
}

func (ml *Markov) Name() string { return "markov" }

// Reset restores the uniform prior.
func (ml *Markov) Reset() {
	p := 1 / float64(ml.world.WalkableCount()*pose.NumOrientations)
	for _, o := range pose.Orientations() {
		b := mat.NewDense(ml.cols, ml.rows, nil)
		for i := 0; i < ml.cols; i++ {
			for j := 0; j < ml.rows; j++ {
				if ml.world.IsWalkable(i, j) {
					b.Set(i, j, p)
				}
			}
		}
		ml.belief[o] = b
	}
}

// Act shifts the heading axis for turns and convolves each heading slice
// with its motion kernel for translations. The result is masked to walkable
// tiles and renormalized.
func (ml *Markov) Act(a pose.Action) error {
	kernels, err := ml.motion.Kernels(a)
	if errors.Is(err, motion.ErrNotApplicable) {
		return ml.commit(ml.turn(a))
	}
	if err != nil {
		return err
	}

	var next [pose.NumOrientations]*mat.Dense
	for _, o := range pose.Orientations() {
		next[o] = ml.convolve(ml.belief[o], &kernels[o])
	}
	return ml.commit(next)
}

// turn is an exact permutation of the heading axis: turning right moves
// the mass for heading o to heading o+1.
func (ml *Markov) turn(a pose.Action) [pose.NumOrientations]*mat.Dense {
	var next [pose.NumOrientations]*mat.Dense
	for _, o := range pose.Orientations() {
		next[pose.Turn(o, a)] = mat.DenseCopyOf(ml.belief[o])
	}
	return next
}

// convolve scatters every cell's mass through k. Cells outside the grid
// are zero padding, so mass pushed past the edge is lost unless
// RetainBlockedMass is set.
func (ml *Markov) convolve(src *mat.Dense, k *motion.Kernel) *mat.Dense {
	dst := mat.NewDense(ml.cols, ml.rows, nil)
	for i := 0; i < ml.cols; i++ {
		for j := 0; j < ml.rows; j++ {
			v := src.At(i, j)
			if v == 0 {
				continue
			}
			for kx := 0; kx < 3; kx++ {
				for ky := 0; ky < 3; ky++ {
					p := k[kx][ky]
					if p == 0 {
						continue
					}
					ni, nj := i+kx-1, j+ky-1
					if ml.opts.RetainBlockedMass && !ml.world.IsWalkable(ni, nj) {
						ni, nj = i, j
					}
					if ni < 0 || nj < 0 || ni >= ml.cols || nj >= ml.rows {
						continue
					}
					dst.Set(ni, nj, dst.At(ni, nj)+v*p)
				}
			}
		}
	}
	return dst
}

// See multiplies the belief by the likelihood of the measurement at every
// tile and heading and renormalizes.
func (ml *Markov) See(measurement float64) error {
	var next [pose.NumOrientations]*mat.Dense
	for _, o := range pose.Orientations() {
		b := mat.NewDense(ml.cols, ml.rows, nil)
		for i := 0; i < ml.cols; i++ {
			for j := 0; j < ml.rows; j++ {
				v := ml.belief[o].At(i, j)
				if v == 0 {
					continue
				}
				b.Set(i, j, v*ml.sensor.Likelihood(ml.truth[o].At(i, j), measurement))
			}
		}
		next[o] = b
	}
	if err := ml.commit(next); err != nil {
		return fmt.Errorf("measurement %.3f: %w", measurement, err)
	}
	return nil
}

// commit zeroes blocked tiles, normalizes next and installs it. A belief
// with no mass is rejected and the current belief is kept.
func (ml *Markov) commit(next [pose.NumOrientations]*mat.Dense) error {
	var total float64
	for _, b := range next {
		for i := 0; i < ml.cols; i++ {
			for j := 0; j < ml.rows; j++ {
				if !ml.world.IsWalkable(i, j) {
					b.Set(i, j, 0)
				}
			}
		}
		total += mat.Sum(b)
	}
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		logf("markov: rejecting update with total mass %g", total)
		return ErrBeliefCollapse
	}
	for _, b := range next {
		b.Scale(1/total, b)
	}
	ml.belief = next
	return nil
}

// Cols returns the grid width in tiles.
func (ml *Markov) Cols() int { return ml.cols }

// Rows returns the grid height in tiles.
func (ml *Markov) Rows() int { return ml.rows }

// Belief returns the probability of pose (i, j, o).
func (ml *Markov) Belief(i, j int, o pose.Orientation) float64 {
	if i < 0 || j < 0 || i >= ml.cols || j >= ml.rows || !o.Valid() {
		return 0
	}
	return ml.belief[o].At(i, j)
}

// Slice returns a copy of the belief for heading o.
func (ml *Markov) Slice(o pose.Orientation) *mat.Dense {
	return mat.DenseCopyOf(ml.belief[o])
}

// TrueMeasurement returns the precomputed reading for pose (i, j, o).
// Blocked tiles hold 0.
func (ml *Markov) TrueMeasurement(i, j int, o pose.Orientation) float64 {
	return ml.truth[o].At(i, j)
}

// Marginal returns the belief summed over heading.
func (ml *Markov) Marginal() *mat.Dense {
	m := mat.NewDense(ml.cols, ml.rows, nil)
	for _, b := range ml.belief {
		m.Add(m, b)
	}
	return m
}

// Sum returns the total belief mass.
func (ml *Markov) Sum() float64 {
	var s float64
	for _, b := range ml.belief {
		s += mat.Sum(b)
	}
	return s
}

// Estimate returns the most likely tile and heading and its probability.
// Ties keep the lowest heading, then the lowest i, then the lowest j.
func (ml *Markov) Estimate() (pose.Pose, float64) {
	var best pose.Pose
	bestP := -1.0
	for _, o := range pose.Orientations() {
		for i := 0; i < ml.cols; i++ {
			for j := 0; j < ml.rows; j++ {
				if p := ml.belief[o].At(i, j); p > bestP {
					bestP = p
					best = pose.Pose{X: float64(i), Y: float64(j), Orientation: o}
				}
			}
		}
	}
	return best, bestP
}

// Entropy returns the Shannon entropy of the belief in nats.
func (ml *Markov) Entropy() float64 {
	var h float64
	for _, b := range ml.belief {
		for i := 0; i < ml.cols; i++ {
			for j := 0; j < ml.rows; j++ {
				if p := b.At(i, j); p > 0 {
					h -= p * math.Log(p)
				}
			}
		}
	}
	return h
}
