package localization

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/localizer/internal/config"
	"github.com/banshee-data/localizer/internal/motion"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/sensor"
	"github.com/banshee-data/localizer/internal/world"
)

// maxSampleAttempts bounds the rejection sampler used to place particles in
// free space.
const maxSampleAttempts = 100000

// ErrNoFreeSpace is returned when no free position can be sampled.
var ErrNoFreeSpace = errors.New("localization: no free space to place particles")

// Particle is one weighted pose hypothesis in world units.
type Particle struct {
	X           float64
	Y           float64
	Orientation pose.Orientation
	Weight      float64
}

// ParticleConfig holds the particle filter parameters.
type ParticleConfig struct {
	Count       int     // particles drawn at init and on every resample
	JitterRate  float64 // fraction of Count added as fresh particles after resampling
	NoiseScale  float64 // scales the position noise applied on resampling
	WeightFloor float64 // added to every weight before normalization
	Step        float64 // distance covered by one translation, in world units
}

// ParticleConfigFromScenario derives filter parameters from a scenario. One
// translation covers speed/fps tiles.
func ParticleConfigFromScenario(cfg *config.ScenarioConfig) ParticleConfig {
	return ParticleConfig{
		Count:       cfg.GetParticleCount(),
		JitterRate:  cfg.GetJitterRate(),
		NoiseScale:  cfg.GetParticleNoiseScale(),
		WeightFloor: cfg.GetWeightFloor(),
		Step:        cfg.GetSpeed() * cfg.GetFrameStep() * cfg.GetTileSize(),
	}
}

// ParticleFilter is a Monte Carlo localizer.
type ParticleFilter struct {
	world  *world.World
	sensor sensor.Model
	motion motion.Model
	cfg    ParticleConfig

	src       rand.Source
	rng       *rand.Rand
	xs, ys    distuv.Uniform
	particles []Particle
	resamples int
}

// NewParticleFilter places cfg.Count particles uniformly in free space.
func NewParticleFilter(w *world.World, s sensor.Model, m motion.Model, cfg ParticleConfig, src rand.Source) (*ParticleFilter, error) {
	if cfg.Count < 1 {
		return nil, fmt.Errorf("particle count must be at least 1, got %d", cfg.Count)
	}
	if cfg.WeightFloor < 0 {
		return nil, fmt.Errorf("weight floor must be non-negative, got %g", cfg.WeightFloor)
	}
	pf := &ParticleFilter{
		world:  w,
		sensor: s,
		motion: m,
		cfg:    cfg,
		src:    src,
		rng:    rand.New(src),
		xs:     distuv.Uniform{Min: 0, Max: w.Width(), Src: src},
		ys:     distuv.Uniform{Min: 0, Max: w.Height(), Src: src},
	}
	if err := pf.initialize(); err != nil {
		return nil, err
	}
	return pf, nil
}

func (pf *ParticleFilter) Name() string { return "particle" }

func (pf *ParticleFilter) initialize() error {
	ps := make([]Particle, 0, pf.cfg.Count)
	for range pf.cfg.Count {
		p, err := pf.randomParticle()
		if err != nil {
			return err
		}
		ps = append(ps, p)
	}
	setUniform(ps)
	pf.particles = ps
	return nil
}

// Reset redraws the initial population.
func (pf *ParticleFilter) Reset() {
	if err := pf.initialize(); err != nil {
		logf("particle: reset failed: %v", err)
	}
}

// randomParticle draws a free position and a uniform heading.
func (pf *ParticleFilter) randomParticle() (Particle, error) {
	for range maxSampleAttempts {
		x, y := pf.xs.Rand(), pf.ys.Rand()
		if pf.world.IsOccupied(x, y) {
			continue
		}
		return Particle{X: x, Y: y, Orientation: pose.Orientation(pf.rng.IntN(pose.NumOrientations))}, nil
	}
	return Particle{}, ErrNoFreeSpace
}

// SetParticles replaces the population. Every particle must lie in free
// space and weights must not all be zero; they are normalized to sum to 1.
func (pf *ParticleFilter) SetParticles(ps []Particle) error {
	if len(ps) == 0 {
		return errors.New("particle set is empty")
	}
	out := make([]Particle, len(ps))
	var total float64
	for i, p := range ps {
		if err := pf.world.ValidatePoint(p.X, p.Y); err != nil {
			return fmt.Errorf("particle %d: %w", i, err)
		}
		if !p.Orientation.Valid() || p.Weight < 0 || math.IsNaN(p.Weight) {
			return fmt.Errorf("particle %d: invalid orientation %d or weight %g", i, p.Orientation, p.Weight)
		}
		out[i] = p
		total += p.Weight
	}
	if total == 0 {
		return fmt.Errorf("particle weights sum to zero: %w", ErrBeliefCollapse)
	}
	for i := range out {
		out[i].Weight /= total
	}
	pf.particles = out
	return nil
}

// Act moves every particle. Translations draw their own outcome from the
// motion model and are discarded when they would leave free space.
func (pf *ParticleFilter) Act(a pose.Action) error {
	for i := range pf.particles {
		p := &pf.particles[i]
		if a.IsTurn() {
			p.Orientation = pose.Turn(p.Orientation, a)
			continue
		}
		k := float64(pf.motion.Sample()) * pf.cfg.Step
		ux, uy := pose.Heading(p.Orientation, a).UnitVector()
		nx, ny := p.X+k*ux, p.Y+k*uy
		if pf.world.IsFree(nx, ny) {
			p.X, p.Y = nx, ny
		}
	}
	return nil
}

// See reweights every particle by the likelihood of the measurement from
// its own pose, then resamples when the effective sample size drops below
// half the population.
func (pf *ParticleFilter) See(measurement float64) error {
	w := make([]float64, len(pf.particles))
	for i, p := range pf.particles {
		expected := pf.sensor.TrueReading(orb.Point{p.X, p.Y}, p.Orientation)
		w[i] = p.Weight*pf.sensor.Likelihood(expected, measurement) + pf.cfg.WeightFloor
	}
	total := floats.Sum(w)
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		logf("particle: rejecting measurement %.3f with total weight %g", measurement, total)
		return fmt.Errorf("measurement %.3f: %w", measurement, ErrBeliefCollapse)
	}
	floats.Scale(1/total, w)
	for i := range pf.particles {
		pf.particles[i].Weight = w[i]
	}

	if ess := pf.ESS(); ess < float64(len(pf.particles))/2 {
		pf.resample()
	}
	return nil
}

// ESS returns the effective sample size 1 / sum(w^2).
func (pf *ParticleFilter) ESS() float64 {
	var s float64
	for _, p := range pf.particles {
		s += p.Weight * p.Weight
	}
	if s == 0 {
		return 0
	}
	return 1 / s
}

// resample draws Count particles with replacement in proportion to weight,
// perturbs each one and then adds floor(JitterRate*Count) fresh particles.
// All weights end equal.
func (pf *ParticleFilter) resample() {
	weights := make([]float64, len(pf.particles))
	for i, p := range pf.particles {
		weights[i] = p.Weight
	}
	pick := distuv.NewCategorical(weights, pf.src)

	n := pf.cfg.Count
	jitter := int(pf.cfg.JitterRate * float64(n))
	next := make([]Particle, 0, n+jitter)
	for range n {
		p := pf.particles[int(pick.Rand())]
		next = append(next, pf.perturb(p))
	}
	for range jitter {
		p, err := pf.randomParticle()
		if err != nil {
			break
		}
		next = append(next, p)
	}
	setUniform(next)

	logf("particle: resampled %d particles (+%d jitter)", n, len(next)-n)
	pf.particles = next
	pf.resamples++
}

// perturb adds position noise with sd sqrt(1/w)*NoiseScale and moves the
// heading one step either way with probability (1-sqrt(1-w))/2 each.
// Noisy positions outside free space are discarded.
func (pf *ParticleFilter) perturb(p Particle) Particle {
	sd := math.Sqrt(1/p.Weight) * pf.cfg.NoiseScale
	if sd > 0 && !math.IsInf(sd, 0) {
		noise := distuv.Normal{Mu: 0, Sigma: sd, Src: pf.src}
		nx, ny := p.X+noise.Rand(), p.Y+noise.Rand()
		if pf.world.IsFree(nx, ny) {
			p.X, p.Y = nx, ny
		}
	}

	stay := math.Sqrt(math.Max(0, 1-p.Weight))
	shift := (1 - stay) / 2
	switch u := pf.rng.Float64(); {
	case u < shift:
		p.Orientation = p.Orientation.Rotate(-1)
	case u < 2*shift:
		p.Orientation = p.Orientation.Rotate(1)
	}
	return p
}

func setUniform(ps []Particle) {
	w := 1 / float64(len(ps))
	for i := range ps {
		ps[i].Weight = w
	}
}

// Particles returns a copy of the population.
func (pf *ParticleFilter) Particles() []Particle {
	out := make([]Particle, len(pf.particles))
	copy(out, pf.particles)
	return out
}

// Len returns the current population size.
func (pf *ParticleFilter) Len() int { return len(pf.particles) }

// Resamples returns how many times the population has been resampled.
func (pf *ParticleFilter) Resamples() int { return pf.resamples }

// Estimate returns the weighted mean position and the heading with the
// largest total weight. The returned mass is that heading's share.
func (pf *ParticleFilter) Estimate() (pose.Pose, float64) {
	var x, y, total float64
	var byHeading [pose.NumOrientations]float64
	for _, p := range pf.particles {
		x += p.Weight * p.X
		y += p.Weight * p.Y
		total += p.Weight
		byHeading[p.Orientation] += p.Weight
	}
	if total == 0 {
		return pose.Pose{}, 0
	}
	best := floats.MaxIdx(byHeading[:])
	return pose.Pose{X: x / total, Y: y / total, Orientation: pose.Orientation(best)}, byHeading[best] / total
}
