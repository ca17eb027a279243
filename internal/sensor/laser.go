// Package sensor implements the single-beam range finder carried by the
// agent. A beam is cast from the agent's centre along its heading and
// reports the distance to the nearest obstacle boundary.
package sensor

import (
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/localizer/internal/geometry"
	"github.com/banshee-data/localizer/internal/pose"
)

// NoReading is returned when nothing lies within range. Real readings are
// distances and therefore never negative.
const NoReading = -1.0

// RayCaster is the part of the world a sensor needs.
type RayCaster interface {
	RayIntersections(seg geometry.Segment) []orb.Point
}

// Model is a range sensor plus its measurement model.
type Model interface {
	// TrueReading returns the noise-free distance seen from origin along o.
	TrueReading(origin orb.Point, o pose.Orientation) float64
	// Sense returns a measurement as the sensor would report it and
	// records the beam's end point.
	Sense(origin orb.Point, o pose.Orientation) float64
	// Likelihood returns p(observed | trueValue).
	Likelihood(trueValue, observed float64) float64
}

// Laser is a noise-free range sensor. Its likelihood is an indicator that
// accepts readings within Epsilon of the true value.
type Laser struct {
	world   RayCaster
	Range   float64
	Epsilon float64

	hit    orb.Point
	hasHit bool
}

// NewLaser returns a laser with the given maximum range.
func NewLaser(world RayCaster, sensorRange, epsilon float64) *Laser {
	return &Laser{world: world, Range: sensorRange, Epsilon: epsilon}
}

// cast returns the nearest boundary point along the beam.
func (l *Laser) cast(origin orb.Point, o pose.Orientation) (orb.Point, float64, bool) {
	beam := geometry.Ray(origin, l.Range, o.RotationDegrees())
	return geometry.Closest(origin, l.world.RayIntersections(beam))
}

func (l *Laser) TrueReading(origin orb.Point, o pose.Orientation) float64 {
	_, d, ok := l.cast(origin, o)
	if !ok {
		return NoReading
	}
	return d
}

func (l *Laser) Sense(origin orb.Point, o pose.Orientation) float64 {
	p, d, ok := l.cast(origin, o)
	l.hit, l.hasHit = p, ok
	if !ok {
		return NoReading
	}
	return d
}

func (l *Laser) Likelihood(trueValue, observed float64) float64 {
	if math.Abs(trueValue-observed) < l.Epsilon {
		return 1
	}
	return 0
}

// Intersection returns the end point of the last sensed beam, if it hit
// anything.
func (l *Laser) Intersection() (orb.Point, bool) {
	return l.hit, l.hasHit
}

// UncertainLaser adds zero-mean Gaussian noise to every reading and scores
// measurements with the matching Gaussian density.
type UncertainLaser struct {
	*Laser
	Sigma float64
	noise distuv.Normal
}

// NewUncertainLaser returns a noisy laser drawing from src.
func NewUncertainLaser(world RayCaster, sensorRange, sigma float64, src rand.Source) *UncertainLaser {
	return &UncertainLaser{
		Laser: NewLaser(world, sensorRange, 0),
		Sigma: sigma,
		noise: distuv.Normal{Mu: 0, Sigma: sigma, Src: src},
	}
}

// Sense returns the true reading plus noise. NoReading passes through
// unchanged and noisy readings are clamped at zero so they never reach the
// sentinel.
func (u *UncertainLaser) Sense(origin orb.Point, o pose.Orientation) float64 {
	d := u.Laser.Sense(origin, o)
	if d == NoReading {
		return NoReading
	}
	return math.Max(0, d+u.noise.Rand())
}

func (u *UncertainLaser) Likelihood(trueValue, observed float64) float64 {
	return distuv.Normal{Mu: trueValue, Sigma: u.Sigma}.Prob(observed)
}
