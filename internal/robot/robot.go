// Package robot simulates the agent being localized. A robot owns the true
// pose, enforces collisions against the world, takes range readings and
// drives its localizer through one act/see cycle per command.
//
// Each completed command and each accepted teleport fires exactly one
// notification, including commands that bumped into an obstacle.
package robot

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/monitoring"
	"github.com/banshee-data/localizer/internal/motion"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/sensor"
	"github.com/banshee-data/localizer/internal/world"
)

var logf = monitoring.Component("robot")

// ErrInvalidPose is returned when a robot is placed outside the world or on
// an obstacle.
var ErrInvalidPose = errors.New("robot: invalid pose")

// Step describes one completed command.
type Step struct {
	Action  pose.Action
	Outcome motion.Outcome
	Bumped  bool
	Pose    pose.Pose
	Reading float64
}

// Robot is implemented by DiscreteRobot and ContinuousRobot.
type Robot interface {
	Move(a pose.Action) (Step, error)
	Teleport(x, y float64) error
	Pose() pose.Pose
	Reading() float64
	// Localizer returns the strategy the robot drives.
	Localizer() localization.Strategy
	// Origin returns the sensor origin in world units.
	Origin() orb.Point
	Subscribe(fn func()) Subscription
	Unsubscribe(sub Subscription) bool
}

// agent holds the state shared by both robot kinds.
type agent struct {
	Subject

	world   *world.World
	sensor  sensor.Model
	motion  motion.Model
	loc     localization.Strategy
	pose    pose.Pose
	reading float64
}

func (a *agent) Pose() pose.Pose                  { return a.pose }
func (a *agent) Reading() float64                 { return a.reading }
func (a *agent) Localizer() localization.Strategy { return a.loc }

// complete senses from origin, runs the localizer and notifies observers.
// A bumped robot knows it did not move, so the prediction step is skipped
// and only the measurement is folded in.
func (a *agent) complete(act pose.Action, origin orb.Point, st Step) (Step, error) {
	a.reading = a.sensor.Sense(origin, a.pose.Orientation)
	st.Pose = a.pose
	st.Reading = a.reading

	var errs []error
	if !st.Bumped {
		if err := a.loc.Act(act); err != nil {
			errs = append(errs, fmt.Errorf("act %s: %w", act, err))
		}
	}
	if err := a.loc.See(a.reading); err != nil {
		errs = append(errs, fmt.Errorf("see: %w", err))
	}

	a.Notify()
	return st, errors.Join(errs...)
}

// DiscreteRobot moves one tile per command on the walkability grid. Its pose
// holds tile indices.
type DiscreteRobot struct {
	agent
}

// NewDiscreteRobot places a robot on tile (start.X, start.Y) and takes an
// initial reading. The localizer is not updated until the first command.
func NewDiscreteRobot(w *world.World, s sensor.Model, m motion.Model, loc localization.Strategy, start pose.Pose) (*DiscreteRobot, error) {
	r := &DiscreteRobot{agent{world: w, sensor: s, motion: m, loc: loc}}
	if err := r.place(start.X, start.Y); err != nil {
		return nil, err
	}
	r.pose.Orientation = start.Orientation
	r.reading = r.sensor.Sense(r.Origin(), r.pose.Orientation)
	return r, nil
}

func (r *DiscreteRobot) place(x, y float64) error {
	i, j := pose.Pose{X: x, Y: y}.Tile()
	if err := r.world.ValidateTile(i, j); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPose, err)
	}
	r.pose.X, r.pose.Y = float64(i), float64(j)
	return nil
}

// Origin returns the centre of the robot's tile.
func (r *DiscreteRobot) Origin() orb.Point {
	i, j := r.pose.Tile()
	return r.world.TileCenter(i, j)
}

// Move executes one command. A translation is dropped when either the
// sampled target tile or the commanded target tile is blocked.
func (r *DiscreteRobot) Move(a pose.Action) (Step, error) {
	st := Step{Action: a, Outcome: motion.Execute}
	if a.IsTurn() {
		r.pose.Orientation = pose.Turn(r.pose.Orientation, a)
		return r.complete(a, r.Origin(), st)
	}

	st.Outcome = r.motion.Sample()
	dx, dy := pose.Heading(r.pose.Orientation, a).Direction()
	i, j := r.pose.Tile()
	k := int(st.Outcome)
	if !r.world.IsWalkable(i+k*dx, j+k*dy) || !r.world.IsWalkable(i+dx, j+dy) {
		st.Bumped = true
		logf("bumped at %s moving %s", r.pose, a)
	} else {
		r.pose.X, r.pose.Y = float64(i+k*dx), float64(j+k*dy)
	}
	return r.complete(a, r.Origin(), st)
}

// Teleport moves the robot to tile (x, y) without touching the localizer.
func (r *DiscreteRobot) Teleport(x, y float64) error {
	if err := r.place(x, y); err != nil {
		return err
	}
	r.reading = r.sensor.Sense(r.Origin(), r.pose.Orientation)
	r.Notify()
	return nil
}

// ContinuousRobot moves a fixed distance per command in world units. Its
// pose holds the robot's centre.
type ContinuousRobot struct {
	agent
	step float64
}

// NewContinuousRobot places a robot with its centre at (start.X, start.Y).
// Each translation covers step world units.
func NewContinuousRobot(w *world.World, s sensor.Model, m motion.Model, loc localization.Strategy, start pose.Pose, step float64) (*ContinuousRobot, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %g", step)
	}
	r := &ContinuousRobot{agent: agent{world: w, sensor: s, motion: m, loc: loc}, step: step}
	if err := r.place(start.X, start.Y); err != nil {
		return nil, err
	}
	r.pose.Orientation = start.Orientation
	r.reading = r.sensor.Sense(r.Origin(), r.pose.Orientation)
	return r, nil
}

func (r *ContinuousRobot) place(x, y float64) error {
	if err := r.world.ValidatePoint(x, y); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPose, err)
	}
	r.pose.X, r.pose.Y = x, y
	return nil
}

func (r *ContinuousRobot) Origin() orb.Point { return orb.Point{r.pose.X, r.pose.Y} }

// Move executes one command. A translation that would leave free space is
// dropped.
func (r *ContinuousRobot) Move(a pose.Action) (Step, error) {
	st := Step{Action: a, Outcome: motion.Execute}
	if a.IsTurn() {
		r.pose.Orientation = pose.Turn(r.pose.Orientation, a)
		return r.complete(a, r.Origin(), st)
	}

	st.Outcome = r.motion.Sample()
	ux, uy := pose.Heading(r.pose.Orientation, a).UnitVector()
	d := float64(st.Outcome) * r.step
	nx, ny := r.pose.X+d*ux, r.pose.Y+d*uy
	if !r.world.IsFree(nx, ny) {
		st.Bumped = true
		logf("bumped at %s moving %s", r.pose, a)
	} else {
		r.pose.X, r.pose.Y = nx, ny
	}
	return r.complete(a, r.Origin(), st)
}

// Teleport moves the robot's centre to (x, y) without touching the
// localizer.
func (r *ContinuousRobot) Teleport(x, y float64) error {
	if err := r.place(x, y); err != nil {
		return err
	}
	r.reading = r.sensor.Sense(r.Origin(), r.pose.Orientation)
	r.Notify()
	return nil
}

var (
	_ Robot = (*DiscreteRobot)(nil)
	_ Robot = (*ContinuousRobot)(nil)
)
