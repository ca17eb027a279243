// Package pose defines the agent's discrete heading, the action set and the
// pose value shared by the sensor, motion and localization packages.
package pose

import (
	"fmt"
	"math"
)

// Orientation is one of the eight compass headings, indexed clockwise from
// north.
type Orientation int

const (
	North Orientation = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// NumOrientations is the size of the heading state space.
const NumOrientations = 8

var orientationNames = [NumOrientations]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// directions maps an orientation to the integer step taken when moving one
// tile forward.
var directions = [NumOrientations][2]int{
	{0, 1},
	{1, 1},
	{1, 0},
	{1, -1},
	{0, -1},
	{-1, -1},
	{-1, 0},
	{-1, 1},
}

// rotations holds the counter-clockwise rotation (degrees) that turns the
// +y unit ray into the orientation's heading.
var rotations = [NumOrientations]float64{0, -45, -90, -135, 180, 135, 90, 45}

// Orientations lists every heading in index order.
func Orientations() []Orientation {
	out := make([]Orientation, NumOrientations)
	for i := range out {
		out[i] = Orientation(i)
	}
	return out
}

// Normalize wraps any integer into the 0..7 range.
func Normalize(i int) Orientation {
	i %= NumOrientations
	if i < 0 {
		i += NumOrientations
	}
	return Orientation(i)
}

// Valid reports whether o is one of the eight headings.
func (o Orientation) Valid() bool {
	return o >= 0 && o < NumOrientations
}

// Rotate returns the heading steps positions clockwise of o.
func (o Orientation) Rotate(steps int) Orientation {
	return Normalize(int(o) + steps)
}

// Opposite returns the heading pointing the other way.
func (o Orientation) Opposite() Orientation {
	return o.Rotate(NumOrientations / 2)
}

// Direction returns the integer tile step for o.
func (o Orientation) Direction() (dx, dy int) {
	d := directions[Normalize(int(o))]
	return d[0], d[1]
}

// UnitVector returns the heading as a unit-length vector.
func (o Orientation) UnitVector() (x, y float64) {
	dx, dy := o.Direction()
	n := math.Hypot(float64(dx), float64(dy))
	return float64(dx) / n, float64(dy) / n
}

// RotationDegrees returns the fixed rotation angle for o.
func (o Orientation) RotationDegrees() float64 {
	return rotations[Normalize(int(o))]
}

func (o Orientation) String() string {
	if !o.Valid() {
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
	return orientationNames[o]
}

// ParseOrientation accepts the compass abbreviations produced by String.
func ParseOrientation(s string) (Orientation, error) {
	for i, name := range orientationNames {
		if name == s {
			return Orientation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown orientation %q", s)
}

// MarshalText encodes o as its compass abbreviation.
func (o Orientation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid orientation %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText accepts the compass abbreviations produced by MarshalText.
func (o *Orientation) UnmarshalText(b []byte) error {
	v, err := ParseOrientation(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Action is a motion command.
type Action int

const (
	Forward Action = iota
	Backward
	TurnLeft
	TurnRight
)

func (a Action) String() string {
	switch a {
	case Forward:
		return "FORWARD"
	case Backward:
		return "BACKWARD"
	case TurnLeft:
		return "TURN_LEFT"
	case TurnRight:
		return "TURN_RIGHT"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// IsTurn reports whether a only changes orientation.
func (a Action) IsTurn() bool {
	return a == TurnLeft || a == TurnRight
}

// ParseAction maps a single-letter command (F, B, L, R) or a full action
// name to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "F", "f", "FORWARD":
		return Forward, nil
	case "B", "b", "BACKWARD":
		return Backward, nil
	case "L", "l", "TURN_LEFT":
		return TurnLeft, nil
	case "R", "r", "TURN_RIGHT":
		return TurnRight, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Turn applies a turn action to o. Non-turn actions leave o unchanged.
func Turn(o Orientation, a Action) Orientation {
	switch a {
	case TurnLeft:
		return o.Rotate(-1)
	case TurnRight:
		return o.Rotate(1)
	}
	return o
}

// Heading returns the direction of travel for a translation action:
// the orientation itself for Forward, its opposite for Backward.
func Heading(o Orientation, a Action) Orientation {
	if a == Backward {
		return o.Opposite()
	}
	return o
}

// Pose is a position plus discrete heading. In the discrete world X and Y
// hold tile indices; in the continuous world they hold world coordinates.
type Pose struct {
	X           float64
	Y           float64
	Orientation Orientation
}

// Tile returns the integer tile indices of a discrete pose.
func (p Pose) Tile() (i, j int) {
	return int(math.Floor(p.X)), int(math.Floor(p.Y))
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %s)", p.X, p.Y, p.Orientation)
}
