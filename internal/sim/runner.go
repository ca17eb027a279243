// Package sim drives a robot through a sequence of commands, pacing them in
// real time when asked, and records each completed step.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/monitoring"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/robot"
	"github.com/banshee-data/localizer/internal/storage/sqlite"
	"github.com/banshee-data/localizer/internal/timeutil"
)

var logf = monitoring.Component("sim")

// StepRecorder persists completed steps. *sqlite.RunStore implements it.
type StepRecorder interface {
	RecordStep(st *sqlite.StepRecord) error
}

// ParseActions turns a command string such as "FFLRB" into actions.
// Whitespace and commas are ignored.
func ParseActions(s string) ([]pose.Action, error) {
	var out []pose.Action
	for _, r := range s {
		if r == ' ' || r == ',' || r == '\t' || r == '\n' {
			continue
		}
		a, err := pose.ParseAction(string(r))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// RandomActions draws n actions. Translations are drawn twice as often as
// turns so the robot explores instead of spinning in place.
func RandomActions(src rand.Source, n int) []pose.Action {
	rng := rand.New(src)
	choices := []pose.Action{pose.Forward, pose.Forward, pose.Backward, pose.TurnLeft, pose.TurnRight}
	out := make([]pose.Action, n)
	for i := range out {
		out[i] = choices[rng.IntN(len(choices))]
	}
	return out
}

var actionLetters = map[pose.Action]byte{
	pose.Forward:   'F',
	pose.Backward:  'B',
	pose.TurnLeft:  'L',
	pose.TurnRight: 'R',
}

// FormatActions is the inverse of ParseActions.
func FormatActions(actions []pose.Action) string {
	var b strings.Builder
	for _, a := range actions {
		b.WriteByte(actionLetters[a])
	}
	return b.String()
}

// Runner executes commands against a robot and its localizer.
type Runner struct {
	Robot     robot.Robot
	Localizer localization.Strategy
	Recorder  StepRecorder // optional
	RunID     string
	Clock     timeutil.Clock
	Interval  time.Duration // 0 runs as fast as possible
}

// Summary describes a finished run.
type Summary struct {
	Steps      int
	Bumps      int
	Collapses  int
	FinalPose  pose.Pose
	Estimate   pose.Pose
	Confidence float64
	// PositionError is the distance between the true and estimated
	// positions, in the robot's pose units.
	PositionError float64
}

// Run executes actions in order. A belief collapse is logged and the
// localizer is reset to its prior; the run continues. Any other localizer
// error, a recorder failure or context cancellation stops the run.
func (r *Runner) Run(ctx context.Context, actions []pose.Action) (Summary, error) {
	var sum Summary
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	var tick <-chan time.Time
	if r.Interval > 0 {
		t := clock.NewTicker(r.Interval)
		defer t.Stop()
		tick = t.C()
	}

	for idx, a := range actions {
		if tick != nil {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return sum, err
		}

		step, err := r.Robot.Move(a)
		sum.Steps++
		if step.Bumped {
			sum.Bumps++
		}
		est, conf := r.Localizer.Estimate()

		if r.Recorder != nil {
			rec := &sqlite.StepRecord{
				RunID:       r.RunID,
				StepIdx:     idx,
				Action:      a.String(),
				Outcome:     int(step.Outcome),
				Bumped:      step.Bumped,
				TrueX:       step.Pose.X,
				TrueY:       step.Pose.Y,
				TrueHeading: step.Pose.Orientation.String(),
				Reading:     step.Reading,
				EstX:        est.X,
				EstY:        est.Y,
				EstHeading:  est.Orientation.String(),
				Confidence:  conf,
				RecordedAt:  clock.Now().UnixNano(),
			}
			if err != nil {
				rec.Error = err.Error()
			}
			if rerr := r.Recorder.RecordStep(rec); rerr != nil {
				return sum, fmt.Errorf("record step %d: %w", idx, rerr)
			}
		}

		if err != nil {
			if !errors.Is(err, localization.ErrBeliefCollapse) {
				return sum, fmt.Errorf("step %d (%s): %w", idx, a, err)
			}
			sum.Collapses++
			logf("step %d: %s belief collapsed, resetting", idx, r.Localizer.Name())
			r.Localizer.Reset()
		}
		logf("step %d %s true=%s est=%s conf=%.3f", idx, a, step.Pose, est, conf)
	}

	sum.FinalPose = r.Robot.Pose()
	sum.Estimate, sum.Confidence = r.Localizer.Estimate()
	sum.PositionError = math.Hypot(sum.FinalPose.X-sum.Estimate.X, sum.FinalPose.Y-sum.Estimate.Y)
	return sum, nil
}
