// Package localization implements the two pose estimators: a grid Bayes
// filter over every tile and heading, and a Monte Carlo particle filter
// over continuous positions.
//
// Both follow the same predict-then-correct cycle. Act folds an action into
// the belief and See folds in the range measurement taken afterwards.
// Neither type is safe for concurrent use.
package localization

import (
	"errors"

	"github.com/banshee-data/localizer/internal/monitoring"
	"github.com/banshee-data/localizer/internal/pose"
)

var logf = monitoring.Component("localization")

// ErrBeliefCollapse is returned when an update would leave no probability
// mass anywhere. The belief is left as it was before the update.
var ErrBeliefCollapse = errors.New("localization: belief collapsed to zero mass")

// Strategy is a pose estimator.
type Strategy interface {
	// Name identifies the strategy in logs and run records.
	Name() string
	// Act applies the prediction step for a commanded action.
	Act(a pose.Action) error
	// See applies the correction step for a measurement.
	See(measurement float64) error
	// Estimate returns the current best pose and the probability mass that
	// supports it. Grid estimates are in tile indices, particle estimates
	// in world units.
	Estimate() (pose.Pose, float64)
	// Reset forgets everything and returns to the uniform prior.
	Reset()
}
