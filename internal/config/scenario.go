package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical scenario defaults file.
// This is the single source of truth for all default scenario values.
const DefaultConfigPath = "config/localization.defaults.json"

// ObjectSpec describes one static obstacle. Coordinates and sizes are in
// tile units and are scaled by tile_size when the world is built.
type ObjectSpec struct {
	Kind   string      `json:"kind"`             // rectangle, polygon, circle or line
	Rect   []float64   `json:"rect,omitempty"`   // x, y, width, height
	Points [][]float64 `json:"points,omitempty"` // polygon or line vertices
	Center []float64   `json:"center,omitempty"` // circle centre
	Radius float64     `json:"radius,omitempty"` // circle radius
}

// ScenarioConfig represents the load-time configuration of a localization
// run. Every field is fixed for the lifetime of the run.
type ScenarioConfig struct {
	// World
	WorldWidth    *float64     `json:"world_width,omitempty"`
	WorldHeight   *float64     `json:"world_height,omitempty"`
	TileSize      *float64     `json:"tile_size,omitempty"`
	WallThickness *float64     `json:"wall_thickness,omitempty"`
	Scenario      *string      `json:"scenario,omitempty"` // named obstacle preset
	Objects       []ObjectSpec `json:"objects,omitempty"`  // explicit obstacles, override Scenario

	// Sensor
	SensorRange       *float64 `json:"sensor_range,omitempty"`
	MeasurementSigma  *float64 `json:"measurement_sigma,omitempty"`
	LikelihoodEpsilon *float64 `json:"likelihood_epsilon,omitempty"`

	// Motion
	MotionProbabilities []float64 `json:"motion_probabilities,omitempty"` // p_forward, p_stay, p_backward
	Speed               *float64  `json:"speed,omitempty"`                // tiles per second
	FPS                 *float64  `json:"fps,omitempty"`

	// Discrete localizer
	RetainBlockedMass *bool `json:"retain_blocked_mass,omitempty"`

	// Particle localizer
	ParticleCount      *int     `json:"particle_count,omitempty"`
	JitterRate         *float64 `json:"jitter_rate,omitempty"`
	ParticleNoiseScale *float64 `json:"particle_noise_scale,omitempty"`
	WeightFloor        *float64 `json:"weight_floor,omitempty"`

	// Agent start pose; discrete runs use tile indices, continuous runs
	// multiply by tile_size.
	StartX           *float64 `json:"start_x,omitempty"`
	StartY           *float64 `json:"start_y,omitempty"`
	StartOrientation *string  `json:"start_orientation,omitempty"`

	// Run
	Seed          *uint64 `json:"seed,omitempty"`
	GeneratePlots *bool   `json:"generate_plots,omitempty"`
	StepInterval  *string `json:"step_interval,omitempty"` // duration string like "100ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyScenarioConfig returns a ScenarioConfig with all fields set to nil.
// Use LoadScenarioConfig to load actual values from the defaults file.
func EmptyScenarioConfig() *ScenarioConfig {
	return &ScenarioConfig{}
}

// DefaultScenarioConfig returns a fully populated configuration holding the
// built-in defaults, independent of any file on disk.
func DefaultScenarioConfig() *ScenarioConfig {
	empty := EmptyScenarioConfig()
	return &ScenarioConfig{
		WorldWidth:          ptrFloat64(empty.GetWorldWidth()),
		WorldHeight:         ptrFloat64(empty.GetWorldHeight()),
		TileSize:            ptrFloat64(empty.GetTileSize()),
		WallThickness:       ptrFloat64(empty.GetWallThickness()),
		Scenario:            ptrString(empty.GetScenario()),
		SensorRange:         ptrFloat64(empty.GetSensorRange()),
		MeasurementSigma:    ptrFloat64(empty.GetMeasurementSigma()),
		LikelihoodEpsilon:   ptrFloat64(empty.GetLikelihoodEpsilon()),
		MotionProbabilities: empty.GetMotionProbabilities(),
		Speed:               ptrFloat64(empty.GetSpeed()),
		FPS:                 ptrFloat64(empty.GetFPS()),
		RetainBlockedMass:   ptrBool(empty.GetRetainBlockedMass()),
		ParticleCount:       ptrInt(empty.GetParticleCount()),
		JitterRate:          ptrFloat64(empty.GetJitterRate()),
		ParticleNoiseScale:  ptrFloat64(empty.GetParticleNoiseScale()),
		WeightFloor:         ptrFloat64(empty.GetWeightFloor()),
		StartX:              ptrFloat64(empty.GetStartX()),
		StartY:              ptrFloat64(empty.GetStartY()),
		StartOrientation:    ptrString(empty.GetStartOrientation()),
		Seed:                ptrUint64(empty.GetSeed()),
		GeneratePlots:       ptrBool(empty.GetGeneratePlots()),
		StepInterval:        ptrString(empty.GetStepInterval().String()),
	}
}

// LoadScenarioConfig loads a ScenarioConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadScenarioConfig(path string) (*ScenarioConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyScenarioConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ScenarioConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadScenarioConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ScenarioConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"world_width", c.WorldWidth},
		{"world_height", c.WorldHeight},
		{"tile_size", c.TileSize},
		{"sensor_range", c.SensorRange},
		{"measurement_sigma", c.MeasurementSigma},
		{"likelihood_epsilon", c.LikelihoodEpsilon},
		{"speed", c.Speed},
		{"fps", c.FPS},
		{"weight_floor", c.WeightFloor},
	}
	for _, p := range positive {
		if p.v != nil && !(*p.v > 0) {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	if c.WallThickness != nil && *c.WallThickness < 0 {
		return fmt.Errorf("wall_thickness must be non-negative, got %f", *c.WallThickness)
	}

	if c.TileSize != nil {
		if w := c.GetWorldWidth(); w < *c.TileSize {
			return fmt.Errorf("world_width %f is smaller than tile_size %f", w, *c.TileSize)
		}
		if h := c.GetWorldHeight(); h < *c.TileSize {
			return fmt.Errorf("world_height %f is smaller than tile_size %f", h, *c.TileSize)
		}
	}

	if c.MotionProbabilities != nil {
		if len(c.MotionProbabilities) != 3 {
			return fmt.Errorf("motion_probabilities must have 3 entries, got %d", len(c.MotionProbabilities))
		}
		sum := 0.0
		for _, p := range c.MotionProbabilities {
			if p < 0 || p > 1 {
				return fmt.Errorf("motion_probabilities entries must be between 0 and 1, got %f", p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			return fmt.Errorf("motion_probabilities must sum to 1, got %f", sum)
		}
	}

	if c.ParticleCount != nil && *c.ParticleCount < 1 {
		return fmt.Errorf("particle_count must be at least 1, got %d", *c.ParticleCount)
	}

	if c.JitterRate != nil && (*c.JitterRate < 0 || *c.JitterRate > 1) {
		return fmt.Errorf("jitter_rate must be between 0 and 1, got %f", *c.JitterRate)
	}

	if c.ParticleNoiseScale != nil && *c.ParticleNoiseScale < 0 {
		return fmt.Errorf("particle_noise_scale must be non-negative, got %f", *c.ParticleNoiseScale)
	}

	if c.StepInterval != nil && *c.StepInterval != "" {
		if _, err := time.ParseDuration(*c.StepInterval); err != nil {
			return fmt.Errorf("invalid step_interval '%s': %w", *c.StepInterval, err)
		}
	}

	for i, o := range c.Objects {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("objects[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate checks that the object carries the fields its kind needs.
func (o ObjectSpec) Validate() error {
	switch o.Kind {
	case "rectangle":
		if len(o.Rect) != 4 {
			return fmt.Errorf("rectangle needs rect [x, y, width, height], got %d values", len(o.Rect))
		}
	case "polygon", "line":
		need := 3
		if o.Kind == "line" {
			need = 2
		}
		if len(o.Points) < need {
			return fmt.Errorf("%s needs at least %d points, got %d", o.Kind, need, len(o.Points))
		}
		for j, p := range o.Points {
			if len(p) != 2 {
				return fmt.Errorf("%s point %d must have 2 coordinates, got %d", o.Kind, j, len(p))
			}
		}
	case "circle":
		if len(o.Center) != 2 {
			return fmt.Errorf("circle needs center [x, y], got %d values", len(o.Center))
		}
		if o.Radius <= 0 {
			return fmt.Errorf("circle needs a positive radius, got %f", o.Radius)
		}
	default:
		return fmt.Errorf("unknown object kind %q", o.Kind)
	}
	return nil
}

// GetWorldWidth returns the world_width value or the default.
func (c *ScenarioConfig) GetWorldWidth() float64 {
	if c.WorldWidth == nil {
		return 600
	}
	return *c.WorldWidth
}

// GetWorldHeight returns the world_height value or the default.
func (c *ScenarioConfig) GetWorldHeight() float64 {
	if c.WorldHeight == nil {
		return 400
	}
	return *c.WorldHeight
}

// GetTileSize returns the tile_size value or the default.
func (c *ScenarioConfig) GetTileSize() float64 {
	if c.TileSize == nil {
		return 20
	}
	return *c.TileSize
}

// GetWallThickness returns the wall_thickness value or the default (one tile).
func (c *ScenarioConfig) GetWallThickness() float64 {
	if c.WallThickness == nil {
		return c.GetTileSize()
	}
	return *c.WallThickness
}

// GetScenario returns the scenario preset name or the default.
func (c *ScenarioConfig) GetScenario() string {
	if c.Scenario == nil || *c.Scenario == "" {
		return "base_with_obstacle"
	}
	return *c.Scenario
}

// GetSensorRange returns the sensor_range value or the default.
func (c *ScenarioConfig) GetSensorRange() float64 {
	if c.SensorRange == nil {
		return 900
	}
	return *c.SensorRange
}

// GetMeasurementSigma returns the measurement_sigma value or the default.
func (c *ScenarioConfig) GetMeasurementSigma() float64 {
	if c.MeasurementSigma == nil {
		return 5
	}
	return *c.MeasurementSigma
}

// GetLikelihoodEpsilon returns the likelihood_epsilon value or the default.
func (c *ScenarioConfig) GetLikelihoodEpsilon() float64 {
	if c.LikelihoodEpsilon == nil {
		return 1e-6
	}
	return *c.LikelihoodEpsilon
}

// GetMotionProbabilities returns (p_forward, p_stay, p_backward) or the default.
func (c *ScenarioConfig) GetMotionProbabilities() []float64 {
	if len(c.MotionProbabilities) != 3 {
		return []float64{0.8, 0.1, 0.1}
	}
	out := make([]float64, 3)
	copy(out, c.MotionProbabilities)
	return out
}

// GetSpeed returns the linear speed in tiles per second or the default.
func (c *ScenarioConfig) GetSpeed() float64 {
	if c.Speed == nil {
		return 10
	}
	return *c.Speed
}

// GetFPS returns the frame rate or the default.
func (c *ScenarioConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 30
	}
	return *c.FPS
}

// GetFrameStep returns the duration of one frame (1/fps) in seconds.
func (c *ScenarioConfig) GetFrameStep() float64 {
	return 1 / c.GetFPS()
}

// GetRetainBlockedMass returns the retain_blocked_mass value or the default.
func (c *ScenarioConfig) GetRetainBlockedMass() bool {
	if c.RetainBlockedMass == nil {
		return false
	}
	return *c.RetainBlockedMass
}

// GetParticleCount returns the particle_count value or the default.
func (c *ScenarioConfig) GetParticleCount() int {
	if c.ParticleCount == nil {
		return 500
	}
	return *c.ParticleCount
}

// GetJitterRate returns the jitter_rate value or the default.
func (c *ScenarioConfig) GetJitterRate() float64 {
	if c.JitterRate == nil {
		return 0.05
	}
	return *c.JitterRate
}

// GetParticleNoiseScale returns the particle_noise_scale value or the default.
func (c *ScenarioConfig) GetParticleNoiseScale() float64 {
	if c.ParticleNoiseScale == nil {
		return 0.05
	}
	return *c.ParticleNoiseScale
}

// GetWeightFloor returns the weight_floor value or the default.
func (c *ScenarioConfig) GetWeightFloor() float64 {
	if c.WeightFloor == nil {
		return 1e-300
	}
	return *c.WeightFloor
}

// GetStartX returns the start_x value or the default.
func (c *ScenarioConfig) GetStartX() float64 {
	if c.StartX == nil {
		return 2
	}
	return *c.StartX
}

// GetStartY returns the start_y value or the default.
func (c *ScenarioConfig) GetStartY() float64 {
	if c.StartY == nil {
		return 2
	}
	return *c.StartY
}

// GetStartOrientation returns the start_orientation value or the default.
func (c *ScenarioConfig) GetStartOrientation() string {
	if c.StartOrientation == nil || *c.StartOrientation == "" {
		return "N"
	}
	return *c.StartOrientation
}

// GetSeed returns the seed value or the default.
func (c *ScenarioConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetGeneratePlots returns the generate_plots value or the default.
func (c *ScenarioConfig) GetGeneratePlots() bool {
	if c.GeneratePlots == nil {
		return false
	}
	return *c.GeneratePlots
}

// GetStepInterval parses and returns the StepInterval as a time.Duration.
func (c *ScenarioConfig) GetStepInterval() time.Duration {
	if c.StepInterval == nil || *c.StepInterval == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.StepInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}
