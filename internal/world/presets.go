package world

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"github.com/banshee-data/localizer/internal/config"
	"github.com/banshee-data/localizer/internal/geometry"
)

func rect(x, y, w, h float64) config.ObjectSpec {
	return config.ObjectSpec{Kind: "rectangle", Rect: []float64{x, y, w, h}}
}

func poly(points ...[]float64) config.ObjectSpec {
	return config.ObjectSpec{Kind: "polygon", Points: points}
}

// presets are the built-in obstacle layouts, in tile units.
var presets = map[string][]config.ObjectSpec{
	"empty": nil,
	"base_with_obstacle": {
		rect(8, 8, 4, 4),
	},
	"custom": {
		rect(5, 5, 2, 10),
		rect(10, 5, 2, 10),
		rect(5, 25, 2, 10),
		rect(10, 25, 2, 10),
		poly([]float64{20, 20}, []float64{25, 25}, []float64{20, 25}, []float64{18, 23}),
		{Kind: "circle", Center: []float64{20, 2}, Radius: 3.45},
	},
	"symmetric_rooms": {
		// horizontal walls
		rect(1, 10, 15, 1),
		rect(1, 20, 15, 1),
		rect(20, 10, 11, 1),
		rect(20, 20, 11, 1),
		rect(35, 10, 15, 1),
		rect(35, 20, 15, 1),
		// vertical walls
		rect(25, 1, 1, 10),
		rect(25, 20, 1, 10),
		// one landmark per room corner
		poly([]float64{3, 4}, []float64{5, 5}, []float64{3, 7}, []float64{2, 5}),
		poly([]float64{3, 24}, []float64{5, 25}, []float64{4, 28}, []float64{3, 27}, []float64{2, 25}),
		poly([]float64{47, 4}, []float64{49, 5}, []float64{47, 8}, []float64{47, 7}, []float64{46, 5}),
		poly([]float64{47, 24}, []float64{49, 25}, []float64{48, 28}, []float64{47, 27}, []float64{46, 25}),
	},
}

// PresetNames lists the available scenario presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Preset returns a copy of the named obstacle layout.
func Preset(name string) ([]config.ObjectSpec, error) {
	specs, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (available: %v)", name, PresetNames())
	}
	out := make([]config.ObjectSpec, len(specs))
	copy(out, specs)
	return out, nil
}

// ShapeFromSpec converts an object spec in tile units into a shape in world
// units.
func ShapeFromSpec(spec config.ObjectSpec, tileSize float64) (geometry.Shape, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	scale := func(pts [][]float64) []orb.Point {
		out := make([]orb.Point, len(pts))
		for i, p := range pts {
			out[i] = orb.Point{p[0] * tileSize, p[1] * tileSize}
		}
		return out
	}

	switch spec.Kind {
	case "rectangle":
		r := spec.Rect
		return geometry.NewRectangle(r[0]*tileSize, r[1]*tileSize, r[2]*tileSize, r[3]*tileSize)
	case "polygon":
		return geometry.NewPolygon(scale(spec.Points))
	case "line":
		return geometry.NewLine(scale(spec.Points))
	case "circle":
		return geometry.NewCircle(spec.Center[0]*tileSize, spec.Center[1]*tileSize, spec.Radius*tileSize, geometry.DefaultCircleSegments)
	}
	return nil, fmt.Errorf("unknown object kind %q", spec.Kind)
}

// NewFromScenario builds the world described by cfg. Explicit objects take
// precedence over the named preset.
func NewFromScenario(cfg *config.ScenarioConfig) (*World, error) {
	specs := cfg.Objects
	if len(specs) == 0 {
		var err error
		specs, err = Preset(cfg.GetScenario())
		if err != nil {
			return nil, err
		}
	}

	tile := cfg.GetTileSize()
	shapes := make([]geometry.Shape, 0, len(specs))
	for i, s := range specs {
		shape, err := ShapeFromSpec(s, tile)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		shapes = append(shapes, shape)
	}

	return New(Config{
		Width:         cfg.GetWorldWidth(),
		Height:        cfg.GetWorldHeight(),
		TileSize:      tile,
		WallThickness: cfg.GetWallThickness(),
		Objects:       shapes,
	})
}
