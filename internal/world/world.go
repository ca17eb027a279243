// Package world holds the static environment an agent is localized in: the
// obstacle shapes, the boundary walls and the tile grid derived from them.
//
// A World is built once and never mutated, so it can be shared by the
// sensor, the localizers and the robot without locking.
package world

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/localizer/internal/geometry"
)

var (
	// ErrOutOfBounds is returned when a tile or point lies outside the world.
	ErrOutOfBounds = errors.New("position out of bounds")
	// ErrOccupied is returned when a tile is not walkable or a point lies
	// inside an obstacle.
	ErrOccupied = errors.New("position occupied")
)

// Config describes the geometry of a world in world units.
type Config struct {
	Width         float64
	Height        float64
	TileSize      float64
	WallThickness float64 // zero disables the boundary walls
	Objects       []geometry.Shape
}

// World is an immutable set of obstacles plus a walkability grid.
type World struct {
	width, height float64
	tileSize      float64
	cols, rows    int

	// objects are the configured obstacles followed by the four walls.
	objects  []geometry.Shape
	walkable [][]bool // [col][row]
	free     int
}

// New builds a world and precomputes tile walkability.
func New(cfg Config) (*World, error) {
	if cfg.TileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %g", cfg.TileSize)
	}
	if cfg.Width < cfg.TileSize || cfg.Height < cfg.TileSize {
		return nil, fmt.Errorf("world %gx%g is smaller than one tile of %g", cfg.Width, cfg.Height, cfg.TileSize)
	}
	if cfg.WallThickness < 0 {
		return nil, fmt.Errorf("wall thickness must be non-negative, got %g", cfg.WallThickness)
	}

	w := &World{
		width:    cfg.Width,
		height:   cfg.Height,
		tileSize: cfg.TileSize,
		cols:     int(math.Floor(cfg.Width / cfg.TileSize)),
		rows:     int(math.Floor(cfg.Height / cfg.TileSize)),
	}
	w.objects = append(w.objects, cfg.Objects...)
	if cfg.WallThickness > 0 {
		walls, err := boundaryWalls(cfg.Width, cfg.Height, cfg.WallThickness)
		if err != nil {
			return nil, err
		}
		w.objects = append(w.objects, walls...)
	}
	w.computeWalkable()
	return w, nil
}

func boundaryWalls(width, height, t float64) ([]geometry.Shape, error) {
	specs := [][4]float64{
		{0, 0, width, t},
		{0, 0, t, height},
		{width - t, 0, t, height},
		{0, height - t, width, t},
	}
	walls := make([]geometry.Shape, 0, len(specs))
	for _, s := range specs {
		r, err := geometry.NewRectangle(s[0], s[1], s[2], s[3])
		if err != nil {
			return nil, fmt.Errorf("boundary wall: %w", err)
		}
		walls = append(walls, r)
	}
	return walls, nil
}

// computeWalkable marks a tile blocked when a slightly shrunk copy of the
// tile touches or lies inside any object.
func (w *World) computeWalkable() {
	margin := math.Min(1, w.tileSize/10)
	w.walkable = make([][]bool, w.cols)
	for i := range w.walkable {
		w.walkable[i] = make([]bool, w.rows)
		for j := range w.walkable[i] {
			x, y := float64(i)*w.tileSize, float64(j)*w.tileSize
			body := orb.Bound{
				Min: orb.Point{x + margin, y + margin},
				Max: orb.Point{x + w.tileSize - margin, y + w.tileSize - margin},
			}
			ok := true
			for _, o := range w.objects {
				if o.IntersectsBound(body) {
					ok = false
					break
				}
			}
			w.walkable[i][j] = ok
			if ok {
				w.free++
			}
		}
	}
}

func (w *World) Width() float64    { return w.width }
func (w *World) Height() float64   { return w.height }
func (w *World) TileSize() float64 { return w.tileSize }

// Cols returns the number of tiles along x.
func (w *World) Cols() int { return w.cols }

// Rows returns the number of tiles along y.
func (w *World) Rows() int { return w.rows }

// WalkableCount returns the number of walkable tiles.
func (w *World) WalkableCount() int { return w.free }

// Objects returns the obstacles in ray-casting order. Callers must not
// modify the returned slice.
func (w *World) Objects() []geometry.Shape { return w.objects }

// IsWalkable reports whether the agent may stand on tile (i, j). Tiles off
// the grid are never walkable.
func (w *World) IsWalkable(i, j int) bool {
	if i < 0 || j < 0 || i >= w.cols || j >= w.rows {
		return false
	}
	return w.walkable[i][j]
}

// InBounds reports whether (x, y) lies inside the world rectangle, edges
// included.
func (w *World) InBounds(x, y float64) bool {
	return x >= 0 && x <= w.width && y >= 0 && y <= w.height
}

// IsOccupied reports whether (x, y) lies inside any closed obstacle.
func (w *World) IsOccupied(x, y float64) bool {
	p := orb.Point{x, y}
	for _, o := range w.objects {
		if o.Bound().Contains(p) && o.Contains(p) {
			return true
		}
	}
	return false
}

// IsFree reports whether (x, y) is inside the world and not occupied.
func (w *World) IsFree(x, y float64) bool {
	return w.InBounds(x, y) && !w.IsOccupied(x, y)
}

// RayIntersections returns every point where seg meets an obstacle
// boundary. Points are grouped by object in Objects order, so the first
// of several equidistant points is stable across calls.
func (w *World) RayIntersections(seg geometry.Segment) []orb.Point {
	var out []orb.Point
	for _, o := range w.objects {
		out = append(out, geometry.RayHits(o, seg)...)
	}
	return out
}

// TileCenter returns the world coordinates of the centre of tile (i, j).
func (w *World) TileCenter(i, j int) orb.Point {
	return orb.Point{(float64(i) + 0.5) * w.tileSize, (float64(j) + 0.5) * w.tileSize}
}

// TileOf returns the tile containing (x, y).
func (w *World) TileOf(x, y float64) (i, j int) {
	return int(math.Floor(x / w.tileSize)), int(math.Floor(y / w.tileSize))
}

// ValidateTile returns ErrOutOfBounds or ErrOccupied when (i, j) cannot
// hold the agent.
func (w *World) ValidateTile(i, j int) error {
	if i < 0 || j < 0 || i >= w.cols || j >= w.rows {
		return fmt.Errorf("tile (%d, %d) outside %dx%d grid: %w", i, j, w.cols, w.rows, ErrOutOfBounds)
	}
	if !w.walkable[i][j] {
		return fmt.Errorf("tile (%d, %d): %w", i, j, ErrOccupied)
	}
	return nil
}

// ValidatePoint returns ErrOutOfBounds or ErrOccupied when (x, y) cannot
// hold the agent.
func (w *World) ValidatePoint(x, y float64) error {
	if !w.InBounds(x, y) {
		return fmt.Errorf("point (%g, %g) outside %gx%g world: %w", x, y, w.width, w.height, ErrOutOfBounds)
	}
	if w.IsOccupied(x, y) {
		return fmt.Errorf("point (%g, %g): %w", x, y, ErrOccupied)
	}
	return nil
}
