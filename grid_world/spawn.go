package grid_world

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Point is a spawned collectible at a continuous position, rounded to 2 decimals.
// Points are not individually identified; only their count per cell matters.
type Point struct {
	X, Y float64
}

// Cell returns the unit cell containing the point.
func (p Point) Cell() Cell {
	return Cell{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}

// Update advances the spawn process by dt: the number of new points is Poisson
// distributed with mean spawnRate*dt, and each is placed independently by the
// sampling rule of the active mode.
func (world *GridWorld) Update(dt float64) {
	lambda := world.cfg.SpawnRate * dt
	if lambda <= 0 {
		return
	}
	n := int(distuv.Poisson{Lambda: lambda, Src: world.rng}.Rand())
	for i := 0; i < n; i++ {
		world.addPoint(world.samplePoint())
	}
}

func (world *GridWorld) addPoint(p Point) {
	c := p.Cell()
	world.points[c] = append(world.points[c], p)
	world.pointCount++
}

// Draws one spawn position for the active mode.
func (world *GridWorld) samplePoint() Point {
	if world.cfg.Mode == MIXTURE {
		patch := world.rng.IntN(len(world.cfg.PatchMeans))
		mean := world.cfg.PatchMeans[patch]
		variance := world.cfg.PatchVars[patch]

		// Box-Muller, using both outputs of a single draw.
		u1 := 1 - world.rng.Float64() // (0,1], keeps the log finite
		u2 := world.rng.Float64()
		r := math.Sqrt(-2 * math.Log(u1))
		z0 := r * math.Cos(2*math.Pi*u2)
		z1 := r * math.Sin(2*math.Pi*u2)

		x := round2(z0*math.Sqrt(variance[0]) + mean[0])
		y := round2(z1*math.Sqrt(variance[1]) + mean[1])
		return Point{
			X: clamp(x, 0, float64(world.width-1)),
			Y: clamp(y, 0, float64(world.height-1)),
		}
	}

	if len(world.selectedGrids) == 0 {
		return Point{}
	}
	c := world.selectedGrids[world.rng.IntN(len(world.selectedGrids))]
	return Point{
		X: inCell(c.X, round2(float64(c.X)+world.rng.Float64())),
		Y: inCell(c.Y, round2(float64(c.Y)+world.rng.Float64())),
	}
}

// CheckCollision removes every point in the cell containing pos, i.e. every point
// p with cell <= p < cell+1 on both axes, and returns how many were removed.
// This is the only way an agent earns reward.
func (world *GridWorld) CheckCollision(x, y float64) (removed int) {
	c := Cell{X: int(math.Floor(x)), Y: int(math.Floor(y))}
	if pts, ok := world.points[c]; ok {
		removed = len(pts)
		world.pointCount -= removed
		delete(world.points, c)
	}
	return
}

// PointCount is the number of points currently on the grid.
func (world *GridWorld) PointCount() int {
	return world.pointCount
}

// PointsAt is the number of points currently in cell c.
func (world *GridWorld) PointsAt(c Cell) int {
	return len(world.points[c])
}

// Points returns a copy of every point position currently on the grid.
func (world *GridWorld) Points() (points []Point) {
	for _, pts := range world.points {
		points = append(points, pts...)
	}
	return
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}

// Rounding can carry a sample onto the next cell's edge; pull it back inside.
func inCell(origin int, f float64) float64 {
	if f >= float64(origin+1) {
		return float64(origin) + 0.99
	}
	return f
}
