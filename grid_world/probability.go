package grid_world

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Builds the [y][x] spawn-probability field for the configured mode.
//
// Mixture: each patch's 2-D normal density is integrated over every unit square
// [x,x+1)x[y,y+1) as the product of the two marginal CDF differences, and the
// patches are averaged. Mass falling outside the grid is simply lost, so the field
// sums to ~1 only when the patches sit well inside it.
// Subset modes: 1/|selected| on every selected cell, exactly 0 elsewhere.
func buildProbabilityField(cfg *Config, selected []Cell) (rows [][]float64) {
	rows = make([][]float64, cfg.Height)
	for y := range rows {
		rows[y] = make([]float64, cfg.Width)
	}

	if cfg.Mode.isSubset() {
		if len(selected) == 0 {
			return
		}
		prob := 1.0 / float64(len(selected))
		for _, c := range selected {
			rows[c.Y][c.X] = prob
		}
		return
	}

	numPatches := float64(len(cfg.PatchMeans))
	for i := range cfg.PatchMeans {
		nx := distuv.Normal{Mu: cfg.PatchMeans[i][0], Sigma: math.Sqrt(cfg.PatchVars[i][0])}
		ny := distuv.Normal{Mu: cfg.PatchMeans[i][1], Sigma: math.Sqrt(cfg.PatchVars[i][1])}

		px := make([]float64, cfg.Width)
		for x := range px {
			px[x] = nx.CDF(float64(x+1)) - nx.CDF(float64(x))
		}
		for y := 0; y < cfg.Height; y++ {
			py := ny.CDF(float64(y+1)) - ny.CDF(float64(y))
			for x := 0; x < cfg.Width; x++ {
				rows[y][x] += px[x] * py / numPatches
			}
		}
	}
	return
}

// Chooses the fixed cell subset for the subset modes. Candidate cells are
// enumerated x-major, which fixes the meaning of a given seed.
func selectGrids(cfg *Config) (selected []Cell) {
	all := make([]Cell, 0, cfg.Width*cfg.Height)
	for x := 0; x < cfg.Width; x++ {
		for y := 0; y < cfg.Height; y++ {
			all = append(all, Cell{X: x, Y: y})
		}
	}

	switch cfg.Mode {
	case SCATTERED:
		rng := rand.New(rand.NewPCG(uint64(cfg.RandomSeed), 0))
		for _, i := range rng.Perm(len(all))[:cfg.RandomGrid] {
			selected = append(selected, all[i])
		}
	case CLUSTERED:
		selected = selectClustered(all, cfg.Mode3Centers, cfg.RandomGrid)
	}
	return
}

// Nearest-centers-first allocation: the budget is split evenly over the centers
// (the first budget%len(centers) centers receive one extra), and each center in
// turn claims its nearest cells, measured from cell centers, that no earlier
// center has claimed. Distance ties are broken by x, then y.
func selectClustered(all []Cell, centers [][]float64, budget int) (selected []Cell) {
	perCenter := budget / len(centers)
	remaining := budget % len(centers)
	taken := map[Cell]bool{}

	type candidate struct {
		dist float64
		cell Cell
	}

	for i, center := range centers {
		count := perCenter
		if i < remaining {
			count++
		}
		if count == 0 {
			continue
		}

		candidates := make([]candidate, 0, len(all))
		for _, c := range all {
			dx := float64(c.X) + 0.5 - center[0]
			dy := float64(c.Y) + 0.5 - center[1]
			candidates = append(candidates, candidate{dist: math.Sqrt(dx*dx + dy*dy), cell: c})
		}
		sort.Slice(candidates, func(a, b int) bool {
			ca, cb := candidates[a], candidates[b]
			if ca.dist != cb.dist {
				return ca.dist < cb.dist
			}
			if ca.cell.X != cb.cell.X {
				return ca.cell.X < cb.cell.X
			}
			return ca.cell.Y < cb.cell.Y
		})

		claimed := 0
		for _, cand := range candidates {
			if claimed == count {
				break
			}
			if taken[cand.cell] {
				continue
			}
			taken[cand.cell] = true
			selected = append(selected, cand.cell)
			claimed++
		}
	}
	return
}
