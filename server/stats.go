package main

import (
	"math"
	"math/rand"
	"sort"

	"mindmeld-arena/server/engine"
)

// ModelStats aggregates one model's tournament outcome for the final
// summary table.
type ModelStats struct {
	Name     string
	AgentIDs []engine.AgentID
	Total    float64

	// TurnAverages is the model's per-turn average score delta, one
	// entry per scored round.
	TurnAverages []float64

	// Coordinated / Decisions back the coordination rate: how often an
	// agent's action matched at least one other agent's.
	Coordinated int
	Decisions   int
}

func (ms *ModelStats) Mean() float64 {
	if len(ms.AgentIDs) == 0 {
		return 0
	}
	return ms.Total / float64(len(ms.AgentIDs))
}

func (ms *ModelStats) CoordRate() float64 {
	if ms.Decisions == 0 {
		return 0
	}
	return float64(ms.Coordinated) / float64(ms.Decisions)
}

// summarize folds the scoreboard and round history into per-model stats,
// preserving group declaration order.
func summarize(groups []engine.ModelGroup, scores map[engine.AgentID]float64, deltas []map[engine.AgentID]float64, rounds []*engine.Round) []*ModelStats {
	out := make([]*ModelStats, 0, len(groups))
	for _, gr := range groups {
		ms := &ModelStats{Name: gr.Name, AgentIDs: gr.Agents}
		for _, id := range gr.Agents {
			ms.Total += scores[id]
		}
		for _, d := range deltas {
			sum := 0.0
			for _, id := range gr.Agents {
				sum += d[id]
			}
			ms.TurnAverages = append(ms.TurnAverages, sum/float64(len(gr.Agents)))
		}
		for _, r := range rounds {
			counts := map[int]int{}
			for _, a := range r.Actions {
				counts[a]++
			}
			for _, id := range gr.Agents {
				ms.Decisions++
				if counts[r.Actions[id]] > 1 {
					ms.Coordinated++
				}
			}
		}
		out = append(out, ms)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// BootstrapCI95 resamples the mean of xs iters times and returns the
// 2.5/97.5 percentile bounds. Degenerate inputs collapse to the mean.
func BootstrapCI95(xs []float64, iters int) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	if len(xs) == 1 || iters <= 0 {
		return xs[0], xs[0]
	}
	means := make([]float64, iters)
	for i := 0; i < iters; i++ {
		sum := 0.0
		for j := 0; j < len(xs); j++ {
			sum += xs[rand.Intn(len(xs))]
		}
		means[i] = sum / float64(len(xs))
	}
	sort.Float64s(means)
	lo = means[int(0.025*float64(iters))]
	hi = means[int(0.975*float64(iters))]
	return lo, hi
}

// WilsonCI95 is the Wilson score interval for a binomial proportion.
func WilsonCI95(successes, total int) (lo, hi float64) {
	if total == 0 {
		return 0, 0
	}
	const z = 1.959963984540054
	n := float64(total)
	p := float64(successes) / n
	denom := 1 + z*z/n
	center := (p + z*z/(2*n)) / denom
	margin := z * math.Sqrt(p*(1-p)/n+z*z/(4*n*n)) / denom
	lo = center - margin
	hi = center + margin
	if lo < 0 {
		lo = 0
	}
	if hi > 1 {
		hi = 1
	}
	return lo, hi
}
