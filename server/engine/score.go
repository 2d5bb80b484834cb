package engine

// ScoreRound computes per-agent deltas for a sealed round in one
// counting pass.
//
// Each agent earns +1.0 for every OTHER agent whose action matches its
// own (self never counts), and +0.5 for every agent whose bet matches
// its own bet. includeSelfInBetBonus controls whether the bet count
// includes the agent's own (trivially matching) bet; the default
// configuration excludes it, mirroring the action rule. Bets never
// influence action matching.
func ScoreRound(r *Round, includeSelfInBetBonus bool) map[AgentID]float64 {
	actionCounts := map[int]int{}
	betCounts := map[int]int{}
	for _, a := range r.Actions {
		actionCounts[a]++
	}
	for _, b := range r.Bets {
		betCounts[b]++
	}

	deltas := make(map[AgentID]float64, len(r.Actions))
	for id, a := range r.Actions {
		others := actionCounts[a] - 1 // except yourself
		matched := betCounts[r.Bets[id]]
		if !includeSelfInBetBonus {
			matched--
		}
		deltas[id] = float64(others) + 0.5*float64(matched)
	}
	return deltas
}
