package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"mindmeld-arena/server/engine"
)

// Observation is the JSON we send the model for one decision.
type Observation struct {
	Phase        string         `json:"phase"` // "bet" | "action"
	Turn         int            `json:"turn"`
	NumActions   int            `json:"num_actions"`
	Score        float64        `json:"score"`
	PastBets     []int          `json:"past_bets"`
	PastActions  []int          `json:"past_actions"`
	RevealedBets map[string]int `json:"revealed_bets,omitempty"` // action phase only
}

// System is the standing instruction set for an arena agent.
const System = `You are a player in a repeated coordination game with many other players.

Each round has two steps:
1. Bet: you publicly declare an integer guess before seeing anyone else's guess.
2. Action: after every player's bet is revealed, you privately choose an integer action.

Scoring each round:
- You gain 1.0 point for every OTHER player whose action equals yours.
- You gain 0.5 points for every player whose bet equals your bet.

Your goal is to maximize your cumulative score. Use the revealed bets to predict where other players will coordinate.`

// BuildBetObservation converts bet-phase context into the observation JSON.
// Only the agent's own history is visible; no other bet exists yet.
func BuildBetObservation(bc engine.BetContext) Observation {
	return Observation{
		Phase:       "bet",
		Turn:        bc.Turn,
		NumActions:  bc.NumActions,
		Score:       bc.Score,
		PastBets:    emptyNotNil(bc.PastBets),
		PastActions: emptyNotNil(bc.PastActions),
	}
}

// BuildActionObservation adds the full revealed bet snapshot.
func BuildActionObservation(ac engine.ActionContext) Observation {
	obs := BuildBetObservation(ac.BetContext)
	obs.Phase = "action"
	obs.RevealedBets = make(map[string]int, len(ac.Bets))
	for id, b := range ac.Bets {
		obs.RevealedBets[string(id)] = b
	}
	return obs
}

// UserPrompt renders the observation plus strict reply rules.
func UserPrompt(o Observation) string {
	raw, _ := json.Marshal(o)
	var b strings.Builder
	fmt.Fprintf(&b, "Given this observation JSON:\n%s\n\n", raw)
	if o.Phase == "action" && len(o.RevealedBets) > 0 {
		fmt.Fprintf(&b, "All bets this round: %s\n\n", formatBets(o.RevealedBets))
	}
	fmt.Fprintf(&b, `Respond ONLY with a single compact JSON object:
{"choice":<integer>}
Rules:
- "choice" must be an integer between 0 and %d (inclusive).
- No extra keys. No prose. No markdown.`, o.NumActions-1)
	return b.String()
}

func formatBets(bets map[string]int) string {
	ids := make([]string, 0, len(bets))
	for id := range bets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=%d", id, bets[id])
	}
	return strings.Join(parts, " ")
}

// Validate checks a model's choice against the legal domain.
func Validate(choice, numActions int) error {
	if choice < 0 || choice >= numActions {
		return fmt.Errorf("choice %d out of bounds [0, %d)", choice, numActions)
	}
	return nil
}

func emptyNotNil(xs []int) []int {
	if xs == nil {
		return []int{}
	}
	return xs
}
