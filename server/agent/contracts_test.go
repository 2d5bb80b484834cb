package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mindmeld-arena/server/engine"
)

func TestBuildBetObservation(t *testing.T) {
	obs := BuildBetObservation(engine.BetContext{
		Turn:        2,
		NumActions:  16,
		Score:       4.5,
		PastBets:    []int{3, 7},
		PastActions: []int{3, 5},
	})
	require.Equal(t, "bet", obs.Phase)
	require.Equal(t, 2, obs.Turn)
	require.Nil(t, obs.RevealedBets)

	// A fresh agent's history marshals as [], not null.
	fresh := BuildBetObservation(engine.BetContext{Turn: 0, NumActions: 16})
	raw, err := json.Marshal(fresh)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"past_bets":[]`)
	require.Contains(t, string(raw), `"past_actions":[]`)
	require.NotContains(t, string(raw), "revealed_bets")
}

func TestBuildActionObservationCarriesAllBets(t *testing.T) {
	obs := BuildActionObservation(engine.ActionContext{
		BetContext: engine.BetContext{Turn: 1, NumActions: 8},
		Bets: map[engine.AgentID]int{
			"alpha#0": 3, "alpha#1": 3, "beta#0": 5,
		},
	})
	require.Equal(t, "action", obs.Phase)
	require.Len(t, obs.RevealedBets, 3)
	require.Equal(t, 5, obs.RevealedBets["beta#0"])
}

func TestUserPromptStatesInclusiveBounds(t *testing.T) {
	prompt := UserPrompt(BuildBetObservation(engine.BetContext{Turn: 0, NumActions: 16}))
	require.Contains(t, prompt, `{"choice":<integer>}`)
	require.Contains(t, prompt, "between 0 and 15 (inclusive)")
}

func TestUserPromptListsRevealedBetsSorted(t *testing.T) {
	prompt := UserPrompt(BuildActionObservation(engine.ActionContext{
		BetContext: engine.BetContext{Turn: 0, NumActions: 8},
		Bets:       map[engine.AgentID]int{"b#0": 2, "a#0": 1},
	}))
	require.Contains(t, prompt, "a#0=1 b#0=2")
	require.Less(t, strings.Index(prompt, "a#0=1"), strings.Index(prompt, "b#0=2"))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(0, 16))
	require.NoError(t, Validate(15, 16))
	require.Error(t, Validate(16, 16))
	require.Error(t, Validate(-1, 16))
}
