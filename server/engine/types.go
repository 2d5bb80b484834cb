package engine

import (
	"context"
	"errors"
)

// AgentID uniquely identifies one agent for the tournament's duration.
type AgentID string

// ModelGroup is a named set of agents sharing one rating. Membership is
// fixed at construction and never changes mid-tournament.
type ModelGroup struct {
	Name    string
	APIName string
	Agents  []AgentID
}

// Round is one full bet→reveal→action cycle. Both maps are total over
// all agents once the round seals; a sealed round is never mutated.
type Round struct {
	Turn    int
	Bets    map[AgentID]int
	Actions map[AgentID]int
}

// ScoreBoard holds cumulative per-agent scores plus the per-round
// deltas that produced them (kept for audit).
type ScoreBoard struct {
	Totals map[AgentID]float64
	Deltas []map[AgentID]float64
}

func NewScoreBoard() *ScoreBoard {
	return &ScoreBoard{Totals: map[AgentID]float64{}}
}

func (sb *ScoreBoard) apply(deltas map[AgentID]float64) {
	for id, d := range deltas {
		sb.Totals[id] += d
	}
	sb.Deltas = append(sb.Deltas, deltas)
}

// BetContext is what an agent sees during the bet phase: the turn and
// its own history only. No other agent's bet is visible yet.
type BetContext struct {
	Turn        int
	NumActions  int
	Score       float64
	PastBets    []int
	PastActions []int
}

// ActionContext adds the bet snapshot revealed once the bet phase has
// fully closed. The snapshot always covers every agent; there is no
// partial reveal.
type ActionContext struct {
	BetContext
	Bets map[AgentID]int
}

// Caller is the decision-making capability backing one agent. It may
// time out or return garbage; the engine substitutes a fallback and
// the round proceeds.
type Caller interface {
	ChooseBet(ctx context.Context, bc BetContext) (int, error)
	ChooseAction(ctx context.Context, ac ActionContext) (int, error)
}

// ScoreSink receives the finalized per-agent deltas of each scored
// turn. The rating pipeline hangs off this.
type ScoreSink interface {
	ProcessTurn(turn int, deltas map[AgentID]float64) error
}

// RoundRecorder receives each sealed round after scoring, for audit or
// persistence. Recording is best-effort and never blocks the game.
type RoundRecorder interface {
	RecordRound(r *Round, deltas map[AgentID]float64)
}

// ErrConfig marks a configuration problem caught at construction.
// These are fatal before turn 1 and never recovered mid-tournament.
var ErrConfig = errors.New("invalid game configuration")

// ErrRoundIntegrity marks a round that failed the seal check (an agent
// missing or duplicated after fallback application). Such a round is
// voided and never scored.
var ErrRoundIntegrity = errors.New("round integrity check failed")
