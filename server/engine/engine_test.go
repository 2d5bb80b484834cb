package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptCaller returns fixed choices, optionally failing or stalling.
type scriptCaller struct {
	bet, action       int
	betErr, actionErr error
	stall             bool
}

func (s *scriptCaller) ChooseBet(ctx context.Context, bc BetContext) (int, error) {
	if s.stall {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.bet, s.betErr
}

func (s *scriptCaller) ChooseAction(ctx context.Context, ac ActionContext) (int, error) {
	if s.stall {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.action, s.actionErr
}

type captureSink struct {
	turns  []int
	deltas []map[AgentID]float64
}

func (cs *captureSink) ProcessTurn(turn int, deltas map[AgentID]float64) error {
	cs.turns = append(cs.turns, turn)
	cs.deltas = append(cs.deltas, deltas)
	return nil
}

func twoModelSetup(t *testing.T, callers map[AgentID]Caller) ([]ModelGroup, []*Player) {
	t.Helper()
	groups := []ModelGroup{
		{Name: "alpha", APIName: "alpha-api", Agents: []AgentID{"alpha#0", "alpha#1"}},
		{Name: "beta", APIName: "beta-api", Agents: []AgentID{"beta#0", "beta#1"}},
	}
	var players []*Player
	for _, gr := range groups {
		for _, id := range gr.Agents {
			c := callers[id]
			if c == nil {
				c = &scriptCaller{}
			}
			players = append(players, NewPlayer(id, gr.Name, c))
		}
	}
	return groups, players
}

func TestNewGameValidation(t *testing.T) {
	groups, players := twoModelSetup(t, nil)

	_, err := NewGame(Config{NumActions: 1, NumTurns: 1}, groups, players, nil)
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewGame(Config{NumActions: 8, NumTurns: 0}, groups, players, nil)
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewGame(Config{NumActions: 8, NumTurns: 1}, nil, players, nil)
	require.ErrorIs(t, err, ErrConfig)

	// Unequal group sizes.
	uneven := []ModelGroup{
		{Name: "alpha", Agents: []AgentID{"alpha#0", "alpha#1"}},
		{Name: "beta", Agents: []AgentID{"beta#0"}},
	}
	_, err = NewGame(Config{NumActions: 8, NumTurns: 1}, uneven, players, nil)
	require.ErrorIs(t, err, ErrConfig)

	// Group referencing an agent that has no player.
	ghost := []ModelGroup{
		{Name: "alpha", Agents: []AgentID{"alpha#0", "ghost"}},
		{Name: "beta", Agents: []AgentID{"beta#0", "beta#1"}},
	}
	_, err = NewGame(Config{NumActions: 8, NumTurns: 1}, ghost, players, nil)
	require.ErrorIs(t, err, ErrConfig)

	// Nil caller.
	bad := append([]*Player{}, players...)
	bad[0] = &Player{ID: "alpha#0", Model: "alpha"}
	_, err = NewGame(Config{NumActions: 8, NumTurns: 1}, groups, bad, nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestRunTurnSealsAndScores(t *testing.T) {
	callers := map[AgentID]Caller{
		"alpha#0": &scriptCaller{bet: 2, action: 5},
		"alpha#1": &scriptCaller{bet: 2, action: 5},
		"beta#0":  &scriptCaller{bet: 2, action: 5},
		"beta#1":  &scriptCaller{bet: 3, action: 7},
	}
	groups, players := twoModelSetup(t, callers)
	sink := &captureSink{}
	g, err := NewGame(Config{NumActions: 8, NumTurns: 1}, groups, players, sink)
	require.NoError(t, err)

	round, err := g.RunTurn(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, round.Bets, 4)
	require.Len(t, round.Actions, 4)
	require.Equal(t, 5, round.Actions["alpha#0"])

	// Three agents on action 5 / bet 2, one alone.
	scores := g.Scores()
	require.Equal(t, 3.0, scores["alpha#0"]) // 2 others + 0.5×2 bets
	require.Equal(t, 0.0, scores["beta#1"])

	require.Equal(t, []int{0}, sink.turns)
	require.Equal(t, scores["alpha#0"], sink.deltas[0]["alpha#0"])
	require.Len(t, g.Rounds(), 1)
}

func TestBetsHiddenUntilReveal(t *testing.T) {
	// The action-phase snapshot must carry every agent's bet; the
	// bet-phase context must carry none.
	var sawBets map[AgentID]int
	spy := &spyCaller{onAction: func(ac ActionContext) { sawBets = ac.Bets }}
	callers := map[AgentID]Caller{"alpha#0": spy}
	groups, players := twoModelSetup(t, callers)
	g, err := NewGame(Config{NumActions: 8, NumTurns: 1}, groups, players, nil)
	require.NoError(t, err)

	_, err = g.RunTurn(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sawBets, 4)
}

type spyCaller struct {
	onAction func(ActionContext)
}

func (s *spyCaller) ChooseBet(ctx context.Context, bc BetContext) (int, error) { return 1, nil }
func (s *spyCaller) ChooseAction(ctx context.Context, ac ActionContext) (int, error) {
	if s.onAction != nil {
		s.onAction(ac)
	}
	return 1, nil
}

func TestFallbackOnErrorAndOutOfRange(t *testing.T) {
	callers := map[AgentID]Caller{
		"alpha#0": &scriptCaller{betErr: errors.New("model exploded"), actionErr: errors.New("again")},
		"alpha#1": &scriptCaller{bet: 99, action: -1}, // out of range both phases
	}
	groups, players := twoModelSetup(t, callers)
	g, err := NewGame(Config{NumActions: 8, NumTurns: 1}, groups, players, nil)
	require.NoError(t, err)

	round, err := g.RunTurn(context.Background(), 0)
	require.NoError(t, err)
	for id, b := range round.Bets {
		require.GreaterOrEqual(t, b, 0, "bet for %s", id)
		require.Less(t, b, 8, "bet for %s", id)
	}
	for id, a := range round.Actions {
		require.GreaterOrEqual(t, a, 0, "action for %s", id)
		require.Less(t, a, 8, "action for %s", id)
	}
}

func TestTimeoutFallsBackAndRoundSeals(t *testing.T) {
	callers := map[AgentID]Caller{
		"beta#0": &scriptCaller{stall: true},
	}
	groups, players := twoModelSetup(t, callers)
	g, err := NewGame(Config{NumActions: 8, NumTurns: 1, AgentTimeout: 20 * time.Millisecond}, groups, players, nil)
	require.NoError(t, err)

	round, err := g.RunTurn(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, round.Bets, 4)
	require.Len(t, round.Actions, 4)
}

func TestCancelledContextAbortsWithoutScoring(t *testing.T) {
	groups, players := twoModelSetup(t, nil)
	g, err := NewGame(Config{NumActions: 8, NumTurns: 3}, groups, players, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = g.Play(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, g.Rounds())
	require.Empty(t, g.Scores())
}

func TestPlayRunsAllTurnsAndAccumulates(t *testing.T) {
	callers := map[AgentID]Caller{
		"alpha#0": &scriptCaller{bet: 1, action: 1},
		"alpha#1": &scriptCaller{bet: 1, action: 1},
		"beta#0":  &scriptCaller{bet: 4, action: 6},
		"beta#1":  &scriptCaller{bet: 5, action: 7},
	}
	groups, players := twoModelSetup(t, callers)
	sink := &captureSink{}
	g, err := NewGame(Config{NumActions: 8, NumTurns: 3}, groups, players, sink)
	require.NoError(t, err)

	require.NoError(t, g.Play(context.Background(), 0))
	require.Len(t, g.Rounds(), 3)
	require.Equal(t, []int{0, 1, 2}, sink.turns)

	// Per turn: alpha agents earn 1 other + 0.5 bet = 1.5 each.
	scores := g.Scores()
	require.Equal(t, 4.5, scores["alpha#0"])
	require.Equal(t, 4.5, scores["alpha#1"])
	require.Equal(t, 0.0, scores["beta#0"])

	// Player histories track their own choices only.
	for _, p := range g.Players() {
		require.Equal(t, 4.5, p.Score(), "agent %s", p.ID)
		break
	}
}

func TestRecorderSeesSealedRounds(t *testing.T) {
	groups, players := twoModelSetup(t, nil)
	g, err := NewGame(Config{NumActions: 8, NumTurns: 2}, groups, players, nil)
	require.NoError(t, err)

	var recorded []*Round
	g.SetRecorder(recorderFunc(func(r *Round, _ map[AgentID]float64) {
		recorded = append(recorded, r)
	}))
	require.NoError(t, g.Play(context.Background(), 0))
	require.Len(t, recorded, 2)
	require.Equal(t, 0, recorded[0].Turn)
	require.Equal(t, 1, recorded[1].Turn)
}

func TestPlayResumesFromStartTurn(t *testing.T) {
	groups, players := twoModelSetup(t, nil)
	sink := &captureSink{}
	g, err := NewGame(Config{NumActions: 8, NumTurns: 2}, groups, players, sink)
	require.NoError(t, err)

	// A rerun against an existing rating store continues past its last
	// recorded turn instead of replaying turn 0.
	require.NoError(t, g.Play(context.Background(), 5))
	require.Equal(t, []int{5, 6}, sink.turns)
	require.Len(t, g.Rounds(), 2)
	require.Equal(t, 5, g.Rounds()[0].Turn)
	require.Equal(t, 6, g.Rounds()[1].Turn)
}

type recorderFunc func(*Round, map[AgentID]float64)

func (f recorderFunc) RecordRound(r *Round, d map[AgentID]float64) { f(r, d) }
