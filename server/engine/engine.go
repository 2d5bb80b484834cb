package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	NumActions            int           // size of the choice domain [0, NumActions)
	NumTurns              int           // tournament length
	MaxConcurrency        int           // cap on in-flight agent calls per phase
	AgentTimeout          time.Duration // per-call budget before fallback
	IncludeSelfInBetBonus bool
}

const (
	defaultMaxConcurrency = 8
	defaultAgentTimeout   = 60 * time.Second
)

// Player pairs an agent identity with its caller and own history. The
// history is mutated only by the game loop, after phase barriers, so
// it needs no locking.
type Player struct {
	ID     AgentID
	Model  string
	Caller Caller

	score   float64
	bets    []int
	actions []int
}

func NewPlayer(id AgentID, model string, c Caller) *Player {
	return &Player{ID: id, Model: model, Caller: c}
}

func (p *Player) Score() float64 { return p.score }

// Game orchestrates the two-phase round protocol across all turns and
// owns the round history and cumulative scoreboard.
type Game struct {
	cfg      Config
	players  []*Player
	groups   []ModelGroup
	board    *ScoreBoard
	rounds   []*Round
	sink     ScoreSink
	recorder RoundRecorder
}

func NewGame(cfg Config, groups []ModelGroup, players []*Player, sink ScoreSink) (*Game, error) {
	if cfg.NumActions < 2 {
		return nil, fmt.Errorf("%w: num_actions must be at least 2, got %d", ErrConfig, cfg.NumActions)
	}
	if cfg.NumTurns < 1 {
		return nil, fmt.Errorf("%w: num_turns must be at least 1, got %d", ErrConfig, cfg.NumTurns)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: no model groups", ErrConfig)
	}
	// Equal group sizes keep the pairwise comparison fair.
	want := len(groups[0].Agents)
	for _, gr := range groups {
		if len(gr.Agents) == 0 {
			return nil, fmt.Errorf("%w: model %q has no agents", ErrConfig, gr.Name)
		}
		if len(gr.Agents) != want {
			return nil, fmt.Errorf("%w: model %q has %d agents, want %d", ErrConfig, gr.Name, len(gr.Agents), want)
		}
	}
	seen := make(map[AgentID]bool, len(players))
	for _, p := range players {
		if p.Caller == nil {
			return nil, fmt.Errorf("%w: agent %s has no caller", ErrConfig, p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate agent id %s", ErrConfig, p.ID)
		}
		seen[p.ID] = true
	}
	grouped := 0
	for _, gr := range groups {
		for _, id := range gr.Agents {
			if !seen[id] {
				return nil, fmt.Errorf("%w: model %q lists unknown agent %s", ErrConfig, gr.Name, id)
			}
			grouped++
		}
	}
	if grouped != len(players) {
		return nil, fmt.Errorf("%w: %d agents but %d group slots", ErrConfig, len(players), grouped)
	}

	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = defaultAgentTimeout
	}
	return &Game{cfg: cfg, groups: groups, players: players, board: NewScoreBoard(), sink: sink}, nil
}

// SetRecorder attaches an optional per-round audit recorder.
func (g *Game) SetRecorder(r RoundRecorder) { g.recorder = r }

// Play runs the tournament: NumTurns rounds numbered from startTurn,
// strictly ordered — turn N+1's bet phase cannot start before turn N
// has fully recorded. A resumed series passes the first turn its
// rating store has not yet recorded, so aggregation continues instead
// of every round replaying an already-counted turn number. A
// cancelled context ends the game early with the in-flight round
// discarded unscored. A round that fails its integrity check is voided
// and the game skips to the next turn.
func (g *Game) Play(ctx context.Context, startTurn int) error {
	if startTurn < 0 {
		startTurn = 0
	}
	for turn := startTurn; turn < startTurn+g.cfg.NumTurns; turn++ {
		if _, err := g.RunTurn(ctx, turn); err != nil {
			if errors.Is(err, ErrRoundIntegrity) {
				log.Printf("turn %d voided: %v", turn, err)
				continue
			}
			return err
		}
	}
	return nil
}

// RunTurn executes one bet→reveal→action→score→record cycle and
// returns the sealed round. Each phase fans out one concurrent call
// per agent and joins at a single barrier; the reveal between the two
// phases is a single atomic snapshot.
func (g *Game) RunTurn(ctx context.Context, turn int) (*Round, error) {
	bets, err := g.betPhase(ctx, turn)
	if err != nil {
		return nil, err
	}
	actions, err := g.actionPhase(ctx, turn, bets)
	if err != nil {
		return nil, err
	}

	round := &Round{Turn: turn, Bets: bets, Actions: actions}
	if err := g.checkIntegrity(round); err != nil {
		return nil, err
	}

	deltas := ScoreRound(round, g.cfg.IncludeSelfInBetBonus)
	g.board.apply(deltas)
	for _, p := range g.players {
		p.score += deltas[p.ID]
		p.bets = append(p.bets, bets[p.ID])
		p.actions = append(p.actions, actions[p.ID])
	}
	g.rounds = append(g.rounds, round)

	if g.recorder != nil {
		g.recorder.RecordRound(round, deltas)
	}
	if g.sink != nil {
		if err := g.sink.ProcessTurn(turn, deltas); err != nil {
			log.Printf("rating update for turn %d failed: %v", turn, err)
		}
	}
	return round, nil
}

func (g *Game) betPhase(ctx context.Context, turn int) (map[AgentID]int, error) {
	out := make([]int, len(g.players))
	var eg errgroup.Group
	eg.SetLimit(g.cfg.MaxConcurrency)
	for i, p := range g.players {
		i, p := i, p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cctx, cancel := context.WithTimeout(ctx, g.cfg.AgentTimeout)
			v, err := p.Caller.ChooseBet(cctx, g.betContext(turn, p))
			cancel()
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = g.vet(p, "bet", v, err)
			return nil
		})
	}
	// Join barrier: the phase closes only once every agent has
	// responded or been defaulted.
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return g.asMap(out), nil
}

func (g *Game) actionPhase(ctx context.Context, turn int, bets map[AgentID]int) (map[AgentID]int, error) {
	out := make([]int, len(g.players))
	var eg errgroup.Group
	eg.SetLimit(g.cfg.MaxConcurrency)
	for i, p := range g.players {
		i, p := i, p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ac := ActionContext{BetContext: g.betContext(turn, p), Bets: bets}
			cctx, cancel := context.WithTimeout(ctx, g.cfg.AgentTimeout)
			v, err := p.Caller.ChooseAction(cctx, ac)
			cancel()
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = g.vet(p, "action", v, err)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return g.asMap(out), nil
}

func (g *Game) betContext(turn int, p *Player) BetContext {
	return BetContext{
		Turn:        turn,
		NumActions:  g.cfg.NumActions,
		Score:       p.score,
		PastBets:    append([]int(nil), p.bets...),
		PastActions: append([]int(nil), p.actions...),
	}
}

// vet validates one agent reply, substituting a uniformly sampled
// legal value on timeout, error, or an out-of-range choice. Agent
// misbehavior never aborts the round.
func (g *Game) vet(p *Player, phase string, v int, err error) int {
	switch {
	case err != nil:
		fb := rand.Intn(g.cfg.NumActions)
		if !errors.Is(err, context.Canceled) {
			log.Printf("WARN agent %s (%s): %s failed (%v); fallback %d", p.ID, p.Model, phase, err, fb)
		}
		return fb
	case v < 0 || v >= g.cfg.NumActions:
		fb := rand.Intn(g.cfg.NumActions)
		log.Printf("WARN agent %s (%s): %s %d outside [0,%d); fallback %d", p.ID, p.Model, phase, v, g.cfg.NumActions, fb)
		return fb
	default:
		return v
	}
}

func (g *Game) asMap(vals []int) map[AgentID]int {
	m := make(map[AgentID]int, len(vals))
	for i, p := range g.players {
		m[p.ID] = vals[i]
	}
	return m
}

// checkIntegrity verifies the sealed round covers every agent exactly
// once. A failure here is an orchestration bug, not a transient agent
// problem; the round must never be scored.
func (g *Game) checkIntegrity(r *Round) error {
	if len(r.Bets) != len(g.players) || len(r.Actions) != len(g.players) {
		return fmt.Errorf("%w: turn %d sealed with %d bets / %d actions for %d agents",
			ErrRoundIntegrity, r.Turn, len(r.Bets), len(r.Actions), len(g.players))
	}
	for _, p := range g.players {
		if _, ok := r.Bets[p.ID]; !ok {
			return fmt.Errorf("%w: agent %s has no bet on turn %d", ErrRoundIntegrity, p.ID, r.Turn)
		}
		if _, ok := r.Actions[p.ID]; !ok {
			return fmt.Errorf("%w: agent %s has no action on turn %d", ErrRoundIntegrity, p.ID, r.Turn)
		}
	}
	return nil
}

// Scores returns a copy of the cumulative per-agent scoreboard.
func (g *Game) Scores() map[AgentID]float64 {
	out := make(map[AgentID]float64, len(g.board.Totals))
	for id, s := range g.board.Totals {
		out[id] = s
	}
	return out
}

// RoundDeltas returns the retained per-round score deltas, in turn order.
func (g *Game) RoundDeltas() []map[AgentID]float64 { return g.board.Deltas }

func (g *Game) Rounds() []*Round     { return g.rounds }
func (g *Game) Groups() []ModelGroup { return g.groups }
func (g *Game) Players() []*Player   { return g.players }
