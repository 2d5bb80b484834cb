package rating

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"mindmeld-arena/server/engine"
)

// HistoryPoint is one (turn, rating) snapshot in a model's history.
type HistoryPoint struct {
	Turn   int     `json:"turn"`
	Rating float64 `json:"rating"`
}

// MatchOutcome records one pairwise update, kept for audit and export.
type MatchOutcome struct {
	Turn          int     `json:"turn"`
	ModelA        string  `json:"model_a"`
	ModelB        string  `json:"model_b"`
	ScoreA        float64 `json:"score_a"`
	RatingABefore float64 `json:"rating_a_before"`
	RatingBBefore float64 `json:"rating_b_before"`
	RatingAAfter  float64 `json:"rating_a_after"`
	RatingBAfter  float64 `json:"rating_b_after"`
}

// GlickoState is the persisted form of a model's Glicko-2 rating.
type GlickoState struct {
	Rating     float64 `json:"rating"`
	RD         float64 `json:"rd"`
	Volatility float64 `json:"sigma"`
	Periods    int     `json:"periods"`
}

// Snapshot is the full persisted state of the rating system. A reload
// of a snapshot followed by new turns continues aggregation without
// double-counting: turns at or below LastTurn are skipped.
type Snapshot struct {
	Config   EloConfig                 `json:"config"`
	LastTurn int                       `json:"last_turn"`
	Ratings  map[string]float64        `json:"ratings"`
	Glicko   map[string]GlickoState    `json:"glicko"`
	History  map[string][]HistoryPoint `json:"rating_history"`
	Matches  []MatchOutcome            `json:"match_history"`
}

// Store is the persistence sink for rating state. Write failures are
// non-fatal: ratings stay correct in memory and the full snapshot is
// saved again on the next turn.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error) // (nil, nil) when no prior state exists
	Save(ctx context.Context, snap *Snapshot) error
}

// Ranking is one leaderboard row.
type Ranking struct {
	Rank   int     `json:"rank"`
	Model  string  `json:"model"`
	Rating float64 `json:"rating"`
}

const glickoTau = 0.5

// Manager converts each turn's per-model average score into pairwise
// match outcomes and drives the rating mathematics. It is the single
// writer of the rating store; the read API takes the lock shared with
// the reporting HTTP handlers.
type Manager struct {
	mu     sync.RWMutex
	cfg    EloConfig
	groups []engine.ModelGroup
	store  Store

	ratings  map[string]float64
	glicko   map[string]*Glicko2
	history  map[string][]HistoryPoint
	matches  []MatchOutcome
	lastTurn int
}

// NewManager builds a manager over the fixed model groups, restoring
// any prior state from the store. A snapshot's Elo config wins over
// the passed-in one so a resumed run keeps its parameters.
func NewManager(ctx context.Context, cfg EloConfig, groups []engine.ModelGroup, store Store) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		groups:   groups,
		store:    store,
		ratings:  map[string]float64{},
		glicko:   map[string]*Glicko2{},
		history:  map[string][]HistoryPoint{},
		lastTurn: -1,
	}
	if store == nil {
		return m, nil
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rating store: %w", err)
	}
	if snap == nil {
		log.Printf("rating store empty; starting fresh (initial=%.0f k=%.0f scale=%.0f)",
			cfg.InitialRating, cfg.KFactor, cfg.ScaleFactor)
		return m, nil
	}
	m.cfg = snap.Config
	m.lastTurn = snap.LastTurn
	for name, r := range snap.Ratings {
		m.ratings[name] = r
	}
	for name, gs := range snap.Glicko {
		g := NewGlicko2With(gs.Rating, gs.RD, gs.Volatility)
		g.Periods = gs.Periods
		m.glicko[name] = g
	}
	for name, h := range snap.History {
		m.history[name] = append([]HistoryPoint(nil), h...)
	}
	m.matches = append([]MatchOutcome(nil), snap.Matches...)
	log.Printf("loaded ratings for %d models (last recorded turn %d)", len(m.ratings), m.lastTurn)
	return m, nil
}

// ProcessTurn folds one scored turn into the ratings. Every pairwise
// update reads the same pre-turn rating snapshot, so processing pairs
// in any order yields identical final ratings; per-model deltas are
// accumulated across pairs and applied once. Turns already recorded
// by a prior run are skipped.
func (m *Manager) ProcessTurn(turn int, deltas map[engine.AgentID]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn <= m.lastTurn {
		log.Printf("turn %d already recorded (last=%d); skipping rating update", turn, m.lastTurn)
		return nil
	}

	names, avgs := m.modelAverages(deltas)
	if len(names) == 0 {
		return nil
	}

	pre := make(map[string]float64, len(names))
	preG := make(map[string]*Glicko2, len(names))
	for _, name := range names {
		if _, ok := m.ratings[name]; !ok {
			m.ratings[name] = m.cfg.InitialRating
		}
		if _, ok := m.glicko[name]; !ok {
			m.glicko[name] = NewGlicko2()
		}
		pre[name] = m.ratings[name]
		preG[name] = m.glicko[name].Copy()
	}

	acc := make(map[string]float64, len(names))
	glickoResults := make(map[string][]OpponentResult, len(names))
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			outcome := relativeOutcome(avgs[a], avgs[b])
			ea := Expected(pre[a], pre[b], m.cfg.ScaleFactor)
			na := Update(pre[a], outcome, ea, m.cfg.KFactor)
			nb := Update(pre[b], 1.0-outcome, 1.0-ea, m.cfg.KFactor)
			acc[a] += na - pre[a]
			acc[b] += nb - pre[b]
			glickoResults[a] = append(glickoResults[a], OpponentResult{Opp: preG[b], S: outcome})
			glickoResults[b] = append(glickoResults[b], OpponentResult{Opp: preG[a], S: 1.0 - outcome})
			m.matches = append(m.matches, MatchOutcome{
				Turn: turn, ModelA: a, ModelB: b, ScoreA: outcome,
				RatingABefore: pre[a], RatingBBefore: pre[b],
				RatingAAfter: na, RatingBAfter: nb,
			})
		}
	}

	for _, name := range names {
		m.ratings[name] = pre[name] + acc[name]
		m.glicko[name].UpdateBatch(glickoResults[name], glickoTau)
		m.history[name] = append(m.history[name], HistoryPoint{Turn: turn, Rating: m.ratings[name]})
	}
	m.lastTurn = turn

	m.persistLocked()
	return nil
}

// persistLocked writes the full snapshot. Failures only log: the next
// turn saves the complete state again, so nothing is lost as long as
// a later write succeeds.
func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(context.Background(), m.snapshotLocked()); err != nil {
		log.Printf("WARN rating persist failed (will retry next turn): %v", err)
	}
}

// Save flushes the current state, for use at shutdown.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.RLock()
	snap := m.snapshotLocked()
	m.mu.RUnlock()
	if m.store == nil {
		return nil
	}
	return m.store.Save(ctx, snap)
}

func (m *Manager) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Config:   m.cfg,
		LastTurn: m.lastTurn,
		Ratings:  make(map[string]float64, len(m.ratings)),
		Glicko:   make(map[string]GlickoState, len(m.glicko)),
		History:  make(map[string][]HistoryPoint, len(m.history)),
		Matches:  append([]MatchOutcome(nil), m.matches...),
	}
	for name, r := range m.ratings {
		snap.Ratings[name] = r
	}
	for name, g := range m.glicko {
		snap.Glicko[name] = GlickoState{Rating: g.Rating, RD: g.RD, Volatility: g.Volatility, Periods: g.Periods}
	}
	for name, h := range m.history {
		snap.History[name] = append([]HistoryPoint(nil), h...)
	}
	return snap
}

// modelAverages computes each model's arithmetic mean over its agents'
// deltas for the turn. Names come back in group order so the match log
// stays deterministic; the math itself is order-independent.
func (m *Manager) modelAverages(deltas map[engine.AgentID]float64) ([]string, map[string]float64) {
	var names []string
	avgs := map[string]float64{}
	for _, gr := range m.groups {
		sum, n := 0.0, 0
		for _, id := range gr.Agents {
			if s, ok := deltas[id]; ok {
				sum += s
				n++
			}
		}
		if n == 0 {
			continue
		}
		names = append(names, gr.Name)
		avgs[gr.Name] = sum / float64(n)
	}
	return names, avgs
}

// relativeOutcome maps two per-model averages to an actual outcome in
// [0,1]. Policy: margin-scaled ratio a/(a+b), clamped so a mixed-sign
// pair cannot leave the range; equal averages or a non-positive total
// are a draw.
func relativeOutcome(a, b float64) float64 {
	if a == b {
		return 0.5
	}
	total := a + b
	if total <= 0 {
		return 0.5
	}
	r := a / total
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// ---- read-only reporting API ----

func (m *Manager) CurrentRatings() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.ratings))
	for name, r := range m.ratings {
		out[name] = r
	}
	return out
}

func (m *Manager) History(model string) []HistoryPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HistoryPoint(nil), m.history[model]...)
}

func (m *Manager) Matches() []MatchOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MatchOutcome(nil), m.matches...)
}

func (m *Manager) GlickoStates() map[string]GlickoState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]GlickoState, len(m.glicko))
	for name, g := range m.glicko {
		out[name] = GlickoState{Rating: g.Rating, RD: g.RD, Volatility: g.Volatility, Periods: g.Periods}
	}
	return out
}

func (m *Manager) LastTurn() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTurn
}

// Rankings returns models sorted by rating, best first.
func (m *Manager) Rankings() []Ranking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Ranking, 0, len(m.ratings))
	for name, r := range m.ratings {
		out = append(out, Ranking{Model: name, Rating: r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Model < out[j].Model
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// WinProbabilityMatrix returns, for the ranked models, the expected
// outcome of every model against every other. The diagonal is 0.5.
func (m *Manager) WinProbabilityMatrix() ([]string, [][]float64) {
	ranks := m.Rankings()
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(ranks))
	for i, r := range ranks {
		names[i] = r.Model
	}
	matrix := make([][]float64, len(names))
	for i, a := range names {
		matrix[i] = make([]float64, len(names))
		for j, b := range names {
			if i == j {
				matrix[i][j] = 0.5
				continue
			}
			matrix[i][j] = Expected(m.ratings[a], m.ratings[b], m.cfg.ScaleFactor)
		}
	}
	return names, matrix
}
