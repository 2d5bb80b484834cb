package store

import (
	"context"
	"embed"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mindmeld-arena/server/engine"
	"mindmeld-arena/server/rating"
)

//go:embed schema.sql
var schema embed.FS

type DB struct{ *pgxpool.Pool }

func Open(dsn string) (*DB, error) {
	p, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close(ctx context.Context)      { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

/* -----------------------------
   rating.Store implementation
------------------------------*/

// Load rebuilds a rating snapshot from the models / model_ratings /
// rating_history / pair_updates tables. Returns (nil, nil) when no
// model has a rating yet.
func (db *DB) Load(ctx context.Context) (*rating.Snapshot, error) {
	snap := &rating.Snapshot{
		Config:   rating.DefaultEloConfig(),
		LastTurn: -1,
		Ratings:  map[string]float64{},
		Glicko:   map[string]rating.GlickoState{},
		History:  map[string][]rating.HistoryPoint{},
	}

	rows, err := db.Query(ctx, `
        SELECT m.name, r.elo, r.g_rating, r.g_rd, r.g_sigma, r.g_periods, r.last_turn
          FROM model_ratings r
          JOIN models m ON m.id = r.model_id
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var elo, gr, grd, gsigma float64
		var periods, lastTurn int
		if err := rows.Scan(&name, &elo, &gr, &grd, &gsigma, &periods, &lastTurn); err != nil {
			return nil, err
		}
		snap.Ratings[name] = elo
		snap.Glicko[name] = rating.GlickoState{Rating: gr, RD: grd, Volatility: gsigma, Periods: periods}
		if lastTurn > snap.LastTurn {
			snap.LastTurn = lastTurn
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snap.Ratings) == 0 {
		return nil, nil
	}

	hrows, err := db.Query(ctx, `
        SELECT m.name, h.turn, h.rating
          FROM rating_history h
          JOIN models m ON m.id = h.model_id
         ORDER BY h.model_id, h.turn
    `)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var name string
		var hp rating.HistoryPoint
		if err := hrows.Scan(&name, &hp.Turn, &hp.Rating); err != nil {
			return nil, err
		}
		snap.History[name] = append(snap.History[name], hp)
	}
	if err := hrows.Err(); err != nil {
		return nil, err
	}

	prows, err := db.Query(ctx, `
        SELECT turn, model_a, model_b, score_a,
               rating_a_before, rating_b_before, rating_a_after, rating_b_after
          FROM pair_updates
         ORDER BY turn, model_a, model_b
    `)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var mo rating.MatchOutcome
		if err := prows.Scan(&mo.Turn, &mo.ModelA, &mo.ModelB, &mo.ScoreA,
			&mo.RatingABefore, &mo.RatingBBefore, &mo.RatingAAfter, &mo.RatingBAfter); err != nil {
			return nil, err
		}
		snap.Matches = append(snap.Matches, mo)
	}
	return snap, prows.Err()
}

// Save upserts every model's rating row and appends any history and
// pair-update rows not yet recorded, in one transaction.
func (db *DB) Save(ctx context.Context, snap *rating.Snapshot) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	for name, elo := range snap.Ratings {
		id, err := upsertModelTx(ctx, tx, name, "")
		if err != nil {
			return err
		}
		gs := snap.Glicko[name]
		if _, err := tx.Exec(ctx, `
            INSERT INTO model_ratings(model_id, elo, g_rating, g_rd, g_sigma, g_periods, last_turn)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
            ON CONFLICT (model_id) DO UPDATE
              SET elo = EXCLUDED.elo,
                  g_rating = EXCLUDED.g_rating,
                  g_rd = EXCLUDED.g_rd,
                  g_sigma = EXCLUDED.g_sigma,
                  g_periods = EXCLUDED.g_periods,
                  last_turn = EXCLUDED.last_turn,
                  updated_at = now()
        `, id, elo, gs.Rating, gs.RD, gs.Volatility, gs.Periods, snap.LastTurn); err != nil {
			return err
		}
		for _, hp := range snap.History[name] {
			if _, err := tx.Exec(ctx, `
                INSERT INTO rating_history(model_id, turn, rating)
                VALUES ($1,$2,$3)
                ON CONFLICT (model_id, turn) DO NOTHING
            `, id, hp.Turn, hp.Rating); err != nil {
				return err
			}
		}
	}

	for _, mo := range snap.Matches {
		if _, err := tx.Exec(ctx, `
            INSERT INTO pair_updates(
                turn, model_a, model_b, score_a,
                rating_a_before, rating_b_before, rating_a_after, rating_b_after
            ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
            ON CONFLICT (turn, model_a, model_b) DO NOTHING
        `, mo.Turn, mo.ModelA, mo.ModelB, mo.ScoreA,
			mo.RatingABefore, mo.RatingBBefore, mo.RatingAAfter, mo.RatingBAfter); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func upsertModelTx(ctx context.Context, tx pgx.Tx, name, apiName string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
        INSERT INTO models(name, api_name)
        VALUES ($1,$2)
        ON CONFLICT (name) DO UPDATE
          SET api_name = CASE WHEN EXCLUDED.api_name <> '' THEN EXCLUDED.api_name ELSE models.api_name END
        RETURNING id
    `, name, apiName).Scan(&id)
	return id, err
}

// UpsertModel registers a model ahead of a tournament so its api_name
// is on record.
func (db *DB) UpsertModel(ctx context.Context, name, apiName string) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, `
        INSERT INTO models(name, api_name)
        VALUES ($1,$2)
        ON CONFLICT (name) DO UPDATE SET api_name = EXCLUDED.api_name
        RETURNING id
    `, name, apiName).Scan(&id)
	return id, err
}

/* -----------------------------
   tournament / round logging
------------------------------*/

func (db *DB) CreateTournament(ctx context.Context, numActions, numTurns, agentsPerModel int) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, `
        INSERT INTO tournaments(num_actions, num_turns, agents_per_model)
        VALUES ($1,$2,$3)
        RETURNING id
    `, numActions, numTurns, agentsPerModel).Scan(&id)
	return id, err
}

func (db *DB) CompleteTournament(ctx context.Context, id int64) error {
	_, err := db.Exec(ctx, `UPDATE tournaments SET ended_at = now() WHERE id = $1`, id)
	return err
}

// InsertRound records one sealed round for live viewers and auditing.
func (db *DB) InsertRound(ctx context.Context, tournamentID int64, r *engine.Round, deltas map[engine.AgentID]float64) error {
	bets, err := json.Marshal(r.Bets)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return err
	}
	dj, err := json.Marshal(deltas)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
        INSERT INTO rounds(tournament_id, turn, bets, actions, deltas)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (tournament_id, turn) DO NOTHING
    `, tournamentID, r.Turn, bets, actions, dj)
	return err
}

// TournamentRow is a reporting view over the tournaments table.
type TournamentRow struct {
	ID             int64   `json:"id"`
	NumActions     int     `json:"num_actions"`
	NumTurns       int     `json:"num_turns"`
	AgentsPerModel int     `json:"agents_per_model"`
	StartedAt      string  `json:"started_at"`
	EndedAt        *string `json:"ended_at"`
}

func (db *DB) RecentTournaments(ctx context.Context, limit int) ([]TournamentRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
        SELECT id, num_actions, num_turns, agents_per_model,
               started_at::text, ended_at::text
          FROM tournaments
         ORDER BY id DESC
         LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TournamentRow{}
	for rows.Next() {
		var t TournamentRow
		if err := rows.Scan(&t.ID, &t.NumActions, &t.NumTurns, &t.AgentsPerModel, &t.StartedAt, &t.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

var _ rating.Store = (*DB)(nil)
