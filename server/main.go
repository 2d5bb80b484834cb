package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"mindmeld-arena/server/agent"
	"mindmeld-arena/server/engine"
	"mindmeld-arena/server/llm"
	"mindmeld-arena/server/rating"
	"mindmeld-arena/server/store"
)

//
// ===== pretty printing =====
//

var useColor bool
var debugState bool

const (
	colReset  = "\033[0m"
	colBold   = "\033[1m"
	colDim    = "\033[2m"
	colGreen  = "\033[32m"
	colRed    = "\033[31m"
	colYellow = "\033[33m"
	colCyan   = "\033[36m"
)

func c(code, s string) string {
	if !useColor {
		return s
	}
	return code + s + colReset
}
func bold(s string) string { return c(colBold, s) }
func dim(s string) string  { return c(colDim, s) }
func good(s string) string { return c(colGreen, s) }
func warn(s string) string { return c(colYellow, s) }
func bad(s string) string  { return c(colRed, s) }
func cyan(s string) string { return c(colCyan, s) }

func modelShort(m string) string {
	m = strings.TrimSpace(m)
	if len(m) <= 28 {
		return m
	}
	return m[:28]
}
func section(title string) { fmt.Printf("\n%s %s %s\n", dim("──"), bold(title), dim("──")) }

//
// ===== bootstrap =====
//

func mustAnyEnv(keys ...string) {
	for _, k := range keys {
		if os.Getenv(k) != "" {
			return
		}
	}
	log.Fatalf("Missing API key: set one of %s in .env (dev) or on the host (prod).", strings.Join(keys, ", "))
}

func asBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

var stopFlag atomic.Bool

func watchSignals(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	<-ch
	stopFlag.Store(true)
	cancel()
}

//
// ===== LLM-backed agents =====
//

// llmCaller adapts one chat model into the engine's caller contract.
// All agents of a group share the model but keep separate histories.
type llmCaller struct {
	id    engine.AgentID
	model string
}

func (lc *llmCaller) ChooseBet(ctx context.Context, bc engine.BetContext) (int, error) {
	return lc.choose(ctx, bc.NumActions, agent.BuildBetObservation(bc))
}

func (lc *llmCaller) ChooseAction(ctx context.Context, ac engine.ActionContext) (int, error) {
	return lc.choose(ctx, ac.NumActions, agent.BuildActionObservation(ac))
}

func (lc *llmCaller) choose(ctx context.Context, numActions int, obs agent.Observation) (int, error) {
	n, raw, err := llm.PingChooseNumber(ctx, lc.model, agent.System, agent.UserPrompt(obs), numActions, llm.PingOptions{})
	if debugState && raw != "" {
		log.Printf("agent %s raw: %s", lc.id, raw)
	}
	if err != nil {
		return 0, err
	}
	if err := agent.Validate(n, numActions); err != nil {
		return 0, err
	}
	return n, nil
}

//
// ===== round recording =====
//

// consolePrinter narrates each sealed round to stdout.
type consolePrinter struct{}

func (cp *consolePrinter) RecordRound(r *engine.Round, deltas map[engine.AgentID]float64) {
	section(fmt.Sprintf("Turn %d", r.Turn+1))
	ids := make([]engine.AgentID, 0, len(r.Bets))
	for id := range r.Bets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Printf("  %-24s bet=%-3d action=%-3d %s\n",
			cyan(string(id)), r.Bets[id], r.Actions[id], good(fmt.Sprintf("+%.1f", deltas[id])))
	}
}

// dbRecorder mirrors each sealed round into the rounds table.
type dbRecorder struct {
	db           *store.DB
	tournamentID int64
}

func (dr *dbRecorder) RecordRound(r *engine.Round, deltas map[engine.AgentID]float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dr.db.InsertRound(ctx, dr.tournamentID, r, deltas); err != nil {
		log.Printf("round insert failed (turn %d): %v", r.Turn, err)
	}
}

type multiRecorder []engine.RoundRecorder

func (mr multiRecorder) RecordRound(r *engine.Round, deltas map[engine.AgentID]float64) {
	for _, rec := range mr {
		rec.RecordRound(r, deltas)
	}
}

//
// ===== entry =====
//

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	useColor = (os.Getenv("NO_COLOR") == "") && (strings.TrimSpace(os.Getenv("USE_COLOR")) != "0")
	debugState = asBool(os.Getenv("DEBUG"))

	var migrate, serve bool
	for _, a := range os.Args[1:] {
		switch a {
		case "--migrate":
			migrate = true
		case "--serve":
			serve = true
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)

	var db *store.DB
	if cfg.DatabaseURL != "" {
		db, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			if migrate || serve {
				log.Fatal(err)
			}
			log.Printf("DB disabled (open failed): %v", err)
			db = nil
		} else {
			defer db.Close(context.Background())
			if cfg.AutoMigrate || migrate {
				if err := store.Migrate(context.Background(), db); err != nil {
					log.Fatal(err)
				}
				log.Println("migrated")
			}
		}
	}

	if migrate {
		if db == nil {
			log.Fatal("--migrate requires DATABASE_URL")
		}
		return
	}

	if serve {
		if db == nil {
			log.Fatal("--serve requires DATABASE_URL")
		}
		mgr, err := newRatingManager(ctx, cfg, nil, db)
		if err != nil {
			log.Fatal(err)
		}
		srv := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      Router(mgr, db),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		log.Printf("listening on http://localhost:%s (Ctrl+C to stop)", cfg.Port)
		log.Fatal(srv.ListenAndServe())
	}

	mustAnyEnv("OPENAI_API_KEY", "OPENROUTER_API_KEY")
	runTournament(ctx, cfg, db)
}

func newRatingManager(ctx context.Context, cfg Config, groups []engine.ModelGroup, db *store.DB) (*rating.Manager, error) {
	eloCfg := rating.EloConfig{
		InitialRating: cfg.InitialRating,
		KFactor:       cfg.KFactor,
		ScaleFactor:   cfg.ScaleFactor,
	}
	var st rating.Store
	if db != nil {
		st = db
	} else {
		st = store.NewFileStore(cfg.RatingsDir, cfg.RatingsFile)
	}
	return rating.NewManager(ctx, eloCfg, groups, st)
}

func runTournament(ctx context.Context, cfg Config, db *store.DB) {
	groups, err := parseModels(cfg.Models, cfg.AgentsPerModel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	players := make([]*engine.Player, 0, len(groups)*cfg.AgentsPerModel)
	for _, gr := range groups {
		for _, id := range gr.Agents {
			players = append(players, engine.NewPlayer(id, gr.Name, &llmCaller{id: id, model: gr.APIName}))
		}
	}

	mgr, err := newRatingManager(ctx, cfg, groups, db)
	if err != nil {
		log.Fatalf("ratings: %v", err)
	}

	game, err := engine.NewGame(engine.Config{
		NumActions:            cfg.NumActions,
		NumTurns:              cfg.NumTurns,
		MaxConcurrency:        cfg.MaxConcurrency,
		AgentTimeout:          time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
		IncludeSelfInBetBonus: cfg.IncludeSelfInBetBonus,
	}, groups, players, mgr)
	if err != nil {
		log.Fatalf("game: %v", err)
	}

	recorders := multiRecorder{&consolePrinter{}}
	var tournamentID int64
	if db != nil {
		tournamentID, err = db.CreateTournament(context.Background(), cfg.NumActions, cfg.NumTurns, cfg.AgentsPerModel)
		if err != nil {
			log.Printf("tournament row skipped: %v", err)
		} else {
			recorders = append(recorders, &dbRecorder{db: db, tournamentID: tournamentID})
			for _, gr := range groups {
				if _, err := db.UpsertModel(context.Background(), gr.Name, gr.APIName); err != nil {
					log.Printf("model upsert failed for %s: %v", gr.Name, err)
				}
			}
		}
	}
	game.SetRecorder(recorders)

	section("ARENA START")
	fmt.Printf("%s %d models × %d agents | %d turns | choices [0,%d)\n",
		bold("Field:"), len(groups), cfg.AgentsPerModel, cfg.NumTurns, cfg.NumActions)
	for _, gr := range groups {
		fmt.Printf("  %-16s %s\n", cyan(gr.Name), dim(modelShort(gr.APIName)))
	}

	// Resume turn numbering past what the rating store has recorded,
	// so a rerun against an existing store keeps moving the ratings.
	if err := game.Play(ctx, mgr.LastTurn()+1); err != nil {
		if errors.Is(err, context.Canceled) || stopFlag.Load() {
			fmt.Println(warn("\n** Stop requested; tournament ended early. Completed turns are scored and saved. **"))
		} else {
			log.Printf("tournament aborted: %v", err)
		}
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := mgr.Save(saveCtx); err != nil {
		log.Printf("final rating save failed: %v", err)
	}
	if db != nil && tournamentID != 0 {
		if err := db.CompleteTournament(saveCtx, tournamentID); err != nil {
			log.Printf("tournament close failed: %v", err)
		}
	}

	printFinalResults(game, mgr)
}

func printFinalResults(game *engine.Game, mgr *rating.Manager) {
	section("FINAL RESULTS")

	scores := game.Scores()
	summary := summarize(game.Groups(), scores, game.RoundDeltas(), game.Rounds())

	fmt.Println(bold("Agent scores"))
	for _, ms := range summary {
		fmt.Printf("  %s\n", cyan(ms.Name))
		for _, id := range ms.AgentIDs {
			fmt.Printf("    %-24s %8.1f\n", string(id), scores[id])
		}
	}

	fmt.Println()
	fmt.Println(bold("Model summary"))
	fmt.Printf("  %-16s %10s %10s %22s %18s\n", "model", "total", "mean", "mean Δ/turn [95% CI]", "coord rate [95% CI]")
	for _, ms := range summary {
		lo, hi := BootstrapCI95(ms.TurnAverages, 2000)
		wlo, whi := WilsonCI95(ms.Coordinated, ms.Decisions)
		fmt.Printf("  %-16s %10.1f %10.2f %8.2f [%5.2f,%5.2f] %6.0f%% [%2.0f,%2.0f]\n",
			ms.Name, ms.Total, ms.Mean(), mean(ms.TurnAverages), lo, hi,
			100*ms.CoordRate(), 100*wlo, 100*whi)
	}

	fmt.Println()
	fmt.Println(bold("Rankings"))
	glicko := mgr.GlickoStates()
	for _, rk := range mgr.Rankings() {
		g := glicko[rk.Model]
		fmt.Printf("  %2d. %-16s elo %s  %s\n",
			rk.Rank, rk.Model, good(fmt.Sprintf("%7.1f", rk.Rating)),
			dim(fmt.Sprintf("glicko2 %.0f ±%.0f", g.Rating, 2*g.RD)))
	}

	names, matrix := mgr.WinProbabilityMatrix()
	if len(names) > 1 {
		fmt.Println()
		fmt.Println(bold("Win probability (row beats column)"))
		fmt.Printf("  %-16s", "")
		for _, n := range names {
			fmt.Printf(" %8s", modelShort(n)[:min(8, len(n))])
		}
		fmt.Println()
		for i, n := range names {
			fmt.Printf("  %-16s", modelShort(n))
			for j := range names {
				cell := fmt.Sprintf(" %7.1f%%", 100*matrix[i][j])
				if i == j {
					cell = dim(cell)
				}
				fmt.Print(cell)
			}
			fmt.Println()
		}
	}
}
