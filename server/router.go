package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mindmeld-arena/server/rating"
	"mindmeld-arena/server/store"
)

// Router exposes a read-only reporting API over the rating state and,
// when a database is attached, the recorded tournaments.
func Router(mgr *rating.Manager, db *store.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	r.Get("/api/ratings", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"ratings":   mgr.CurrentRatings(),
			"glicko":    mgr.GlickoStates(),
			"last_turn": mgr.LastTurn(),
		})
	})

	r.Get("/api/rankings", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"rows": mgr.Rankings()})
	})

	r.Get("/api/ratings/history/{model}", func(w http.ResponseWriter, req *http.Request) {
		model := chi.URLParam(req, "model")
		hist := mgr.History(model)
		if hist == nil {
			http.Error(w, "unknown model", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"model": model, "history": hist})
	})

	r.Get("/api/matches", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"rows": mgr.Matches()})
	})

	// Pairwise win probabilities from current Elo, in ranking order.
	r.Get("/api/matrix", func(w http.ResponseWriter, req *http.Request) {
		names, matrix := mgr.WinProbabilityMatrix()
		writeJSON(w, map[string]any{"models": names, "matrix": matrix})
	})

	if db != nil {
		r.Get("/api/tournaments", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			rows, err := db.RecentTournaments(req.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]any{"rows": rows})
		})
	}

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
