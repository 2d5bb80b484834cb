package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mindmeld-arena/server/rating"
)

func TestFileStoreLoadMissingFile(t *testing.T) {
	fs := NewFileStore(t.TempDir(), "ratings.json")
	snap, err := fs.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := NewFileStore(t.TempDir(), "ratings.json")
	in := &rating.Snapshot{
		Config:   rating.DefaultEloConfig(),
		LastTurn: 3,
		Ratings:  map[string]float64{"alpha": 1016.5, "beta": 983.5},
		Glicko: map[string]rating.GlickoState{
			"alpha": {Rating: 1520.2, RD: 290.1, Volatility: 0.06, Periods: 4},
		},
		History: map[string][]rating.HistoryPoint{
			"alpha": {{Turn: 0, Rating: 1008}, {Turn: 3, Rating: 1016.5}},
		},
		Matches: []rating.MatchOutcome{
			{Turn: 0, ModelA: "alpha", ModelB: "beta", ScoreA: 0.75,
				RatingABefore: 1000, RatingBBefore: 1000, RatingAAfter: 1008, RatingBAfter: 992},
		},
	}
	require.NoError(t, fs.Save(context.Background(), in))

	out, err := fs.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, in, out)

	// No temp file left behind.
	_, err = os.Stat(fs.Path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "ratings")
	fs := NewFileStore(dir, "ratings.json")
	require.NoError(t, fs.Save(context.Background(), &rating.Snapshot{
		Config:   rating.DefaultEloConfig(),
		LastTurn: -1,
		Ratings:  map[string]float64{},
	}))
	_, err := os.Stat(fs.Path)
	require.NoError(t, err)
}

func TestFileStoreLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir, "ratings.json")
	require.NoError(t, os.WriteFile(fs.Path, []byte("not json"), 0o644))
	_, err := fs.Load(context.Background())
	require.Error(t, err)
}
