package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mindmeld-arena/server/engine"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, 16, cfg.NumActions)
	require.Equal(t, 4, cfg.NumTurns)
	require.Equal(t, 4, cfg.AgentsPerModel)
	require.Equal(t, 1000.0, cfg.InitialRating)
	require.Equal(t, 32.0, cfg.KFactor)
	require.Equal(t, 400.0, cfg.ScaleFactor)
	require.False(t, cfg.IncludeSelfInBetBonus)
	require.Equal(t, 8, cfg.MaxConcurrency)
	require.Equal(t, 60, cfg.AgentTimeoutSeconds)
	require.Equal(t, "data/ratings", cfg.RatingsDir)
	require.Equal(t, "8080", cfg.Port)
}

func TestLoadConfigOverridesAndValidation(t *testing.T) {
	t.Setenv("NUM_ACTIONS", "32")
	t.Setenv("NUM_TURNS", "10")
	t.Setenv("INCLUDE_SELF_IN_BET_BONUS", "true")
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, 32, cfg.NumActions)
	require.Equal(t, 10, cfg.NumTurns)
	require.True(t, cfg.IncludeSelfInBetBonus)

	t.Setenv("NUM_ACTIONS", "1")
	_, err = loadConfig()
	require.Error(t, err)

	t.Setenv("NUM_ACTIONS", "16")
	t.Setenv("K_FACTOR", "0")
	_, err = loadConfig()
	require.Error(t, err)
}

func TestParseModels(t *testing.T) {
	groups, err := parseModels("gpt4=openai/gpt-4o, claude=openrouter/anthropic/claude-3.5-sonnet", 2)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "gpt4", groups[0].Name)
	require.Equal(t, "openai/gpt-4o", groups[0].APIName)
	require.Equal(t, []engine.AgentID{"gpt4#0", "gpt4#1"}, groups[0].Agents)
	require.Equal(t, "openrouter/anthropic/claude-3.5-sonnet", groups[1].APIName)
}

func TestParseModelsBareName(t *testing.T) {
	groups, err := parseModels("gpt-4o-mini", 3)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "gpt-4o-mini", groups[0].Name)
	require.Equal(t, "gpt-4o-mini", groups[0].APIName)
	require.Len(t, groups[0].Agents, 3)
}

func TestParseModelsRejectsBadInput(t *testing.T) {
	_, err := parseModels("", 2)
	require.Error(t, err)
	_, err = parseModels("a=x,a=y", 2)
	require.Error(t, err)
	_, err = parseModels("=api", 2)
	require.Error(t, err)
}
