package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"mindmeld-arena/server/engine"
)

// Config is the full env surface of a tournament run.
type Config struct {
	NumActions            int     `env:"NUM_ACTIONS" envDefault:"16"`
	NumTurns              int     `env:"NUM_TURNS" envDefault:"4"`
	AgentsPerModel        int     `env:"AGENTS_PER_MODEL" envDefault:"4"`
	Models                string  `env:"MODELS"`
	InitialRating         float64 `env:"INITIAL_RATING" envDefault:"1000"`
	KFactor               float64 `env:"K_FACTOR" envDefault:"32"`
	ScaleFactor           float64 `env:"SCALE_FACTOR" envDefault:"400"`
	IncludeSelfInBetBonus bool    `env:"INCLUDE_SELF_IN_BET_BONUS" envDefault:"false"`
	MaxConcurrency        int     `env:"MAX_CONCURRENCY" envDefault:"8"`
	AgentTimeoutSeconds   int     `env:"AGENT_TIMEOUT_SECONDS" envDefault:"60"`
	RatingsDir            string  `env:"RATINGS_DIR" envDefault:"data/ratings"`
	RatingsFile           string  `env:"RATINGS_FILE" envDefault:"ratings.json"`
	DatabaseURL           string  `env:"DATABASE_URL"`
	AutoMigrate           bool    `env:"AUTO_MIGRATE"`
	Port                  string  `env:"PORT" envDefault:"8080"`
}

func loadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.NumActions < 2 {
		return fmt.Errorf("NUM_ACTIONS must be at least 2, got %d", c.NumActions)
	}
	if c.NumTurns < 1 {
		return fmt.Errorf("NUM_TURNS must be at least 1, got %d", c.NumTurns)
	}
	if c.AgentsPerModel < 1 {
		return fmt.Errorf("AGENTS_PER_MODEL must be at least 1, got %d", c.AgentsPerModel)
	}
	if c.KFactor <= 0 || c.ScaleFactor <= 0 {
		return fmt.Errorf("K_FACTOR and SCALE_FACTOR must be positive")
	}
	return nil
}

// parseModels turns "gpt4=openai/gpt-4o,claude=openrouter/anthropic/claude-3.5-sonnet"
// into model groups with AGENTS_PER_MODEL agents each. A bare name with
// no "=" uses the name itself as the API model identifier.
func parseModels(spec string, agentsPerModel int) ([]engine.ModelGroup, error) {
	parts := strings.Split(spec, ",")
	groups := make([]engine.ModelGroup, 0, len(parts))
	seen := map[string]bool{}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, apiName := part, part
		if i := strings.Index(part, "="); i >= 0 {
			name = strings.TrimSpace(part[:i])
			apiName = strings.TrimSpace(part[i+1:])
		}
		if name == "" || apiName == "" {
			return nil, fmt.Errorf("bad MODELS entry %q (want name=api_name)", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate model name %q in MODELS", name)
		}
		seen[name] = true
		gr := engine.ModelGroup{Name: name, APIName: apiName}
		for i := 0; i < agentsPerModel; i++ {
			gr.Agents = append(gr.Agents, engine.AgentID(fmt.Sprintf("%s#%d", name, i)))
		}
		groups = append(groups, gr)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("MODELS is empty; provide at least one model (name=api_name, comma separated)")
	}
	return groups, nil
}
