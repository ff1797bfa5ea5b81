package config

import (
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"
)

// Validate checks a configuration for values the engine cannot run with
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch cfg.Embedding.Provider {
	case "openai", "mock":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", cfg.Embedding.Dimension)
	}

	switch cfg.Completion.Provider {
	case "anthropic", "openai", "mock":
	default:
		return fmt.Errorf("unsupported completion provider: %s", cfg.Completion.Provider)
	}

	if cfg.Linker.Margin < 0 || cfg.Linker.Margin >= 1 {
		return fmt.Errorf("linker margin must be in [0,1), got %v", cfg.Linker.Margin)
	}
	if cfg.Linker.ConfidenceFloor <= 0 || cfg.Linker.ConfidenceFloor > 1 {
		return fmt.Errorf("linker confidence floor must be in (0,1], got %v", cfg.Linker.ConfidenceFloor)
	}

	if cfg.Memory.DecayHalfLife <= 0 {
		return fmt.Errorf("decay half-life must be positive, got %v", cfg.Memory.DecayHalfLife)
	}
	if cfg.Memory.DecayFloor < 0 || cfg.Memory.DecayFloor >= 1 {
		return fmt.Errorf("decay floor must be in [0,1), got %v", cfg.Memory.DecayFloor)
	}
	if cfg.Memory.ReinforcementGain <= 0 || cfg.Memory.ReinforcementGain > 1 {
		return fmt.Errorf("reinforcement gain must be in (0,1], got %v", cfg.Memory.ReinforcementGain)
	}

	weightSum := cfg.Retrieval.SimilarityWeight + cfg.Retrieval.ImportanceWeight +
		cfg.Retrieval.RecencyWeight + cfg.Retrieval.ReinforcementWeight
	if weightSum <= 0 {
		return fmt.Errorf("retrieval weights must sum to a positive value")
	}
	if cfg.Retrieval.Limit <= 0 {
		return fmt.Errorf("retrieval limit must be positive, got %d", cfg.Retrieval.Limit)
	}

	if cfg.Facts.Timeout <= 0 {
		return fmt.Errorf("facts timeout must be positive, got %v", cfg.Facts.Timeout)
	}
	if cfg.Facts.LatestOrders <= 0 {
		return fmt.Errorf("facts latest_orders must be positive, got %d", cfg.Facts.LatestOrders)
	}

	if cfg.Assembler.EvidenceBudget <= 0 {
		return fmt.Errorf("assembler evidence budget must be positive, got %d", cfg.Assembler.EvidenceBudget)
	}

	if cfg.Consolidation.Enabled {
		if cfg.Consolidation.WindowSessions <= 0 {
			return fmt.Errorf("consolidation window must be positive, got %d", cfg.Consolidation.WindowSessions)
		}
		if cfg.Consolidation.Schedule != "" {
			parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
			if _, err := parser.Parse(cfg.Consolidation.Schedule); err != nil {
				return fmt.Errorf("invalid consolidation schedule: %w", err)
			}
		}
	}

	// Redaction patterns fail closed: a broken pattern is a config error,
	// never a guard that silently stops matching.
	for _, p := range cfg.Redaction.Patterns {
		if p.Name == "" {
			return fmt.Errorf("redaction pattern missing name")
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("invalid redaction pattern %q: %w", p.Name, err)
		}
	}

	if cfg.Gateway.Enabled {
		if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
			return fmt.Errorf("gateway port must be in (0,65535], got %d", cfg.Gateway.Port)
		}
	}

	return nil
}
