package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main memori configuration
type Config struct {
	// Data directory (memory DB, redaction vault, explain traces)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Path to the external business database (read-only)
	DomainDBPath string `json:"domain_db_path" mapstructure:"domain_db_path"`

	Logging       LoggingConfig       `json:"logging" mapstructure:"logging"`
	Embedding     EmbeddingConfig     `json:"embedding" mapstructure:"embedding"`
	Completion    CompletionConfig    `json:"completion" mapstructure:"completion"`
	Redaction     RedactionConfig     `json:"redaction" mapstructure:"redaction"`
	Linker        LinkerConfig        `json:"linker" mapstructure:"linker"`
	Memory        MemoryConfig        `json:"memory" mapstructure:"memory"`
	Retrieval     RetrievalConfig     `json:"retrieval" mapstructure:"retrieval"`
	Facts         FactsConfig         `json:"facts" mapstructure:"facts"`
	Consolidation ConsolidationConfig `json:"consolidation" mapstructure:"consolidation"`
	Assembler     AssemblerConfig     `json:"assembler" mapstructure:"assembler"`
	Gateway       GatewayConfig       `json:"gateway" mapstructure:"gateway"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	Scrubbed bool   `json:"scrubbed" mapstructure:"scrubbed"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider  string        `json:"provider" mapstructure:"provider"` // openai, mock
	APIKey    string        `json:"api_key" mapstructure:"api_key"`
	Model     string        `json:"model" mapstructure:"model"`
	BaseURL   string        `json:"base_url,omitempty" mapstructure:"base_url"` // empty uses the provider default
	Dimension int           `json:"dimension" mapstructure:"dimension"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// CompletionConfig holds completion provider configuration
type CompletionConfig struct {
	Provider  string        `json:"provider" mapstructure:"provider"` // anthropic, openai, mock
	APIKey    string        `json:"api_key" mapstructure:"api_key"`
	Model     string        `json:"model" mapstructure:"model"`
	MaxTokens int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// RedactionConfig holds PII redaction configuration.
// Patterns extend the built-in phone/email table.
type RedactionConfig struct {
	Patterns []PatternConfig `json:"patterns" mapstructure:"patterns"`
}

// PatternConfig is one named PII pattern
type PatternConfig struct {
	Name    string `json:"name" mapstructure:"name"`
	Pattern string `json:"pattern" mapstructure:"pattern"`
}

// LinkerConfig holds entity-linking thresholds
type LinkerConfig struct {
	// Margin between top-1 and top-2 below which a clarification is asked
	Margin float64 `json:"margin" mapstructure:"margin"`
	// Floor below which a mention stays unresolved
	ConfidenceFloor float64 `json:"confidence_floor" mapstructure:"confidence_floor"`
	MaxCandidates   int     `json:"max_candidates" mapstructure:"max_candidates"`
}

// MemoryConfig holds memory store tuning
type MemoryConfig struct {
	// Exponential half-life of unreinforced importance
	DecayHalfLife time.Duration `json:"decay_half_life" mapstructure:"decay_half_life"`
	// Importance never decays below this
	DecayFloor float64 `json:"decay_floor" mapstructure:"decay_floor"`
	// Saturating reinforcement step toward 1.0
	ReinforcementGain float64 `json:"reinforcement_gain" mapstructure:"reinforcement_gain"`
	// Default TTL for episodic units, 0 disables expiry
	EpisodicTTL time.Duration `json:"episodic_ttl" mapstructure:"episodic_ttl"`
}

// RetrievalConfig holds hybrid retrieval weights and limits
type RetrievalConfig struct {
	Limit               int           `json:"limit" mapstructure:"limit"`
	SimilarityWeight    float64       `json:"similarity_weight" mapstructure:"similarity_weight"`
	ImportanceWeight    float64       `json:"importance_weight" mapstructure:"importance_weight"`
	RecencyWeight       float64       `json:"recency_weight" mapstructure:"recency_weight"`
	ReinforcementWeight float64       `json:"reinforcement_weight" mapstructure:"reinforcement_weight"`
	MinScore            float64       `json:"min_score" mapstructure:"min_score"`
	RecencyWindow       time.Duration `json:"recency_window" mapstructure:"recency_window"`
}

// FactsConfig holds domain fact gateway configuration
type FactsConfig struct {
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	LatestOrders int           `json:"latest_orders" mapstructure:"latest_orders"`
}

// ConsolidationConfig holds consolidation configuration
type ConsolidationConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	WindowSessions int    `json:"window_sessions" mapstructure:"window_sessions"`
	Schedule       string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// AssemblerConfig holds context assembly limits
type AssemblerConfig struct {
	// Max evidence items kept in a context block
	EvidenceBudget int `json:"evidence_budget" mapstructure:"evidence_budget"`
}

// GatewayConfig holds the inspection gateway server configuration
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "",
		Logging: LoggingConfig{
			Level:    "info",
			Scrubbed: true,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			Timeout:   15 * time.Second,
		},
		Completion: CompletionConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
			Timeout:   60 * time.Second,
		},
		Linker: LinkerConfig{
			Margin:          0.08,
			ConfidenceFloor: 0.55,
			MaxCandidates:   5,
		},
		Memory: MemoryConfig{
			DecayHalfLife:     720 * time.Hour,
			DecayFloor:        0.05,
			ReinforcementGain: 0.15,
			EpisodicTTL:       90 * 24 * time.Hour,
		},
		Retrieval: RetrievalConfig{
			Limit:               12,
			SimilarityWeight:    0.5,
			ImportanceWeight:    0.25,
			RecencyWeight:       0.15,
			ReinforcementWeight: 0.1,
			MinScore:            0.05,
			RecencyWindow:       0, // no window by default
		},
		Facts: FactsConfig{
			Timeout:      3 * time.Second,
			LatestOrders: 5,
		},
		Consolidation: ConsolidationConfig{
			Enabled:        true,
			WindowSessions: 3,
			Schedule:       "0 3 * * *",
		},
		Assembler: AssemblerConfig{
			EvidenceBudget: 16,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8466,
		},
	}
}

// String returns a JSON representation with secrets masked
func (c *Config) String() string {
	clone := *c
	if clone.Embedding.APIKey != "" {
		clone.Embedding.APIKey = "***"
	}
	if clone.Completion.APIKey != "" {
		clone.Completion.APIKey = "***"
	}
	data, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
