package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad embedding provider",
			mutate:  func(c *Config) { c.Embedding.Provider = "cohere" },
			wantErr: "unsupported embedding provider",
		},
		{
			name:    "zero dimension",
			mutate:  func(c *Config) { c.Embedding.Dimension = 0 },
			wantErr: "embedding dimension",
		},
		{
			name:    "margin out of range",
			mutate:  func(c *Config) { c.Linker.Margin = 1.2 },
			wantErr: "linker margin",
		},
		{
			name:    "negative half-life",
			mutate:  func(c *Config) { c.Memory.DecayHalfLife = -1 },
			wantErr: "decay half-life",
		},
		{
			name: "zero retrieval weights",
			mutate: func(c *Config) {
				c.Retrieval.SimilarityWeight = 0
				c.Retrieval.ImportanceWeight = 0
				c.Retrieval.RecencyWeight = 0
				c.Retrieval.ReinforcementWeight = 0
			},
			wantErr: "retrieval weights",
		},
		{
			name:    "broken cron schedule",
			mutate:  func(c *Config) { c.Consolidation.Schedule = "not a schedule" },
			wantErr: "invalid consolidation schedule",
		},
		{
			name: "broken redaction pattern fails closed",
			mutate: func(c *Config) {
				c.Redaction.Patterns = []PatternConfig{{Name: "custom", Pattern: "[oops"}}
			},
			wantErr: "invalid redaction pattern",
		},
		{
			name: "gateway port out of range",
			mutate: func(c *Config) {
				c.Gateway.Enabled = true
				c.Gateway.Port = 99999
			},
			wantErr: "gateway port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
