package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 0.08, cfg.Linker.Margin)
	assert.Greater(t, cfg.Memory.DecayHalfLife.Hours(), 0.0)
	assert.True(t, cfg.Logging.Scrubbed)

	require.NoError(t, Validate(cfg))
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "sk-very-secret"
	cfg.Completion.APIKey = "sk-ant-very-secret"

	s := cfg.String()
	assert.NotContains(t, s, "sk-very-secret")
	assert.NotContains(t, s, "sk-ant-very-secret")
	assert.Contains(t, s, "***")
}
