package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorerConfig_Validate(t *testing.T) {
	ok := ScorerConfig{PriorWeight: 0.5, PrecisionWeight: 0.3, CompletenessWeight: 0.2}
	require.NoError(t, ok.Validate())

	bad := ScorerConfig{PriorWeight: 0.5, PrecisionWeight: 0.5, CompletenessWeight: 0.2}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1")

	negative := ScorerConfig{PriorWeight: 1.5, PrecisionWeight: -0.7, CompletenessWeight: 0.2}
	require.Error(t, negative.Validate())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.Error(t, InitLogger(LogConfig{Level: "shouting"}))
}
