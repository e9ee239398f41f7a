package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/model"
)

func testVerifyConfig() config.VerifyConfig {
	return config.VerifyConfig{QuarantineFloor: 0.25}
}

func spotWith(status model.VerificationStatus, confidence float64) *model.MergedSpot {
	return &model.MergedSpot{ID: "spot-1", Status: status, Confidence: confidence}
}

func TestEvaluate_UnverifiedBelowFloorIsQuarantined(t *testing.T) {
	m := New(testVerifyConfig())
	s := spotWith(model.StatusUnverified, 0.1)

	changed, reason := m.Evaluate(s)
	assert.True(t, changed)
	assert.NotEmpty(t, reason)
	assert.Equal(t, model.StatusQuarantined, s.Status)
}

func TestEvaluate_UnverifiedAtFloorStays(t *testing.T) {
	m := New(testVerifyConfig())
	s := spotWith(model.StatusUnverified, 0.25)

	changed, _ := m.Evaluate(s)
	assert.False(t, changed)
	assert.Equal(t, model.StatusUnverified, s.Status)
}

func TestEvaluate_NeverPromotesAutomatically(t *testing.T) {
	m := New(testVerifyConfig())
	s := spotWith(model.StatusUnverified, 0.99)

	changed, _ := m.Evaluate(s)
	assert.False(t, changed)
	assert.Equal(t, model.StatusUnverified, s.Status)
}

func TestEvaluate_VerifiedKeptByDefault(t *testing.T) {
	m := New(testVerifyConfig())
	s := spotWith(model.StatusVerified, 0.1)

	changed, _ := m.Evaluate(s)
	assert.False(t, changed)
	assert.Equal(t, model.StatusVerified, s.Status)
}

func TestEvaluate_VerifiedDemotedWhenPolicyEnabled(t *testing.T) {
	cfg := testVerifyConfig()
	cfg.AutoDemoteVerified = true
	m := New(cfg)
	s := spotWith(model.StatusVerified, 0.1)

	changed, reason := m.Evaluate(s)
	assert.True(t, changed)
	assert.NotEmpty(t, reason)
	assert.Equal(t, model.StatusQuarantined, s.Status)
}

func TestEvaluate_QuarantinedStaysQuarantined(t *testing.T) {
	m := New(testVerifyConfig())
	s := spotWith(model.StatusQuarantined, 0.99)

	changed, _ := m.Evaluate(s)
	assert.False(t, changed)
	assert.Equal(t, model.StatusQuarantined, s.Status)
}

func TestPromote(t *testing.T) {
	m := New(testVerifyConfig())

	s := spotWith(model.StatusQuarantined, 0.1)
	require.NoError(t, m.Promote(s))
	assert.Equal(t, model.StatusVerified, s.Status)

	assert.Error(t, m.Promote(s), "double promotion is rejected")
}

func TestQuarantine(t *testing.T) {
	m := New(testVerifyConfig())

	s := spotWith(model.StatusVerified, 0.9)
	require.NoError(t, m.Quarantine(s, "reported as destroyed"))
	assert.Equal(t, model.StatusQuarantined, s.Status)

	assert.Error(t, m.Quarantine(s, "again"), "double quarantine is rejected")
}
