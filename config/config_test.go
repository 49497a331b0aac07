package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTuningDefaults(t *testing.T) {
	tuning, err := LoadTuning("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), tuning)
	assert.NoError(t, tuning.Validate())
}

func TestLoadTuningOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
failure_timeout: 45m
delay_multiplier: 10
unmatched_policy: ignore
`), 0o600))

	tuning, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, tuning.FailureTimeout)
	assert.Equal(t, 10.0, tuning.DelayMultiplier)
	assert.Equal(t, UnmatchedIgnore, tuning.UnmatchedPolicy)
	assert.Equal(t, 3, tuning.RepeatThreshold, "untouched keys keep defaults")
}

func TestLoadTuningRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unmatched_policy: guess\n"), 0o600))

	_, err := LoadTuning(path)
	assert.ErrorContains(t, err, "unmatched_policy")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FAILURE_TIMEOUT_MINUTES", "5")
	t.Setenv("TUNING_FILE", "")
	t.Setenv("GIN_MODE", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Tuning.FailureTimeout)
}

func TestIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 7, Int("SOME_INT", 7))
}
