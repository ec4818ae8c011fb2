package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"LISTEN_ADDR", "MATCH_BACKEND", "MATCH_TIMEOUT", "MATCH_DEBOUNCE", "CLAIM_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, BackendLocal, cfg.MatchBackend)
	assert.Equal(t, 60*time.Second, cfg.MatchTimeout)
	assert.Equal(t, 2*time.Second, cfg.MatchDebounce)
	assert.Equal(t, 2*time.Second, cfg.ClaimTimeout)
	assert.NotEmpty(t, cfg.ServerName)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MATCH_BACKEND", "nats")
	t.Setenv("MATCH_TIMEOUT", "5s")
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendNATS, cfg.MatchBackend)
	assert.Equal(t, 5*time.Second, cfg.MatchTimeout)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Empty(t, cfg.RedisAddr, "explicitly empty REDIS_ADDR disables redis")
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "-3")
	t.Setenv("READ_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.WorkerPoolSize)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("MATCH_BACKEND", "kafka")

	_, err := Load()
	assert.ErrorContains(t, err, "MATCH_BACKEND")
}
