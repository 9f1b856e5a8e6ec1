package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "fulfillment-orders", cfg.OrdersTable)
	require.Equal(t, 10, cfg.WorkerConcurrency)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.RetryBackoff)
	require.Equal(t, 30*time.Second, cfg.ExternalCallTimeout)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("RETRY_BACKOFF", "10s")
	t.Setenv("ORDERS_TABLE", "orders-staging")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkerConcurrency)
	require.Equal(t, 10*time.Second, cfg.RetryBackoff)
	require.Equal(t, "orders-staging", cfg.OrdersTable)
}

func TestLoad_RejectsBadConcurrency(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "0")

	_, err := Load()
	require.Error(t, err)
}
