package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/polyflow")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.WSReconnectBackoffMin)
	assert.Equal(t, 8*time.Second, cfg.WSReconnectBackoffMax)
	assert.Equal(t, 3000, cfg.WSMaxSubscriptions)
	assert.Equal(t, 10*time.Second, cfg.TPSLCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.SmartSyncInterval)
	assert.Equal(t, "trade.*", cfg.BridgeTradePattern)
	assert.Equal(t, "0.0.0.0:8077", cfg.WebhookAddr())
	assert.True(t, cfg.MinCopyAmountUSD.Equal(dec("1")))
	assert.False(t, cfg.SkipDB)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/polyflow")
	t.Setenv("POLL_MS", "15000")
	t.Setenv("WS_MAX_SUBSCRIPTIONS", "500")
	t.Setenv("MIN_COPY_AMOUNT_USD", "2.50")
	t.Setenv("TPSL_CHECK_INTERVAL_SEC", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 500, cfg.WSMaxSubscriptions)
	assert.True(t, cfg.MinCopyAmountUSD.Equal(dec("2.5")))
	assert.Equal(t, 5*time.Second, cfg.TPSLCheckInterval)
}

func TestValidateRejectsBadWindows(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/polyflow")
	t.Setenv("WS_RECONNECT_BACKOFF_MIN", "9000")
	t.Setenv("WS_RECONNECT_BACKOFF_MAX", "1000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff")
}

func TestValidateAllocationWindow(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/polyflow")
	t.Setenv("MIN_ALLOCATION_PERCENTAGE", "60")
	t.Setenv("MAX_ALLOCATION_PERCENTAGE", "30")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocation percentage")
}

func TestSkipDBRequiresGateway(t *testing.T) {
	t.Setenv("SKIP_DB", "true")
	t.Setenv("GATEWAY_API_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
