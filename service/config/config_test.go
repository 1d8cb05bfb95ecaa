package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("WALLET_KEYPAIR_PATH", "/keys/id.json")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/keys/id.json", cfg.WalletKeypairPath)
	assert.Equal(t, []string{"https://api.devnet.solana.com"}, cfg.SolanaRPCURLs) // Default
	assert.Equal(t, "devnet", cfg.SolanaCluster)                                  // Default
	assert.Equal(t, ":8080", cfg.ServerAddr)                                      // Default
	assert.Equal(t, ":9091", cfg.MetricsAddr)                                     // Default
	assert.Equal(t, "info", cfg.LogLevel)                                         // Default
	assert.Equal(t, ApprovalQueue, cfg.ApprovalMode)                              // Default
	assert.Equal(t, 2*time.Second, cfg.ConfirmPollInterval)
	assert.Equal(t, "solsend-transfers", cfg.TemporalTaskQueue)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_MissingKeypairPath(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "WALLET_KEYPAIR_PATH is required")
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	os.Setenv("APPROVAL_MODE", "sometimes")
	os.Setenv("CONFIRM_POLL_INTERVAL", "soon")
	os.Setenv("LOG_LEVEL", "loud")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_KEYPAIR_PATH is required")
	assert.Contains(t, err.Error(), "APPROVAL_MODE must be one of")
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "unknown level")
}

func TestLoad_PollIntervalTooShort(t *testing.T) {
	os.Setenv("WALLET_KEYPAIR_PATH", "/keys/id.json")
	os.Setenv("CONFIRM_POLL_INTERVAL", "10ms")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least")
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("WALLET_KEYPAIR_PATH", "/keys/id.json")
	os.Setenv("SOLANA_RPC_URLS", "https://rpc-a.example.com, https://rpc-b.example.com,,")
	os.Setenv("SOLANA_CLUSTER", "testnet")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("APPROVAL_MODE", "AUTO")
	os.Setenv("CONFIRM_POLL_INTERVAL", "500ms")
	os.Setenv("DATABASE_URL", "postgres://localhost/solsend")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"https://rpc-a.example.com", "https://rpc-b.example.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, "testnet", cfg.SolanaCluster)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ApprovalAuto, cfg.ApprovalMode)
	assert.Equal(t, 500*time.Millisecond, cfg.ConfirmPollInterval)
	assert.Equal(t, "postgres://localhost/solsend", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "no rpc urls", mutate: func(c *Config) { c.SolanaRPCURLs = nil }, wantErr: "SolanaRPCURLs is required"},
		{name: "no keypair", mutate: func(c *Config) { c.WalletKeypairPath = "" }, wantErr: "WalletKeypairPath is required"},
		{name: "bad approval mode", mutate: func(c *Config) { c.ApprovalMode = "maybe" }, wantErr: "ApprovalMode"},
		{name: "fast polling", mutate: func(c *Config) { c.ConfirmPollInterval = time.Millisecond }, wantErr: "ConfirmPollInterval must be at least"},
		{name: "no task queue", mutate: func(c *Config) { c.TemporalTaskQueue = "" }, wantErr: "TemporalTaskQueue is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLogLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	os.Setenv("WALLET_KEYPAIR_PATH", "/keys/id.json")
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

func validConfig() *Config {
	return &Config{
		SolanaRPCURLs:       []string{"https://api.devnet.solana.com"},
		SolanaCluster:       "devnet",
		WalletKeypairPath:   "/keys/id.json",
		ApprovalMode:        ApprovalQueue,
		ConfirmPollInterval: 2 * time.Second,
		TemporalHost:        "localhost:7233",
		TemporalNamespace:   "default",
		TemporalTaskQueue:   "solsend-transfers",
	}
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"WALLET_KEYPAIR_PATH",
		"SOLANA_RPC_URLS",
		"SOLANA_CLUSTER",
		"SERVER_ADDR",
		"METRICS_ADDR",
		"LOG_LEVEL",
		"APPROVAL_MODE",
		"CONFIRM_POLL_INTERVAL",
		"DATABASE_URL",
		"NATS_URL",
		"TEMPORAL_HOST",
		"TEMPORAL_NAMESPACE",
		"TEMPORAL_TASK_QUEUE",
	} {
		os.Unsetenv(key)
	}
}
