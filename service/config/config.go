package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/solsend/service/wallet"
)

// Approval modes decide who answers wallet connect and signing requests.
const (
	ApprovalQueue = wallet.ModeQueue // held until decided over the HTTP approvals API
	ApprovalAuto  = wallet.ModeAuto  // approved without asking
	ApprovalDeny  = wallet.ModeDeny  // declined without asking
)

// MinConfirmPollInterval bounds how aggressively finalization is polled.
const MinConfirmPollInterval = 100 * time.Millisecond

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Solana configuration
	SolanaRPCURLs       []string
	SolanaCluster       string
	ConfirmPollInterval time.Duration

	// Wallet configuration
	WalletKeypairPath string
	ApprovalMode      string

	// Database configuration, persistence is disabled when empty
	DatabaseURL string

	// NATS configuration, events are disabled when empty
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(getEnvOrDefault("SOLANA_RPC_URLS", "https://api.devnet.solana.com"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS must contain at least one URL"))
	}
	cfg.SolanaCluster = getEnvOrDefault("SOLANA_CLUSTER", "devnet")

	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else if pollInterval < MinConfirmPollInterval {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) must be at least %v", pollInterval, MinConfirmPollInterval))
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	// Wallet configuration
	cfg.WalletKeypairPath = os.Getenv("WALLET_KEYPAIR_PATH")
	if cfg.WalletKeypairPath == "" {
		errs = append(errs, fmt.Errorf("WALLET_KEYPAIR_PATH is required"))
	}
	cfg.ApprovalMode = strings.ToLower(getEnvOrDefault("APPROVAL_MODE", ApprovalQueue))
	if !validApprovalMode(cfg.ApprovalMode) {
		errs = append(errs, fmt.Errorf("APPROVAL_MODE must be one of queue, auto, deny; got %q", cfg.ApprovalMode))
	}

	// Optional backends
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solsend-transfers")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.WalletKeypairPath == "" {
		errs = append(errs, fmt.Errorf("WalletKeypairPath is required"))
	}

	if !validApprovalMode(c.ApprovalMode) {
		errs = append(errs, fmt.Errorf("ApprovalMode %q is invalid", c.ApprovalMode))
	}

	if c.ConfirmPollInterval < MinConfirmPollInterval {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be at least %v", MinConfirmPollInterval))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ParseLogLevel converts a LOG_LEVEL value to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: unknown level %q", level)
}

// NewLogger creates the JSON logger every binary writes to stderr.
func NewLogger(level string) *slog.Logger {
	lvl, _ := ParseLogLevel(level)
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func validApprovalMode(mode string) bool {
	switch mode {
	case ApprovalQueue, ApprovalAuto, ApprovalDeny:
		return true
	}
	return false
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
