package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Guard configuration files
	EndpointMapPath string
	RateLimitsPath  string

	// Guard tuning
	GuardAcquireTimeout time.Duration
	GuardMaxRetries     int

	// Audit log
	AuditLogPath string

	// Execution
	DryRun    bool
	Exchanges []string

	// Dry-run simulation
	SimFeeRate      float64 // decimal (e.g. 0.0004 = 4 bps)
	SimSlippageBps  float64
	SimLatencyMinMs int
	SimLatencyMaxMs int

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/tradeguard.db"),
		EndpointMapPath:     getEnv("ENDPOINT_MAP_PATH", "./config/endpoints.yaml"),
		RateLimitsPath:      getEnv("RATE_LIMITS_PATH", "./config/rate_limits.yaml"),
		GuardAcquireTimeout: time.Duration(getEnvInt("GUARD_ACQUIRE_TIMEOUT_MS", 2000)) * time.Millisecond,
		GuardMaxRetries:     getEnvInt("GUARD_MAX_RETRIES", 3),
		AuditLogPath:        getEnv("AUDIT_LOG_PATH", "./data/audit.jsonl"),
		DryRun:              getEnv("DRY_RUN", "true") == "true",
		Exchanges:           splitAndTrim(getEnv("EXCHANGES", "binance,bybit,kraken")),
		SimFeeRate:          getEnvFloat("SIM_FEE_RATE", 0.0004),
		SimSlippageBps:      getEnvFloat("SIM_SLIPPAGE_BPS", 2),
		SimLatencyMinMs:     getEnvInt("SIM_LATENCY_MIN_MS", 0),
		SimLatencyMaxMs:     getEnvInt("SIM_LATENCY_MAX_MS", 0),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
