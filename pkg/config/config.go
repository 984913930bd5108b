package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Backend selects which broker.Gateway implementation the process runs.
type Backend string

const (
	BackendREST   Backend = "rest"
	BackendSocket Backend = "socket"
)

// Config holds environment-driven settings for the risk engine process.
type Config struct {
	// Risk
	Accounts                  []string
	BaseCurrency              string
	UnprotectedLossPercentage float64
	KeepAliveInterval         int // seconds

	// Backend selection
	Backend Backend

	// REST backend
	RestBaseURL       string
	RestSessionCookie string

	// Socket backend
	SocketHost     string
	SocketPort     int
	SocketClientID int64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	accounts := splitAndTrim(getEnv("RISK_ACCOUNTS", ""))
	if len(accounts) == 0 {
		return nil, fmt.Errorf("config: RISK_ACCOUNTS must list at least one account")
	}

	backend := Backend(strings.ToLower(getEnv("RISK_BACKEND", string(BackendREST))))
	if backend != BackendREST && backend != BackendSocket {
		return nil, fmt.Errorf("config: RISK_BACKEND must be %q or %q, got %q", BackendREST, BackendSocket, backend)
	}

	return &Config{
		Accounts:                  accounts,
		BaseCurrency:              strings.ToUpper(getEnv("RISK_BASE_CURRENCY", "EUR")),
		UnprotectedLossPercentage: getEnvFloat("RISK_UNPROTECTED_LOSS_PERCENTAGE", 50),
		KeepAliveInterval:         getEnvInt("RISK_KEEPALIVE_INTERVAL_SECONDS", 60),

		Backend: backend,

		RestBaseURL:       getEnv("IB_GATEWAY_BASE_URL", "https://localhost:5000"),
		RestSessionCookie: os.Getenv("IB_GATEWAY_SESSION_COOKIE"),

		SocketHost:     getEnv("TWS_HOST", "127.0.0.1"),
		SocketPort:     getEnvInt("TWS_PORT", 4001),
		SocketClientID: int64(getEnvInt("TWS_CLIENT_ID", 1)),
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
