package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Timezone names the location whose calendar day bounds the daily quota.
	// Empty means the process local zone.
	Timezone string

	GoogleAIAPIKey  string
	ChatModel       string
	CompletionMode  string
	ChatEndpointURL string

	DatabaseURL  string
	KVSQLitePath string

	DailyMessageLimit     int
	MinWalletTransactions int

	ChainRPCURL            string
	PremiumReceiverAddress string
	PremiumPriceWei        string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "monadchat"),
		AllowAnyOrigin:   false,
		Timezone:         stringsTrimSpace("APP_TIMEZONE"),
		GoogleAIAPIKey:   stringsTrimSpace("GOOGLE_AI_API_KEY"),
		ChatModel:        envOrDefault("CHAT_MODEL", "gemma-3-27b-it"),
		CompletionMode:   envOrDefault("COMPLETION_MODE", "auto"),
		ChatEndpointURL:  stringsTrimSpace("CHAT_ENDPOINT_URL"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		KVSQLitePath:     stringsTrimSpace("KV_SQLITE_PATH"),
		ChainRPCURL:      envOrDefault("CHAIN_RPC_URL", "https://testnet-rpc.monad.xyz"),
		// 1 MON sent to the premium receiver unlocks unlimited messages.
		PremiumReceiverAddress: envOrDefault("PREMIUM_RECEIVER_ADDRESS", "0x8814a93b36f6f02ab5579c7da8e543a95436aa25"),
		PremiumPriceWei:        envOrDefault("PREMIUM_PRICE_WEI", "1000000000000000000"),
		DailyMessageLimit:      10,
		MinWalletTransactions:  3,
		ShutdownTimeout:        15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DailyMessageLimit, err = intFromEnv("DAILY_MESSAGE_LIMIT", cfg.DailyMessageLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MinWalletTransactions, err = intFromEnv("MIN_WALLET_TRANSACTIONS", cfg.MinWalletTransactions)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Logging reads APP_LOG_LEVEL and APP_LOG_JSON. The CLI resolves these
// before anything else so that config errors can be logged.
func Logging() (level string, json bool, err error) {
	json, err = boolFromEnv("APP_LOG_JSON", true)
	if err != nil {
		return "info", true, err
	}
	return envOrDefault("APP_LOG_LEVEL", "info"), json, nil
}

// Validate checks cross-field constraints. Load calls it; the CLI calls it
// again after applying flag overrides.
func (c Config) Validate() error {
	if c.DailyMessageLimit <= 0 {
		return fmt.Errorf("DAILY_MESSAGE_LIMIT must be positive")
	}
	if c.MinWalletTransactions < 0 {
		return fmt.Errorf("MIN_WALLET_TRANSACTIONS must be >= 0")
	}
	if !common.IsHexAddress(c.PremiumReceiverAddress) {
		return fmt.Errorf("PREMIUM_RECEIVER_ADDRESS is not a hex address: %q", c.PremiumReceiverAddress)
	}
	if _, err := c.PremiumPrice(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.CompletionMode)) {
	case "", "auto", "genai", "http", "mock":
	default:
		return fmt.Errorf("COMPLETION_MODE must be one of auto|genai|http|mock, got %q", c.CompletionMode)
	}
	return nil
}

// PremiumPrice parses PremiumPriceWei.
func (c Config) PremiumPrice() (*big.Int, error) {
	price, ok := new(big.Int).SetString(strings.TrimSpace(c.PremiumPriceWei), 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("PREMIUM_PRICE_WEI must be a positive integer, got %q", c.PremiumPriceWei)
	}
	return price, nil
}

// Location resolves Timezone, falling back to time.Local.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE parse error: %w", err)
	}
	return loc, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
