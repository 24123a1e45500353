// Package config loads deployment settings from the environment, with an
// optional .env file for local development. Chain endpoints and token
// addresses are configuration on purpose: nothing chain-specific beyond
// parsing logic is hard-coded elsewhere.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chainpress/paygate/types"
)

type Config struct {
	// Solana
	SolanaNetwork      types.Network
	SolanaRPCEndpoints []string
	SolanaUSDCMint     string

	// Base (EVM)
	BaseNetwork          types.Network
	BaseRPCEndpoints     []string
	BaseUSDCContract     string
	BaseMinConfirmations uint64

	// Payouts
	TreasurySolana string
	TreasuryBase   string

	// Gating
	ReferenceWindow    time.Duration
	SubscriptionPeriod time.Duration
	VerifyTimeout      time.Duration

	// Storage
	DBPath string

	// Observability
	LogLevel    string
	MetricsAddr string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		// Solana
		SolanaNetwork:      types.Network(getEnv("SOLANA_NETWORK", types.NetworkSolana.String())),
		SolanaRPCEndpoints: getEnvList("SOLANA_RPC_ENDPOINTS", "https://api.mainnet-beta.solana.com"),
		SolanaUSDCMint:     getEnv("SOLANA_USDC_MINT", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),

		// Base
		BaseNetwork:          types.Network(getEnv("BASE_NETWORK", types.NetworkBase.String())),
		BaseRPCEndpoints:     getEnvList("BASE_RPC_ENDPOINTS", "https://mainnet.base.org"),
		BaseUSDCContract:     getEnv("BASE_USDC_CONTRACT", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		BaseMinConfirmations: uint64(getEnvInt("BASE_MIN_CONFIRMATIONS", types.DefaultEVMMinConfirmations)),

		// Payouts
		TreasurySolana: getEnv("TREASURY_SOLANA", ""),
		TreasuryBase:   getEnv("TREASURY_BASE", ""),

		// Gating
		ReferenceWindow:    getEnvDuration("REFERENCE_WINDOW", types.DefaultReferenceWindow),
		SubscriptionPeriod: getEnvDuration("SUBSCRIPTION_PERIOD", 30*24*time.Hour),
		VerifyTimeout:      getEnvDuration("VERIFY_TIMEOUT", 30*time.Second),

		// Storage
		DBPath: getEnv("DB_PATH", "./paygate.db"),

		// Observability
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}

	return cfg
}

// SolanaClientConfig builds the chain client config for the Solana side.
func (c *Config) SolanaClientConfig() types.ClientConfig {
	return types.ClientConfig{
		Network:      c.SolanaNetwork,
		RPCEndpoints: c.SolanaRPCEndpoints,
		Token:        c.SolanaUSDCMint,
		Timeout:      c.VerifyTimeout,
	}
}

// BaseClientConfig builds the chain client config for the Base side.
func (c *Config) BaseClientConfig() types.ClientConfig {
	return types.ClientConfig{
		Network:          c.BaseNetwork,
		RPCEndpoints:     c.BaseRPCEndpoints,
		Token:            c.BaseUSDCContract,
		MinConfirmations: c.BaseMinConfirmations,
		Timeout:          c.VerifyTimeout,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key, defaultVal string) []string {
	raw := getEnv(key, defaultVal)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
