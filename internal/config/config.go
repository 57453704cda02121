// Package config resolves service configuration from the environment,
// loading a .env file first when one is present.
package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the public deployment.
const (
	DefaultPort             = "8080"
	DefaultContractAddress  = "0xD172eE7F44B1d9e2C2445E89E736B980DA1f1205"
	DefaultNetworkName      = "Base Mainnet"
	DefaultExplorerTxURL    = "https://basescan.org/tx/"
	DefaultDirectoryURL     = "https://ts00.github.io/agent-directory/"
	DefaultCapabilitiesFile = "data/capabilities.json"
)

// DefaultRPCURLs are tried in order until one answers.
var DefaultRPCURLs = []string{
	"https://mainnet.base.org",
	"https://base.llamarpc.com",
	"https://1rpc.io/base",
	"https://base.publicnode.com",
}

// Config is the resolved runtime configuration.
type Config struct {
	Port             string
	RPCURLs          []string
	ContractAddress  string
	SponsorKey       string
	NetworkName      string
	ExplorerTxURL    string
	DirectoryURL     string
	CapabilitiesFile string
	PolicyFile       string
	Cooldown         time.Duration
	GasBufferWei     *big.Int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:             envOr("PORT", DefaultPort),
		ContractAddress:  envOr("CONTRACT_ADDRESS", DefaultContractAddress),
		SponsorKey:       os.Getenv("SPONSOR_PRIVATE_KEY"),
		NetworkName:      envOr("NETWORK_NAME", DefaultNetworkName),
		ExplorerTxURL:    envOr("EXPLORER_TX_URL", DefaultExplorerTxURL),
		DirectoryURL:     envOr("DIRECTORY_URL", DefaultDirectoryURL),
		CapabilitiesFile: envOr("CAPABILITIES_FILE", DefaultCapabilitiesFile),
		PolicyFile:       os.Getenv("PLATFORM_POLICY_FILE"),
		Cooldown:         60 * time.Second,
		GasBufferWei:     big.NewInt(500_000_000_000_000),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
	}

	cfg.RPCURLs = DefaultRPCURLs
	if raw := os.Getenv("RPC_URLS"); raw != "" {
		var urls []string
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			cfg.RPCURLs = urls
		}
	}

	if raw := os.Getenv("IP_COOLDOWN_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid IP_COOLDOWN_SECONDS %q", raw)
		}
		cfg.Cooldown = time.Duration(secs) * time.Second
	}

	if raw := os.Getenv("GAS_BUFFER_WEI"); raw != "" {
		buf, ok := new(big.Int).SetString(raw, 10)
		if !ok || buf.Sign() < 0 {
			return nil, fmt.Errorf("invalid GAS_BUFFER_WEI %q", raw)
		}
		cfg.GasBufferWei = buf
	}

	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q", raw)
		}
		cfg.RedisDB = db
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
