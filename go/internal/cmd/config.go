package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration loaded from config.yaml. Secrets
// (the wallet key) come from the environment only.
type Config struct {
	Chain struct {
		RPCURL         string `yaml:"rpc_url"`
		ChainID        int64  `yaml:"chain_id"`
		TokenAddress   string `yaml:"token_address"`
		LotteryAddress string `yaml:"lottery_address"`
	} `yaml:"chain"`

	Backend struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"backend"`

	Purchase struct {
		TicketPrice       int64 `yaml:"ticket_price"`
		ConfirmTimeoutSec int   `yaml:"confirm_timeout_sec"`
	} `yaml:"purchase"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file; environment variables carry the full configuration.
	} else if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&config)

	if config.Chain.RPCURL == "" {
		return nil, fmt.Errorf("chain rpc url is required (RPC_URL or config.yaml)")
	}
	if config.Purchase.TicketPrice <= 0 {
		config.Purchase.TicketPrice = 1 // 1 token buys 1 ticket
	}
	return &config, nil
}

func applyEnvOverrides(config *Config) {
	config.Chain.RPCURL = getEnv("RPC_URL", config.Chain.RPCURL)
	config.Chain.ChainID = getEnvAsInt64("CHAIN_ID", config.Chain.ChainID)
	config.Chain.TokenAddress = getEnv("TOKEN_ADDRESS", config.Chain.TokenAddress)
	config.Chain.LotteryAddress = getEnv("LOTTERY_ADDRESS", config.Chain.LotteryAddress)
	config.Backend.BaseURL = getEnv("BACKEND_URL", config.Backend.BaseURL)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
}
