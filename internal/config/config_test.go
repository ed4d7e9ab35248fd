package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Bot: BotConfig{
			DryRun:          true,
			MaxPositionSize: 1000,
			PollInterval:    100 * time.Millisecond,
			QueueSize:       1024,
			DataDir:         "data",
			RulesFile:       "rules.yaml",
		},
		Wallet: WalletConfig{SignatureType: 0, ChainID: 137},
		API: APIConfig{
			CLOBBaseURL:  "https://clob.polymarket.com",
			GammaBaseURL: "https://gamma-api.polymarket.com",
		},
		Portfolio: PortfolioConfig{MaxPositions: 10},
		Store:     StoreConfig{Path: "data/sniper.db"},
	}
}

func TestValidateDryRunNeedsNoWallet(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on dry-run config without wallet: %v", err)
	}
}

func TestValidateLiveRequiresPrivateKey(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Bot.DryRun = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() live without private key: want error, got nil")
	}

	cfg.Wallet.PrivateKey = "abc123"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() live with private key: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max position size", func(c *Config) { c.Bot.MaxPositionSize = 0 }},
		{"zero poll interval", func(c *Config) { c.Bot.PollInterval = 0 }},
		{"zero queue size", func(c *Config) { c.Bot.QueueSize = 0 }},
		{"bad signature type", func(c *Config) { c.Wallet.SignatureType = 7 }},
		{"missing clob url", func(c *Config) { c.API.CLOBBaseURL = "" }},
		{"missing gamma url", func(c *Config) { c.API.GammaBaseURL = "" }},
		{"negative reconnect attempts", func(c *Config) { c.Ingest.ReconnectMaxAttempts = -1 }},
		{"zero max positions", func(c *Config) { c.Portfolio.MaxPositions = 0 }},
		{"missing store path", func(c *Config) { c.Store.Path = "" }},
		{"server enabled without addr", func(c *Config) { c.Server.Enabled = true; c.Server.ListenAddr = "" }},
		{"telegram enabled without token", func(c *Config) { c.Telegram.Enabled = true }},
		{
			"proxy signature without funder",
			func(c *Config) {
				c.Bot.DryRun = false
				c.Wallet.PrivateKey = "abc"
				c.Wallet.SignatureType = 1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate(): want error, got nil")
			}
		})
	}
}
