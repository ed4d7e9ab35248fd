// Package config defines all configuration for the event sniper.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// env overrides under the SNIPER_ prefix; a local .env file is honored.
// The well-known secret names from the venue tooling (POLYGON_WALLET_PRIVATE_KEY,
// CLOB_API_KEY, CLOB_SECRET, CLOB_PASS_PHRASE, BOT_DRY_RUN) are also accepted.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	RSS       RSSConfig       `mapstructure:"rss"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BotConfig holds the core trading switches.
//
//   - DryRun: simulate fills instead of hitting the venue. Defaults to true;
//     live trading is always an explicit opt-in.
//   - MaxPositionSize: hard cap on a single order's USDC size, enforced even
//     in dry-run.
//   - PollInterval: how long the engine waits on an idle event queue before
//     re-checking for shutdown.
//   - QueueSize: bounded capacity of the shared event queue.
//   - RulesFile: YAML file with trigger rules, static markets, and
//     discovery strategies.
type BotConfig struct {
	DryRun          bool          `mapstructure:"dry_run"`
	MaxPositionSize float64       `mapstructure:"max_position_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	QueueSize       int           `mapstructure:"queue_size"`
	DataDir         string        `mapstructure:"data_dir"`
	RulesFile       string        `mapstructure:"rules_file"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the sniper derives them via L1 auth
// on startup (live mode only).
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// IngestConfig tunes WebSocket resilience.
//
//   - ReconnectMaxAttempts: consecutive failures before the source gives up.
//   - ReconnectInitialDelay / ReconnectMaxDelay: exponential backoff bounds.
//   - HeartbeatInterval: spacing of keepalive pings.
//   - ReadTimeout: drop the connection if no frame arrives within this window.
type IngestConfig struct {
	ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts"`
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
}

// RSSConfig lists the news feeds polled for keyword triggers.
type RSSConfig struct {
	Feeds        []string      `mapstructure:"feeds"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ParserConfig holds parser-wide tunables.
type ParserConfig struct {
	DefaultCooldown time.Duration `mapstructure:"default_cooldown"`
}

// DiscoveryConfig controls startup market discovery via the catalog API.
// GlobalLimit caps total auto-subscriptions across all strategies.
type DiscoveryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	GlobalLimit    int           `mapstructure:"global_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PortfolioConfig sets position-keeping limits.
type PortfolioConfig struct {
	MaxPositions int `mapstructure:"max_positions"`
}

// StoreConfig sets where trades, orders, and positions are persisted (SQLite).
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig controls the HTTP status API.
type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// TelegramConfig enables trade notifications via a Telegram bot.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// LoggingConfig controls log output. When File is set, logs rotate at
// MaxSizeMB and are pruned after MaxAgeDays.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error: every key has a default, so the sniper can run from env
// alone. Sensitive fields use the well-known env names POLYGON_WALLET_PRIVATE_KEY,
// CLOB_API_KEY, CLOB_SECRET, CLOB_PASS_PHRASE, and BOT_DRY_RUN.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLYGON_WALLET_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("CLOB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("CLOB_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("CLOB_PASS_PHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if dry := os.Getenv("BOT_DRY_RUN"); dry != "" {
		cfg.Bot.DryRun = dry == "true" || dry == "1"
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.dry_run", true)
	v.SetDefault("bot.max_position_size", 1000.0)
	v.SetDefault("bot.poll_interval", "100ms")
	v.SetDefault("bot.queue_size", 1024)
	v.SetDefault("bot.data_dir", "data")
	v.SetDefault("bot.rules_file", "rules.yaml")

	v.SetDefault("wallet.signature_type", 0)
	v.SetDefault("wallet.chain_id", 137)

	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")

	v.SetDefault("ingest.reconnect_max_attempts", 5)
	v.SetDefault("ingest.reconnect_initial_delay", "1s")
	v.SetDefault("ingest.reconnect_max_delay", "60s")
	v.SetDefault("ingest.heartbeat_interval", "30s")
	v.SetDefault("ingest.read_timeout", "60s")

	v.SetDefault("rss.poll_interval", "60s")
	v.SetDefault("parser.default_cooldown", "60s")

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.global_limit", 50)
	v.SetDefault("discovery.request_timeout", "30s")

	v.SetDefault("portfolio.max_positions", 10)
	v.SetDefault("store.path", "data/sniper.db")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen_addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 7)
}

// Validate checks all required fields and value ranges. Wallet material is
// only required for live trading; dry-run must work with an empty .env.
func (c *Config) Validate() error {
	if c.Bot.MaxPositionSize <= 0 {
		return fmt.Errorf("bot.max_position_size must be > 0")
	}
	if c.Bot.PollInterval <= 0 {
		return fmt.Errorf("bot.poll_interval must be > 0")
	}
	if c.Bot.QueueSize <= 0 {
		return fmt.Errorf("bot.queue_size must be > 0")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if !c.Bot.DryRun {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required for live trading (set POLYGON_WALLET_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.Ingest.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("ingest.reconnect_max_attempts must be >= 0")
	}
	if c.Portfolio.MaxPositions <= 0 {
		return fmt.Errorf("portfolio.max_positions must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when server.enabled is true")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram.token and telegram.chat_id are required when telegram.enabled is true")
	}
	return nil
}
