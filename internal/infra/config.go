package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application settings. Sensitive values are overridden
// from the environment after the file is parsed.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Finnhub struct {
		WSURL   string `yaml:"ws_url"`
		RestURL string `yaml:"rest_url"`
		Token   string `yaml:"token"`
	} `yaml:"finnhub"`

	Feed struct {
		MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
		BaseDelaySec         int `yaml:"base_delay_sec"`
	} `yaml:"feed"`

	Trading struct {
		OpeningBalance  decimal.Decimal `yaml:"opening_balance"`
		LockTimeoutSec  int             `yaml:"lock_timeout_sec"`
		QuoteTimeoutSec int             `yaml:"quote_timeout_sec"`
	} `yaml:"trading"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file. A .env file is
// loaded first if present, then environment variables override secrets.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Finnhub.WSURL == "" || (!strings.HasPrefix(c.Finnhub.WSURL, "ws://") && !strings.HasPrefix(c.Finnhub.WSURL, "wss://")) {
		return fmt.Errorf("invalid Finnhub WS URL: %s", c.Finnhub.WSURL)
	}
	if c.Finnhub.RestURL == "" {
		return fmt.Errorf("Finnhub REST URL is required")
	}
	if c.Finnhub.Token == "" {
		return fmt.Errorf("Finnhub API token is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Trading.OpeningBalance.IsNegative() {
		return fmt.Errorf("opening balance must not be negative")
	}
	return nil
}

// overrideWithEnv overrides settings from environment variables when present
func overrideWithEnv(cfg *Config) {
	if token := os.Getenv("FINNHUB_API_KEY"); token != "" {
		cfg.Finnhub.Token = token
	}
	if addr := os.Getenv("PAPERTRADE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := os.Getenv("PAPERTRADE_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Feed.MaxReconnectAttempts <= 0 {
		cfg.Feed.MaxReconnectAttempts = 5
	}
	if cfg.Feed.BaseDelaySec <= 0 {
		cfg.Feed.BaseDelaySec = 5
	}
	if cfg.Trading.OpeningBalance.IsZero() {
		cfg.Trading.OpeningBalance = decimal.NewFromInt(100000)
	}
	if cfg.Trading.LockTimeoutSec <= 0 {
		cfg.Trading.LockTimeoutSec = 5
	}
	if cfg.Trading.QuoteTimeoutSec <= 0 {
		cfg.Trading.QuoteTimeoutSec = 10
	}
}
