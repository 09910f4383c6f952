package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeDryRun = "DRY_RUN"
	ModeLive   = "LIVE"

	NetworkMainnet = "MAINNET"
	NetworkTestnet = "TESTNET"

	defaultFeeRate = 0.0005
)

// Endpoints per network; api_base_url and stream_url override them.
var networkEndpoints = map[string]struct{ API, Stream string }{
	NetworkMainnet: {
		API:    "https://api.extended.exchange",
		Stream: "wss://api.extended.exchange/stream.extended.exchange/v1",
	},
	NetworkTestnet: {
		API:    "https://api.starknet.sepolia.extended.exchange",
		Stream: "wss://api.starknet.sepolia.extended.exchange/stream.extended.exchange/v1",
	},
}

type Config struct {
	Mode               string `yaml:"mode"`
	Network            string `yaml:"network"`
	APIBaseURL         string `yaml:"api_base_url"`
	StreamURL          string `yaml:"stream_url"`
	SignerURL          string `yaml:"signer_url"`
	MarketCacheSeconds int    `yaml:"market_cache_seconds"`
	Stream             struct {
		Depth                    int `yaml:"depth"`
		ReconnectDelaySeconds    int `yaml:"reconnect_delay_seconds"`
		MaxReconnectDelaySeconds int `yaml:"max_reconnect_delay_seconds"`
		PingIntervalSeconds      int `yaml:"ping_interval_seconds"`
		PingTimeoutSeconds       int `yaml:"ping_timeout_seconds"`
	} `yaml:"stream"`
	Order struct {
		PostOnly      *bool    `yaml:"post_only"`
		ExpiryMinutes int      `yaml:"expiry_minutes"`
		FeeRate       *float64 `yaml:"fee_rate"`
	} `yaml:"order"`
	HTTP struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		MaxAttempts    int `yaml:"max_attempts"`
	} `yaml:"http"`
	Tradelog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"tradelog"`

	// Credentials never live in the YAML file; they come from the
	// environment (or a .env file loaded beforehand).
	Credentials Credentials `yaml:"-"`
}

// Credentials identify the trading sub-account.
type Credentials struct {
	APIKey     string
	PublicKey  string
	PrivateKey string
	Vault      int64
}

func (c *Config) Validate() error {
	if c.Mode != ModeDryRun && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if _, ok := networkEndpoints[c.Network]; !ok {
		return fmt.Errorf("invalid network '%s': must be 'MAINNET' or 'TESTNET'", c.Network)
	}
	if c.MarketCacheSeconds <= 0 {
		return fmt.Errorf("market_cache_seconds must be positive, got %d", c.MarketCacheSeconds)
	}
	if c.Stream.Depth < 1 {
		return fmt.Errorf("stream.depth must be at least 1, got %d", c.Stream.Depth)
	}
	if c.Stream.MaxReconnectDelaySeconds < c.Stream.ReconnectDelaySeconds {
		return fmt.Errorf("stream.max_reconnect_delay_seconds (%d) is below stream.reconnect_delay_seconds (%d)",
			c.Stream.MaxReconnectDelaySeconds, c.Stream.ReconnectDelaySeconds)
	}
	if c.Stream.PingIntervalSeconds <= 0 || c.Stream.PingTimeoutSeconds <= 0 {
		return fmt.Errorf("stream.ping_interval_seconds and stream.ping_timeout_seconds must be positive, got %d and %d",
			c.Stream.PingIntervalSeconds, c.Stream.PingTimeoutSeconds)
	}
	if fee := c.FeeRate(); fee < 0 || fee >= 1 {
		return fmt.Errorf("order.fee_rate must be in [0, 1), got %.6f", fee)
	}
	if c.Mode == ModeLive {
		if c.Credentials.APIKey == "" {
			return errors.New("EXTENDED_API_KEY is required in LIVE mode")
		}
		if c.Credentials.PublicKey == "" {
			return errors.New("EXTENDED_PUBLIC_KEY is required in LIVE mode")
		}
		if c.Credentials.Vault <= 0 {
			return errors.New("EXTENDED_VAULT must be a positive integer in LIVE mode")
		}
		if c.SignerURL == "" {
			return errors.New("signer_url is required in LIVE mode")
		}
	}
	return nil
}

func (c *Config) MarketCacheTTL() time.Duration {
	return time.Duration(c.MarketCacheSeconds) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectDelaySeconds) * time.Second
}

func (c *Config) MaxReconnectDelay() time.Duration {
	return time.Duration(c.Stream.MaxReconnectDelaySeconds) * time.Second
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Stream.PingIntervalSeconds) * time.Second
}

func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.Stream.PingTimeoutSeconds) * time.Second
}

func (c *Config) OrderExpiry() time.Duration {
	return time.Duration(c.Order.ExpiryMinutes) * time.Minute
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FeeRate is the fee rate signed into orders; an explicit 0 is kept.
func (c *Config) FeeRate() float64 {
	if c.Order.FeeRate == nil {
		return defaultFeeRate
	}
	return *c.Order.FeeRate
}

func (c *Config) PostOnly() bool {
	return c.Order.PostOnly == nil || *c.Order.PostOnly
}

func (c *Config) IsDryRun() bool {
	return c.Mode == ModeDryRun
}

// LoadConfig reads the YAML file at path, applies defaults, overlays
// credentials from the environment and validates the result. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	c.applyDefaults()

	if err := c.loadCredentials(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	c.Mode = strings.ToUpper(c.Mode)
	if c.Mode == "" {
		c.Mode = ModeDryRun
	}
	c.Network = strings.ToUpper(c.Network)
	if c.Network == "" {
		c.Network = NetworkMainnet
	}
	if ep, ok := networkEndpoints[c.Network]; ok {
		if c.APIBaseURL == "" {
			c.APIBaseURL = ep.API
		}
		if c.StreamURL == "" {
			c.StreamURL = ep.Stream
		}
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	c.StreamURL = strings.TrimRight(c.StreamURL, "/")

	if c.MarketCacheSeconds == 0 {
		c.MarketCacheSeconds = 60
	}
	if c.Stream.Depth == 0 {
		c.Stream.Depth = 1
	}
	if c.Stream.ReconnectDelaySeconds == 0 {
		c.Stream.ReconnectDelaySeconds = 10
	}
	if c.Stream.MaxReconnectDelaySeconds == 0 {
		c.Stream.MaxReconnectDelaySeconds = 60
	}
	if c.Stream.PingIntervalSeconds == 0 {
		c.Stream.PingIntervalSeconds = 20
	}
	if c.Stream.PingTimeoutSeconds == 0 {
		c.Stream.PingTimeoutSeconds = 20
	}
	if c.Order.ExpiryMinutes == 0 {
		c.Order.ExpiryMinutes = 60
	}
	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = 30
	}
	if c.HTTP.MaxAttempts == 0 {
		c.HTTP.MaxAttempts = 3
	}
	if c.Tradelog.Dir == "" {
		c.Tradelog.Dir = "logs"
	}
}

func (c *Config) loadCredentials() error {
	c.Credentials = Credentials{
		APIKey:     os.Getenv("EXTENDED_API_KEY"),
		PublicKey:  os.Getenv("EXTENDED_PUBLIC_KEY"),
		PrivateKey: os.Getenv("EXTENDED_PRIVATE_KEY"),
	}
	if v := os.Getenv("EXTENDED_VAULT"); v != "" {
		vault, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid EXTENDED_VAULT '%s': %w", v, err)
		}
		c.Credentials.Vault = vault
	}
	return nil
}
