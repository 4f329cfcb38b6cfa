// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by XARB_* environment variables.
type Config struct {
	Pair     PairConfig    `toml:"pair"`
	Binance  VenueConfig   `toml:"binance"`
	Bitfinex VenueConfig   `toml:"bitfinex"`
	Stream   StreamConfig  `toml:"stream"`
	Confirm  ConfirmConfig `toml:"confirm"`
	Trading  TradingConfig `toml:"trading"`
	Redis    RedisConfig   `toml:"redis"`
	Server   ServerConfig  `toml:"server"`
	Notify   NotifyConfig  `toml:"notify"`
	Mode     string        `toml:"mode"`
	LogLevel string        `toml:"log_level"`
}

// PairConfig names the traded assets shared by both venues.
type PairConfig struct {
	Base  string `toml:"base"`
	Quote string `toml:"quote"`
}

// VenueConfig holds one venue's credentials, endpoints and trading terms.
// BaseAsset and QuoteAsset default to the shared pair; Bitfinex usually
// settles in USD rather than USDT.
type VenueConfig struct {
	APIKey              string          `toml:"api_key"`
	APISecret           string          `toml:"api_secret"`
	EncryptedSecretPath string          `toml:"encrypted_secret_path"`
	SecretPassword      string          `toml:"secret_password"`
	RESTURL             string          `toml:"rest_url"`
	WSURL               string          `toml:"ws_url"`
	Fee                 decimal.Decimal `toml:"fee"`
	Symbol              string          `toml:"symbol"`
	BaseAsset           string          `toml:"base_asset"`
	QuoteAsset          string          `toml:"quote_asset"`
	TimeInForce         string          `toml:"time_in_force"`
	Candles             bool            `toml:"candles"`
}

// Assets returns the venue's base and quote asset names, falling back to the
// shared pair for whichever is unset.
func (v VenueConfig) Assets(pair PairConfig) (base, quote string) {
	base, quote = v.BaseAsset, v.QuoteAsset
	if base == "" {
		base = pair.Base
	}
	if quote == "" {
		quote = pair.Quote
	}
	return base, quote
}

// HasCredentials reports whether an API key and some secret source are set.
func (v VenueConfig) HasCredentials() bool {
	return v.APIKey != "" && (v.APISecret != "" || v.EncryptedSecretPath != "")
}

// StreamConfig holds reconnect and buffering parameters for every websocket.
type StreamConfig struct {
	OpenTimeout       duration `toml:"open_timeout"`
	ReconnectInterval duration `toml:"reconnect_interval"`
	JoinTimeout       duration `toml:"join_timeout"`
	BufferSize        int      `toml:"buffer_size"`
}

// ConfirmConfig configures the asynchronous order confirmation tracker.
type ConfirmConfig struct {
	PollInterval duration `toml:"poll_interval"`
}

// TradingConfig holds execution guard rails.
type TradingConfig struct {
	LockTTL             duration `toml:"lock_ttl"`
	OpportunityDedupTTL duration `toml:"opportunity_dedup_ttl"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it the signal bus, trade lock and API rate limiter are disabled.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled         bool            `toml:"enabled"`
	Port            int             `toml:"port"`
	CORSOrigins     []string        `toml:"cors_origins"`
	APIKey          string          `toml:"api_key"`
	RateLimitPerMin int             `toml:"rate_limit_per_min"`
	TestOrderAmount decimal.Decimal `toml:"test_order_amount"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so it can be decoded from TOML strings like
// "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Pair: PairConfig{Base: "BTC", Quote: "USDT"},
		Binance: VenueConfig{
			RESTURL:     "https://api.binance.com",
			WSURL:       "wss://stream.binance.com:9443/ws",
			Fee:         decimal.RequireFromString("0.001"),
			Symbol:      "BTCUSDT",
			TimeInForce: "FOK",
		},
		Bitfinex: VenueConfig{
			RESTURL:     "https://api.bitfinex.com",
			WSURL:       "wss://api.bitfinex.com/ws/2",
			Fee:         decimal.RequireFromString("0.002"),
			Symbol:      "BTCUSD",
			QuoteAsset:  "USD",
			TimeInForce: "FOK",
			Candles:     true,
		},
		Stream: StreamConfig{
			OpenTimeout:       duration{30 * time.Second},
			ReconnectInterval: duration{10 * time.Second},
			JoinTimeout:       duration{time.Second},
			BufferSize:        1024,
		},
		Confirm: ConfirmConfig{
			PollInterval: duration{2 * time.Second},
		},
		Trading: TradingConfig{
			LockTTL:             duration{5 * time.Minute},
			OpportunityDedupTTL: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimitPerMin: 60,
			TestOrderAmount: decimal.RequireFromString("0.001"),
		},
		Notify: NotifyConfig{
			Events: []string{"partial_execution", "leg_failed", "venue_disconnected"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// venueTimeInForce lists the order types each venue resolves without leaving
// a resting order behind. Bitfinex reports no executed amount when an IOC
// order is canceled, so it trades FOK only.
var venueTimeInForce = map[string][]string{
	"binance":  {"FOK", "IOC"},
	"bitfinex": {"FOK"},
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Pair.Base == "" || c.Pair.Quote == "" {
		errs = append(errs, "pair: base and quote must not be empty")
	}

	trading := strings.ToLower(c.Mode) == "trade"
	errs = append(errs, c.Binance.validate("binance", trading)...)
	errs = append(errs, c.Bitfinex.validate("bitfinex", trading)...)

	if c.Stream.OpenTimeout.Duration <= 0 {
		errs = append(errs, "stream: open_timeout must be > 0")
	}
	if c.Stream.ReconnectInterval.Duration <= 0 {
		errs = append(errs, "stream: reconnect_interval must be > 0")
	}
	if c.Stream.BufferSize < 1 {
		errs = append(errs, "stream: buffer_size must be >= 1")
	}
	if c.Confirm.PollInterval.Duration <= 0 {
		errs = append(errs, "confirm: poll_interval must be > 0")
	}
	if c.Trading.LockTTL.Duration <= 0 {
		errs = append(errs, "trading: lock_ttl must be > 0")
	}
	if c.Trading.OpportunityDedupTTL.Duration < 0 {
		errs = append(errs, "trading: opportunity_dedup_ttl must be >= 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
		if !c.Server.TestOrderAmount.IsPositive() {
			errs = append(errs, "server: test_order_amount must be > 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (v VenueConfig) validate(name string, trading bool) []string {
	var errs []string
	if v.Symbol == "" {
		errs = append(errs, name+": symbol must not be empty")
	}
	if v.RESTURL == "" || v.WSURL == "" {
		errs = append(errs, name+": rest_url and ws_url must not be empty")
	}
	if v.Fee.IsNegative() || v.Fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("%s: fee must be in [0, 1), got %s", name, v.Fee))
	}
	if allowed := venueTimeInForce[name]; !slices.Contains(allowed, strings.ToUpper(v.TimeInForce)) {
		errs = append(errs, fmt.Sprintf("%s: unsupported time_in_force %q (valid: %s)", name, v.TimeInForce, strings.Join(allowed, ", ")))
	}
	if trading && !v.HasCredentials() {
		errs = append(errs, name+": api_key and api_secret (or encrypted_secret_path) are required for mode trade")
	}
	if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
		errs = append(errs, name+": secret_password is required when encrypted_secret_path is set")
	}
	return errs
}
