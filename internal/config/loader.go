package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies XARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known XARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Pair.Base, "XARB_PAIR_BASE")
	setStr(&cfg.Pair.Quote, "XARB_PAIR_QUOTE")

	applyVenueOverrides(&cfg.Binance, "XARB_BINANCE_")
	applyVenueOverrides(&cfg.Bitfinex, "XARB_BITFINEX_")

	// ── Stream ──
	setDuration(&cfg.Stream.OpenTimeout, "XARB_STREAM_OPEN_TIMEOUT")
	setDuration(&cfg.Stream.ReconnectInterval, "XARB_STREAM_RECONNECT_INTERVAL")
	setDuration(&cfg.Stream.JoinTimeout, "XARB_STREAM_JOIN_TIMEOUT")
	setInt(&cfg.Stream.BufferSize, "XARB_STREAM_BUFFER_SIZE")

	setDuration(&cfg.Confirm.PollInterval, "XARB_CONFIRM_POLL_INTERVAL")

	// ── Trading ──
	setDuration(&cfg.Trading.LockTTL, "XARB_TRADING_LOCK_TTL")
	setDuration(&cfg.Trading.OpportunityDedupTTL, "XARB_TRADING_OPPORTUNITY_DEDUP_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "XARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "XARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "XARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "XARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "XARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "XARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "XARB_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "XARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "XARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "XARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "XARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "XARB_SERVER_RATE_LIMIT_PER_MIN")
	setDecimal(&cfg.Server.TestOrderAmount, "XARB_SERVER_TEST_ORDER_AMOUNT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "XARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "XARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "XARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "XARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "XARB_MODE")
	setStr(&cfg.LogLevel, "XARB_LOG_LEVEL")
}

func applyVenueOverrides(v *VenueConfig, prefix string) {
	setStr(&v.APIKey, prefix+"API_KEY")
	setStr(&v.APISecret, prefix+"API_SECRET")
	setStr(&v.EncryptedSecretPath, prefix+"ENCRYPTED_SECRET_PATH")
	setStr(&v.SecretPassword, prefix+"SECRET_PASSWORD")
	setStr(&v.RESTURL, prefix+"REST_URL")
	setStr(&v.WSURL, prefix+"WS_URL")
	setDecimal(&v.Fee, prefix+"FEE")
	setStr(&v.Symbol, prefix+"SYMBOL")
	setStr(&v.BaseAsset, prefix+"BASE_ASSET")
	setStr(&v.QuoteAsset, prefix+"QUOTE_ASSET")
	setStr(&v.TimeInForce, prefix+"TIME_IN_FORCE")
	setBool(&v.Candles, prefix+"CANDLES")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
