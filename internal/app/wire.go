package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/alanyoungcy/xarb/internal/cache/redis"
	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange/binance"
	"github.com/alanyoungcy/xarb/internal/exchange/bitfinex"
	"github.com/alanyoungcy/xarb/internal/executor"
	"github.com/alanyoungcy/xarb/internal/notify"
)

// Dependencies bundles everything the modes need. Redis-backed fields are
// nil when Redis is disabled.
type Dependencies struct {
	Redis       *redis.Client
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Alerter is nil when no notification channel is configured.
	Alerter executor.Alerter

	Binance  *binance.Venue
	Bitfinex *bitfinex.Venue
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger); notifier.Enabled() {
		deps.Alerter = notifier
	}

	// --- Venues ---
	bn, err := newBinance(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: binance: %w", err)
	}
	bf, err := newBitfinex(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: bitfinex: %w", err)
	}
	deps.Binance, deps.Bitfinex = bn, bf

	return deps, cleanup, nil
}

func newBinance(cfg *config.Config, logger *slog.Logger) (*binance.Venue, error) {
	vc := cfg.Binance
	creds, err := vc.Credentials()
	if err != nil {
		return nil, err
	}
	base, quote := vc.Assets(cfg.Pair)
	return binance.New(binance.Config{
		Symbol:            strings.ToUpper(vc.Symbol),
		Pair:              domain.Pair{Base: base, Quote: quote},
		Fee:               vc.Fee,
		TimeInForce:       strings.ToUpper(vc.TimeInForce),
		RESTURL:           vc.RESTURL,
		WSURL:             vc.WSURL,
		Credentials:       creds,
		OpenTimeout:       cfg.Stream.OpenTimeout.Duration,
		ReconnectInterval: cfg.Stream.ReconnectInterval.Duration,
		JoinTimeout:       cfg.Stream.JoinTimeout.Duration,
		BufferSize:        cfg.Stream.BufferSize,
	}, logger), nil
}

func newBitfinex(cfg *config.Config, logger *slog.Logger) (*bitfinex.Venue, error) {
	vc := cfg.Bitfinex
	creds, err := vc.Credentials()
	if err != nil {
		return nil, err
	}
	base, quote := vc.Assets(cfg.Pair)
	return bitfinex.New(bitfinex.Config{
		Symbol:            bitfinexSymbol(vc.Symbol),
		Pair:              domain.Pair{Base: base, Quote: quote},
		Fee:               vc.Fee,
		Candles:           vc.Candles,
		RESTURL:           vc.RESTURL,
		WSURL:             vc.WSURL,
		Credentials:       creds,
		OpenTimeout:       cfg.Stream.OpenTimeout.Duration,
		ReconnectInterval: cfg.Stream.ReconnectInterval.Duration,
		JoinTimeout:       cfg.Stream.JoinTimeout.Duration,
		BufferSize:        cfg.Stream.BufferSize,
		PollInterval:      cfg.Confirm.PollInterval.Duration,
	}, logger), nil
}

// bitfinexSymbol normalizes a configured pair to the form the venue takes,
// without the "t" trading prefix. The prefix is only recognized in the
// venue's own spelling, a lowercase t before an uppercase pair ("tBTCUSD"),
// so a lowercase pair such as "trxusd" keeps its leading letter.
func bitfinexSymbol(s string) string {
	if len(s) > 1 && s[0] == 't' && unicode.IsUpper(rune(s[1])) {
		s = s[1:]
	}
	return strings.ToUpper(s)
}
