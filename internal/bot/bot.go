// Package bot owns the two venues, the executor and the arbitrage monitor,
// and exposes the operator views over them.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/arbitrage"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange"
	"github.com/alanyoungcy/xarb/internal/executor"
)

// EventVenueDisconnected is the alert sent when a venue loses its streams.
const EventVenueDisconnected = "venue_disconnected"

// DefaultWatchInterval is how often venue connectivity is sampled.
const DefaultWatchInterval = 5 * time.Second

// Config configures a Bot. A and B are required.
type Config struct {
	A, B exchange.Exchange

	// Monitor runs the arbitrage monitor; DryRun keeps it from trading.
	Monitor bool
	DryRun  bool

	Alerter   executor.Alerter
	Bus       domain.SignalBus
	Locker    domain.LockManager
	LockTTL   time.Duration
	ReportTTL time.Duration

	WatchInterval time.Duration
	Logger        *slog.Logger
}

// VenueStatus is a venue's liveness as seen by the operator API.
type VenueStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	BookReady bool   `json:"book_ready"`
}

// Status summarizes the bot for the operator API.
type Status struct {
	StartedAt  time.Time               `json:"started_at"`
	Monitoring bool                    `json:"monitoring"`
	DryRun     bool                    `json:"dry_run"`
	Busy       bool                    `json:"busy"`
	Active     *domain.Trade           `json:"active,omitempty"`
	LastReport *domain.ExecutionReport `json:"last_report,omitempty"`
	Venues     []VenueStatus           `json:"venues"`
}

// Stat aggregates both venues' holdings in base-asset terms.
type Stat struct {
	Venues            []domain.VenueStat `json:"venues"`
	TargetTokenAmount decimal.Decimal    `json:"target_token_amount"`
}

// VenueEvent is published on domain.ChannelVenue when a venue connects or
// drops.
type VenueEvent struct {
	Venue     string    `json:"venue"`
	Connected bool      `json:"connected"`
	At        time.Time `json:"at"`
}

// Bot is the top-level trading process.
type Bot struct {
	venues  []exchange.Exchange
	byName  map[string]exchange.Exchange
	exec    *executor.Executor
	monitor *arbitrage.Monitor
	dryRun  bool
	alerter executor.Alerter
	bus     domain.SignalBus
	watch   time.Duration
	logger  *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	mu        sync.Mutex
	connected map[string]bool
}

// New creates a stopped Bot.
func New(cfg Config) *Bot {
	logger := cfg.Logger.With(slog.String("component", "bot"))
	venues := []exchange.Exchange{cfg.A, cfg.B}

	exec := executor.New(executor.Config{
		Venues:  []executor.LegVenue{cfg.A, cfg.B},
		Alerter: cfg.Alerter,
		Bus:     cfg.Bus,
		Locker:  cfg.Locker,
		LockTTL: cfg.LockTTL,
		Logger:  cfg.Logger,
	})

	b := &Bot{
		venues:    venues,
		byName:    make(map[string]exchange.Exchange, len(venues)),
		exec:      exec,
		dryRun:    cfg.DryRun,
		alerter:   cfg.Alerter,
		bus:       cfg.Bus,
		watch:     cfg.WatchInterval,
		logger:    logger,
		connected: make(map[string]bool, len(venues)),
	}
	if b.watch <= 0 {
		b.watch = DefaultWatchInterval
	}
	for _, v := range venues {
		b.byName[v.Name()] = v
	}
	if cfg.Monitor {
		b.monitor = arbitrage.NewMonitor(arbitrage.MonitorConfig{
			A:         cfg.A,
			B:         cfg.B,
			Executor:  exec,
			DryRun:    cfg.DryRun,
			Bus:       cfg.Bus,
			ReportTTL: cfg.ReportTTL,
			Logger:    cfg.Logger,
		})
	}
	return b
}

// Start connects both venues and starts the monitor and the connectivity
// watcher. If a venue fails to connect, the ones already connected are
// disconnected again.
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	b.startedAt = time.Now().UTC()

	for i, v := range b.venues {
		if err := v.Connect(ctx); err != nil {
			b.cancel()
			for _, prev := range b.venues[:i+1] {
				_ = prev.Disconnect()
			}
			return fmt.Errorf("bot: connect %s: %w", v.Name(), err)
		}
	}

	if b.monitor != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("bot: monitor stopped", slog.String("error", err.Error()))
			}
		}()
	}

	b.wg.Add(1)
	go b.watchVenues(ctx)

	b.logger.Info("bot: started",
		slog.Bool("monitor", b.monitor != nil),
		slog.Bool("dry_run", b.dryRun),
	)
	return nil
}

// Stop halts the monitor, waits for an in-flight trade to finish within
// ctx, and disconnects both venues.
func (b *Bot) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	var errs []error
	if err := b.exec.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, v := range b.venues {
		if err := v.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("bot: disconnect %s: %w", v.Name(), err))
		}
	}
	b.logger.Info("bot: stopped")
	return errors.Join(errs...)
}

// Venue looks a venue up by name.
func (b *Bot) Venue(name string) (exchange.Exchange, bool) {
	v, ok := b.byName[name]
	return v, ok
}

// Venues returns both venues in configuration order.
func (b *Bot) Venues() []exchange.Exchange { return b.venues }

// Stat returns each venue's target token amount and their sum.
func (b *Bot) Stat() Stat {
	out := Stat{TargetTokenAmount: decimal.Zero}
	for _, v := range b.venues {
		s := v.Stat()
		out.Venues = append(out.Venues, s)
		out.TargetTokenAmount = out.TargetTokenAmount.Add(s.TargetTokenAmount)
	}
	return out
}

// Dump returns a diagnostic snapshot of both venues.
func (b *Bot) Dump() []domain.VenueSnapshot {
	out := make([]domain.VenueSnapshot, 0, len(b.venues))
	for _, v := range b.venues {
		out = append(out, v.Snapshot())
	}
	return out
}

// Status reports liveness and the executor's current and last trade.
func (b *Bot) Status() Status {
	st := Status{
		StartedAt:  b.startedAt,
		Monitoring: b.monitor != nil,
		DryRun:     b.dryRun,
		Busy:       b.exec.Busy(),
	}
	if t, ok := b.exec.Active(); ok {
		st.Active = &t
	}
	if r, ok := b.exec.LastReport(); ok {
		st.LastReport = &r
	}
	for _, v := range b.venues {
		st.Venues = append(st.Venues, VenueStatus{
			Name:      v.Name(),
			Connected: v.Connected(),
			BookReady: v.BookReady(),
		})
	}
	return st
}

// TestOrder places a single order of amount at the top of the opposite side
// of name's book: a buy crosses the best ask, a sell the best bid.
func (b *Bot) TestOrder(ctx context.Context, name string, side domain.OrderSide, amount decimal.Decimal) (domain.Outcome, error) {
	v, ok := b.Venue(name)
	if !ok {
		return domain.Outcome{}, fmt.Errorf("bot: venue %q: %w", name, domain.ErrNotFound)
	}
	if !v.BookReady() {
		return domain.Outcome{}, fmt.Errorf("bot: test order on %s: %w", name, domain.ErrBookNotReady)
	}

	bookSide, signed := domain.SideAsk, amount.Abs()
	if side == domain.OrderSideSell {
		bookSide, signed = domain.SideBid, signed.Neg()
	}
	levels := v.OrderBook(bookSide)
	if len(levels) == 0 {
		return domain.Outcome{}, fmt.Errorf("bot: test order on %s: empty %s side: %w", name, bookSide, domain.ErrBookNotReady)
	}
	price := levels[0].Price

	pair := v.Assets()
	asset, need := pair.Base, signed.Abs()
	if side != domain.OrderSideSell {
		asset, need = pair.Quote, need.Mul(price)
	}
	if have := v.Balances()[asset]; have.LessThan(need) {
		return domain.Outcome{}, fmt.Errorf("bot: test order on %s: need %s %s, have %s: %w",
			name, need, asset, have, domain.ErrInsufficientBalance)
	}

	b.logger.Info("bot: placing test order",
		slog.String("venue", name),
		slog.String("amount", signed.String()),
		slog.String("price", price.String()),
	)
	return v.PlaceOrder(ctx, signed, price)
}

func (b *Bot) watchVenues(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.watch)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range b.venues {
				b.observe(ctx, v.Name(), v.Connected())
			}
		}
	}
}

// observe records a venue's connectivity and reacts to transitions. Only a
// drop from connected alerts; the first sample after Start never does.
func (b *Bot) observe(ctx context.Context, name string, connected bool) {
	b.mu.Lock()
	prev, seen := b.connected[name]
	b.connected[name] = connected
	b.mu.Unlock()

	if seen && prev == connected {
		return
	}
	if !seen && !connected {
		return
	}

	b.publish(ctx, VenueEvent{Venue: name, Connected: connected, At: time.Now().UTC()})
	if connected {
		b.logger.Info("bot: venue connected", slog.String("venue", name))
		return
	}

	b.logger.Warn("bot: venue disconnected", slog.String("venue", name))
	if b.alerter == nil {
		return
	}
	msg := fmt.Sprintf("%s streams are down; the monitor will not trade on it until its book is reloaded", name)
	if err := b.alerter.Notify(ctx, EventVenueDisconnected, "Venue disconnected", msg); err != nil {
		b.logger.Warn("bot: alert failed", slog.String("error", err.Error()))
	}
}

func (b *Bot) publish(ctx context.Context, ev VenueEvent) {
	if b.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := b.bus.Publish(ctx, domain.ChannelVenue, payload); err != nil {
		b.logger.Warn("bot: publish venue event failed", slog.String("error", err.Error()))
	}
}
