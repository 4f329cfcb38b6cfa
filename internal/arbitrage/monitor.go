package arbitrage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/metrics"
)

// Venue is the read side of an exchange the monitor evaluates.
type Venue interface {
	Name() string
	OrderBook(side domain.Side) []domain.PriceLevel
	Balances() map[string]decimal.Decimal
	BookReady() bool
	Fee() decimal.Decimal
	Assets() domain.Pair
	Updates() <-chan struct{}
}

// Dispatcher runs a chosen opportunity. Execute must not block and returns
// false when a trade is already in flight.
type Dispatcher interface {
	Busy() bool
	Execute(ctx context.Context, opp domain.Opportunity) bool
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	A, B     Venue
	Executor Dispatcher
	// DryRun reports opportunities without executing them.
	DryRun bool
	// Bus is optional; opportunities are published on it when set.
	Bus domain.SignalBus
	// ReportTTL suppresses repeat reports of an identical opportunity.
	ReportTTL time.Duration
	Logger    *slog.Logger
}

// Monitor re-evaluates both trade directions whenever either venue signals a
// book or order change.
type Monitor struct {
	a, b   Venue
	exec   Dispatcher
	dryRun bool
	bus    domain.SignalBus
	recent *recentSet
	logger *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{
		a:      cfg.A,
		b:      cfg.B,
		exec:   cfg.Executor,
		dryRun: cfg.DryRun,
		bus:    cfg.Bus,
		recent: newRecentSet(cfg.ReportTTL),
		logger: cfg.Logger.With(slog.String("component", "arb_monitor")),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("arb monitor started",
		slog.String("venue_a", m.a.Name()),
		slog.String("venue_b", m.b.Name()),
		slog.Bool("dry_run", m.dryRun),
	)
	defer m.logger.Info("arb monitor stopped")

	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.a.Updates():
			m.Evaluate(ctx)
		case <-m.b.Updates():
			m.Evaluate(ctx)
		case now := <-prune.C:
			m.recent.prune(now)
		}
	}
}

// Evaluate searches both directions against the venues' current books. It
// does nothing until both books are ready.
func (m *Monitor) Evaluate(ctx context.Context) {
	if !m.a.BookReady() || !m.b.BookReady() {
		return
	}
	m.tryDirection(ctx, m.a, m.b)
	m.tryDirection(ctx, m.b, m.a)
}

func (m *Monitor) tryDirection(ctx context.Context, buy, sell Venue) {
	cands := Search(Input{
		BuyVenue:     buy.Name(),
		SellVenue:    sell.Name(),
		Asks:         buy.OrderBook(domain.SideAsk),
		Bids:         sell.OrderBook(domain.SideBid),
		BuyFee:       buy.Fee(),
		SellFee:      sell.Fee(),
		QuoteBalance: buy.Balances()[buy.Assets().Quote],
		BaseBalance:  sell.Balances()[sell.Assets().Base],
	})
	opp, ok := Select(cands)
	if !ok {
		return
	}

	if m.recent.firstSighting(opp, time.Now()) {
		metrics.Opportunities.WithLabelValues(opp.BuyVenue, opp.SellVenue).Inc()
		m.logger.Info("arb monitor: opportunity",
			slog.String("buy_venue", opp.BuyVenue),
			slog.String("sell_venue", opp.SellVenue),
			slog.String("amount", opp.Amount.String()),
			slog.String("buy_price", opp.BuyPrice.String()),
			slog.String("sell_price", opp.SellPrice.String()),
			slog.String("profit", opp.Profit.String()),
			slog.Int("candidates", len(cands)),
		)
		m.publish(ctx, opp)
	}

	if m.dryRun {
		return
	}
	if m.exec.Busy() || !m.exec.Execute(ctx, opp) {
		metrics.SkippedBusy.Inc()
		m.logger.Debug("arb monitor: executor busy, skipping")
	}
}

func (m *Monitor) publish(ctx context.Context, opp domain.Opportunity) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(opp)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.ChannelOpportunity, payload); err != nil {
		m.logger.Warn("arb monitor: publish opportunity failed",
			slog.String("error", err.Error()),
		)
	}
}
