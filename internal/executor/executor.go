// Package executor runs two-leg arbitrage trades, at most one at a time.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/metrics"
)

// Alert event names.
const (
	EventPartialExecution = "partial_execution"
	EventLegFailed        = "leg_failed"
	EventTradeFilled      = "trade_filled"
)

// DefaultLockKey is the distributed lock guarding trades across processes
// that share the same venue accounts.
const DefaultLockKey = "xarb:lock:execution"

// LegVenue places one leg of a trade. Amount is signed: positive buys.
type LegVenue interface {
	Name() string
	PlaceOrder(ctx context.Context, amount, price decimal.Decimal) (domain.Outcome, error)
}

// Alerter delivers operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config configures an Executor. Everything but Venues and Logger is optional.
type Config struct {
	Venues  []LegVenue
	Alerter Alerter
	Bus     domain.SignalBus
	Locker  domain.LockManager
	LockKey string
	LockTTL time.Duration
	// OnReport is called with every finished trade before busy is cleared.
	OnReport func(domain.ExecutionReport)
	Logger   *slog.Logger
}

// Executor dispatches both legs of a trade concurrently and refuses new
// trades while one is in flight. It never unwinds a lone filled leg; a
// partial result is reported and alerted.
type Executor struct {
	venues   map[string]LegVenue
	alerter  Alerter
	bus      domain.SignalBus
	locker   domain.LockManager
	lockKey  string
	lockTTL  time.Duration
	onReport func(domain.ExecutionReport)
	logger   *slog.Logger

	busy atomic.Bool
	wg   sync.WaitGroup

	mu     sync.Mutex
	active *domain.Trade
	last   *domain.ExecutionReport
}

// New creates an Executor.
func New(cfg Config) *Executor {
	venues := make(map[string]LegVenue, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues[v.Name()] = v
	}
	lockKey := cfg.LockKey
	if lockKey == "" {
		lockKey = DefaultLockKey
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Executor{
		venues:   venues,
		alerter:  cfg.Alerter,
		bus:      cfg.Bus,
		locker:   cfg.Locker,
		lockKey:  lockKey,
		lockTTL:  lockTTL,
		onReport: cfg.OnReport,
		logger:   cfg.Logger.With(slog.String("component", "executor")),
	}
}

// Busy reports whether a trade is in flight.
func (e *Executor) Busy() bool { return e.busy.Load() }

// Active returns the in-flight trade, if any.
func (e *Executor) Active() (domain.Trade, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return domain.Trade{}, false
	}
	return *e.active, true
}

// LastReport returns the most recent finished trade, if any.
func (e *Executor) LastReport() (domain.ExecutionReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return domain.ExecutionReport{}, false
	}
	return *e.last, true
}

// Execute starts a trade for opp and returns true, or returns false at once
// when another trade is in flight or a venue is unknown. It never blocks on
// the legs. Legs are not cancelled by ctx once dispatched.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) bool {
	buy, okBuy := e.venues[opp.BuyVenue]
	sell, okSell := e.venues[opp.SellVenue]
	if !okBuy || !okSell {
		e.logger.Error("executor: unknown venue",
			slog.String("buy_venue", opp.BuyVenue),
			slog.String("sell_venue", opp.SellVenue),
		)
		return false
	}

	if !e.busy.CompareAndSwap(false, true) {
		return false
	}

	trade := domain.Trade{
		ID:          uuid.NewString(),
		Opportunity: opp,
		StartedAt:   time.Now().UTC(),
	}
	e.mu.Lock()
	e.active = &trade
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(context.WithoutCancel(ctx), trade, buy, sell)
	return true
}

// Wait blocks until the in-flight trade, if any, has finished.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: wait: %w", ctx.Err())
	}
}

func (e *Executor) run(ctx context.Context, trade domain.Trade, buy, sell LegVenue) {
	defer e.wg.Done()

	log := e.logger.With(slog.String("trade_id", trade.ID))

	if e.locker != nil {
		unlock, err := e.locker.Acquire(ctx, e.lockKey, e.lockTTL)
		if err != nil {
			log.Warn("executor: trade lock unavailable, dropping trade",
				slog.String("error", err.Error()),
			)
			e.reset()
			return
		}
		defer unlock()
	}

	opp := trade.Opportunity
	log.Info("executor: dispatching legs",
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.String("amount", opp.Amount.String()),
		slog.String("buy_price", opp.BuyPrice.String()),
		slog.String("sell_price", opp.SellPrice.String()),
	)

	var sellRes, buyRes domain.LegResult
	var g errgroup.Group
	g.Go(func() error {
		sellRes = e.leg(ctx, log, sell, opp.Amount.Neg(), opp.SellPrice)
		return nil
	})
	g.Go(func() error {
		buyRes = e.leg(ctx, log, buy, opp.Amount, opp.BuyPrice)
		return nil
	})
	_ = g.Wait()

	report := domain.ExecutionReport{
		Trade:      trade,
		Sell:       sellRes,
		Buy:        buyRes,
		Status:     classify(sellRes, buyRes),
		FinishedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	e.last = &report
	e.mu.Unlock()
	if e.onReport != nil {
		e.onReport(report)
	}
	e.reset()

	metrics.Executions.WithLabelValues(string(report.Status)).Inc()
	metrics.ExecutionLatency.Observe(report.FinishedAt.Sub(trade.StartedAt).Seconds())
	e.report(ctx, log, report)
}

func (e *Executor) leg(ctx context.Context, log *slog.Logger, v LegVenue, amount, price decimal.Decimal) domain.LegResult {
	res := domain.LegResult{Venue: v.Name(), Amount: amount, Price: price}
	res.Outcome, res.Err = v.PlaceOrder(ctx, amount, price)

	attrs := []any{
		slog.String("venue", res.Venue),
		slog.String("side", string(domain.SideForAmount(amount))),
		slog.String("amount", amount.String()),
		slog.String("price", price.String()),
	}
	switch {
	case res.Err != nil:
		log.Error("executor: leg failed", append(attrs, slog.String("error", res.Err.Error()))...)
	case !res.Outcome.Filled():
		log.Warn("executor: leg not filled", append(attrs, slog.String("outcome", res.Outcome.String()))...)
	default:
		log.Info("executor: leg filled", append(attrs, slog.String("cid", res.Outcome.ClientID))...)
	}
	return res
}

func (e *Executor) reset() {
	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()
	e.busy.Store(false)
}

func (e *Executor) report(ctx context.Context, log *slog.Logger, r domain.ExecutionReport) {
	attrs := []any{
		slog.String("status", string(r.Status)),
		slog.Duration("elapsed", r.FinishedAt.Sub(r.Trade.StartedAt)),
	}
	if err := r.Err(); err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	log.Info("executor: trade finished", attrs...)

	if e.bus != nil {
		if payload, err := json.Marshal(r); err == nil {
			if err := e.bus.Publish(ctx, domain.ChannelExecution, payload); err != nil {
				log.Warn("executor: publish report failed", slog.String("error", err.Error()))
			}
		}
	}

	if e.alerter == nil {
		return
	}
	var err error
	switch r.Status {
	case domain.ExecFilled:
		err = e.alerter.Notify(ctx, EventTradeFilled, "Arbitrage filled", describe(r))
	case domain.ExecPartial:
		err = e.alerter.Notify(ctx, EventPartialExecution, "PARTIAL EXECUTION: manual action required", describe(r))
	case domain.ExecFailed:
		err = e.alerter.Notify(ctx, EventLegFailed, "Arbitrage legs failed", describe(r))
	}
	if err != nil {
		log.Warn("executor: alert failed", slog.String("error", err.Error()))
	}
}

func classify(sell, buy domain.LegResult) domain.ExecStatus {
	switch {
	case sell.Filled() && buy.Filled():
		return domain.ExecFilled
	case sell.Exposed() || buy.Exposed():
		return domain.ExecPartial
	default:
		return domain.ExecFailed
	}
}

func describe(r domain.ExecutionReport) string {
	return fmt.Sprintf("trade %s\nsell %s on %s @ %s: %s\nbuy %s on %s @ %s: %s",
		r.Trade.ID,
		r.Sell.Amount.Neg(), r.Sell.Venue, r.Sell.Price, legState(r.Sell),
		r.Buy.Amount, r.Buy.Venue, r.Buy.Price, legState(r.Buy),
	)
}

func legState(l domain.LegResult) string {
	if l.Err != nil {
		return "error: " + l.Err.Error()
	}
	return l.Outcome.String()
}
