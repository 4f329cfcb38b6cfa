package arbitrage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

type fakeVenue struct {
	name     string
	asks     []domain.PriceLevel
	bids     []domain.PriceLevel
	balances map[string]decimal.Decimal
	ready    bool
	updates  chan struct{}
}

func newFakeVenue(name string) *fakeVenue {
	return &fakeVenue{
		name:     name,
		balances: map[string]decimal.Decimal{"BTC": plenty, "USD": plenty},
		ready:    true,
		updates:  make(chan struct{}, 1),
	}
}

func (v *fakeVenue) Name() string { return v.name }
func (v *fakeVenue) OrderBook(side domain.Side) []domain.PriceLevel {
	if side == domain.SideAsk {
		return v.asks
	}
	return v.bids
}
func (v *fakeVenue) Balances() map[string]decimal.Decimal { return v.balances }
func (v *fakeVenue) BookReady() bool                      { return v.ready }
func (v *fakeVenue) Fee() decimal.Decimal                 { return decimal.Zero }
func (v *fakeVenue) Assets() domain.Pair                  { return domain.Pair{Base: "BTC", Quote: "USD"} }
func (v *fakeVenue) Updates() <-chan struct{}             { return v.updates }

type fakeDispatcher struct {
	mu       sync.Mutex
	busy     bool
	executed []domain.Opportunity
}

func (f *fakeDispatcher) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeDispatcher) Execute(_ context.Context, opp domain.Opportunity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.busy = true
	f.executed = append(f.executed, opp)
	return true
}

func (f *fakeDispatcher) calls() []domain.Opportunity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Opportunity(nil), f.executed...)
}

type fakeBus struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent == nil {
		b.sent = make(map[string][][]byte)
	}
	b.sent[channel] = append(b.sent[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func spreadVenues() (*fakeVenue, *fakeVenue) {
	a, b := newFakeVenue("binance"), newFakeVenue("bitfinex")
	a.asks = levels("100", "10")
	a.bids = levels("99", "10")
	b.asks = levels("106", "10")
	b.bids = levels("105", "10")
	return a, b
}

func TestMonitorExecutesProfitableDirection(t *testing.T) {
	a, b := spreadVenues()
	exec := &fakeDispatcher{}
	m := NewMonitor(MonitorConfig{A: a, B: b, Executor: exec, Logger: quietLogger()})

	m.Evaluate(context.Background())

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "binance", calls[0].BuyVenue)
	assert.Equal(t, "bitfinex", calls[0].SellVenue)
	assert.Equal(t, "5", calls[0].Amount.String())
}

func TestMonitorWaitsForBothBooks(t *testing.T) {
	a, b := spreadVenues()
	b.ready = false
	exec := &fakeDispatcher{}
	m := NewMonitor(MonitorConfig{A: a, B: b, Executor: exec, Logger: quietLogger()})

	m.Evaluate(context.Background())
	assert.Empty(t, exec.calls())
}

func TestMonitorSkipsWhenBusy(t *testing.T) {
	a, b := spreadVenues()
	exec := &fakeDispatcher{busy: true}
	m := NewMonitor(MonitorConfig{A: a, B: b, Executor: exec, Logger: quietLogger()})

	m.Evaluate(context.Background())
	assert.Empty(t, exec.calls())
}

func TestMonitorMissingBalanceMeansNoTrade(t *testing.T) {
	a, b := spreadVenues()
	delete(a.balances, "USD")
	exec := &fakeDispatcher{}
	m := NewMonitor(MonitorConfig{A: a, B: b, Executor: exec, Logger: quietLogger()})

	m.Evaluate(context.Background())
	assert.Empty(t, exec.calls())
}

func TestMonitorDryRunPublishesOnce(t *testing.T) {
	a, b := spreadVenues()
	exec := &fakeDispatcher{}
	bus := &fakeBus{}
	m := NewMonitor(MonitorConfig{A: a, B: b, Executor: exec, DryRun: true, Bus: bus, ReportTTL: time.Minute, Logger: quietLogger()})

	m.Evaluate(context.Background())
	m.Evaluate(context.Background())

	assert.Empty(t, exec.calls())
	sent := bus.sent[domain.ChannelOpportunity]
	require.Len(t, sent, 1)

	var opp domain.Opportunity
	require.NoError(t, json.Unmarshal(sent[0], &opp))
	assert.Equal(t, "binance", opp.BuyVenue)
	assert.Equal(t, "5", opp.Profit.Div(opp.Amount).String())
}

func TestMonitorRunReactsToUpdates(t *testing.T) {
	a, b := spreadVenues()
	exec := &fakeDispatcher{}
	m := NewMonitor(MonitorConfig{A: a, B: b, Executor: exec, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	b.updates <- struct{}{}
	assert.Eventually(t, func() bool { return len(exec.calls()) == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
