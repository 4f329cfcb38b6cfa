// Package binance adapts the Binance spot API to exchange.Exchange. Orders
// are confirmed synchronously by the REST response.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/confirm"
	"github.com/alanyoungcy/xarb/internal/crypto"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange"
	"github.com/alanyoungcy/xarb/internal/metrics"
	"github.com/alanyoungcy/xarb/internal/stream"
)

// Name is the venue name used in logs, metrics and the operator API.
const Name = "binance"

// DefaultKeepAlive is how often the user stream's listen key is refreshed.
const DefaultKeepAlive = 30 * time.Minute

// Config configures a Venue.
type Config struct {
	Symbol      string
	Pair        domain.Pair
	Fee         decimal.Decimal
	TimeInForce string

	RESTURL     string
	WSURL       string
	Credentials crypto.Credentials

	OpenTimeout       time.Duration
	ReconnectInterval time.Duration
	JoinTimeout       time.Duration
	BufferSize        int
	KeepAlive         time.Duration

	// Dialer overrides the websocket dialer; nil uses gorilla's default.
	Dialer stream.Dialer
}

type snapshotLoaded struct {
	gen  int64
	snap domain.DepthSnapshot
}

type snapshotFailed struct {
	gen int64
	err error
}

// snapshotRetry re-arms the snapshot load once the retry delay has passed.
type snapshotRetry struct {
	gen int64
}

type accountLoaded struct {
	balances []domain.BalanceUpdate
	orders   []domain.OrderUpdate
}

// Venue is the Binance adapter. The depth stream and the user data stream
// share one inbound channel so book and account events are handled in
// arrival order on a single goroutine.
type Venue struct {
	cfg    Config
	client *Client
	state  *exchange.State
	ids    *confirm.IDSource
	logger *slog.Logger
	base   *slog.Logger

	in     chan stream.Message
	depth  *stream.Conn
	user   *stream.Conn
	poller *stream.Poller[stream.Message]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	keyMu     sync.Mutex
	listenKey string
	renewing  atomic.Bool

	// Owned by the handler goroutine.
	gen       int64
	userOpens int
	snapRetry *backoff.ExponentialBackOff
}

// New creates a disconnected Binance venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "FOK"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = stream.DefaultBufferSize
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = stream.DefaultJoinTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	base := logger.With(slog.String("venue", Name))
	logger = base.With(slog.String("component", "exchange"))

	v := &Venue{
		cfg:    cfg,
		client: NewClient(cfg.RESTURL, cfg.Credentials),
		state:  exchange.NewState(Name, cfg.Pair, cfg.Fee),
		ids:    confirm.NewIDSource(),
		logger: logger,
		in:     make(chan stream.Message, cfg.BufferSize),
	}
	v.base = base
	v.snapRetry = backoff.NewExponentialBackOff()
	if cfg.ReconnectInterval > 0 {
		v.snapRetry.InitialInterval = cfg.ReconnectInterval
		v.snapRetry.Reset()
	}
	v.depth = stream.New(v.streamConfig(Name+"-depth", cfg.WSURL+"/"+strings.ToLower(cfg.Symbol)+"@depth"), base)
	v.poller = stream.NewPoller(Name, v.in, v.handle, base)
	return v
}

func (v *Venue) streamConfig(name, url string) stream.Config {
	return stream.Config{
		Name:              name,
		URL:               url,
		OpenTimeout:       v.cfg.OpenTimeout,
		ReconnectInterval: v.cfg.ReconnectInterval,
		JoinTimeout:       v.cfg.JoinTimeout,
		Out:               v.in,
		Dialer:            v.cfg.Dialer,
	}
}

// Connect loads the account, opens the user data stream when credentials
// are configured, and starts the depth stream. The book becomes ready once
// a snapshot has been merged with the buffered depth updates.
func (v *Venue) Connect(ctx context.Context) error {
	v.ctx, v.cancel = context.WithCancel(ctx)

	if !v.cfg.Credentials.Empty() {
		acct, err := v.loadAccount(ctx)
		if err != nil {
			v.cancel()
			return fmt.Errorf("binance: connect: %w", err)
		}
		v.applyAccount(acct)

		key, err := v.client.StartUserStream(ctx)
		if err != nil {
			v.cancel()
			return fmt.Errorf("binance: connect: %w", err)
		}
		v.setListenKey(key)
		cfg := v.streamConfig(Name+"-user", "")
		cfg.URLFunc = v.userURL
		v.user = stream.New(cfg, v.base)

		v.wg.Add(1)
		go v.keepAlive()
	} else {
		v.logger.Warn("binance: no api credentials, account stream disabled")
	}

	v.poller.Start()
	if err := v.depth.Connect(v.ctx); err != nil {
		return fmt.Errorf("binance: connect: %w", err)
	}
	if v.user != nil {
		if err := v.user.Connect(v.ctx); err != nil {
			return fmt.Errorf("binance: connect: %w", err)
		}
	}
	v.logger.Info("binance: connecting", slog.String("symbol", v.cfg.Symbol))
	return nil
}

// Disconnect stops both streams and the handler. It is safe to call more
// than once.
func (v *Venue) Disconnect() error {
	if v.cancel != nil {
		v.cancel()
	}
	var errs []error
	errs = append(errs, v.depth.Disconnect())
	if v.user != nil {
		errs = append(errs, v.user.Disconnect())
	}
	if !v.poller.Stop(v.cfg.JoinTimeout) {
		errs = append(errs, fmt.Errorf("binance: handler did not stop within %s", v.cfg.JoinTimeout))
	}
	v.wg.Wait()

	if key := v.currentListenKey(); key != "" {
		ctx, cancel := context.WithTimeout(context.Background(), v.cfg.JoinTimeout)
		if err := v.client.CloseUserStream(ctx, key); err != nil {
			v.logger.Warn("binance: close user stream failed", slog.String("error", err.Error()))
		}
		cancel()
		v.setListenKey("")
	}
	return errors.Join(errs...)
}

// PlaceOrder submits a LIMIT order. The REST response is the confirmation.
func (v *Venue) PlaceOrder(ctx context.Context, amount, price decimal.Decimal) (domain.Outcome, error) {
	req := domain.OrderRequest{
		ClientID: fmt.Sprintf("xarb-%d", v.ids.Next()),
		Amount:   amount,
		Price:    price,
	}
	v.logger.Info("binance: placing order",
		slog.String("client_id", req.ClientID),
		slog.String("amount", amount.String()),
		slog.String("price", price.String()),
		slog.String("time_in_force", v.cfg.TimeInForce),
	)

	out, err := v.client.NewOrder(ctx, v.cfg.Symbol, v.cfg.TimeInForce, req)
	if err != nil {
		return domain.Outcome{}, err
	}
	if out.Status == domain.OutcomeOpen {
		v.logger.Warn("binance: order left open on the book", slog.String("outcome", out.String()))
		return out, nil
	}
	v.logger.Info("binance: order resolved", slog.String("outcome", out.String()))
	return out, nil
}

// Withdraw requests a withdrawal of asset to address.
func (v *Venue) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address string) (string, error) {
	return v.client.Withdraw(ctx, asset, amount, address)
}

func (v *Venue) Name() string                   { return Name }
func (v *Venue) Fee() decimal.Decimal           { return v.state.Fee() }
func (v *Venue) Assets() domain.Pair            { return v.state.Assets() }
func (v *Venue) BookReady() bool                { return v.state.BookReady() }
func (v *Venue) Updates() <-chan struct{}       { return v.state.Updates() }
func (v *Venue) Candles() []domain.Candle       { return v.state.Candles() }
func (v *Venue) Stat() domain.VenueStat         { return v.state.Stat() }
func (v *Venue) Snapshot() domain.VenueSnapshot { return v.state.Dump(v.Connected()) }

// Connected reports whether the depth stream, and the user stream when
// authenticated, are open.
func (v *Venue) Connected() bool {
	if !v.depth.Connected() {
		return false
	}
	return v.user == nil || v.user.Connected()
}

func (v *Venue) OrderBook(side domain.Side) []domain.PriceLevel { return v.state.OrderBook(side) }

func (v *Venue) Balances() map[string]decimal.Decimal { return v.state.Balances() }

func (v *Venue) OpenOrders(side domain.OrderSide) map[string]domain.RestingOrder {
	return v.state.OpenOrders(side)
}

var _ exchange.Exchange = (*Venue)(nil)

// --------------------------------------------------------------------------
// Handler chain. Everything below runs on the poller goroutine.
// --------------------------------------------------------------------------

func (v *Venue) handle(m stream.Message) {
	switch m.Kind {
	case stream.KindOpened:
		v.onOpened(m.Source)
	case stream.KindLocal:
		v.onLocal(m.Local)
	case stream.KindData:
		v.onData(m.Source, m.Payload)
	}
}

func (v *Venue) onOpened(source string) {
	if source == v.depth.Name() {
		// Continuity with the previous connection is lost.
		v.gen++
		v.state.ResetBook()
		v.logger.Info("binance: depth stream opened, waiting for snapshot")
		return
	}
	v.userOpens++
	if v.userOpens > 1 {
		v.logger.Info("binance: user stream reopened, refreshing account")
		v.goAsync(func(ctx context.Context) stream.Message {
			acct, err := v.loadAccount(ctx)
			if err != nil {
				v.logger.Warn("binance: account refresh failed", slog.String("error", err.Error()))
				return stream.Message{}
			}
			return stream.Local(Name, acct)
		})
	}
}

func (v *Venue) onLocal(ev any) {
	switch ev := ev.(type) {
	case snapshotLoaded:
		if ev.gen != v.gen {
			v.logger.Debug("binance: dropping snapshot from a previous connection")
			return
		}
		replayed, skipped := v.state.LoadSnapshot(ev.snap)
		v.snapRetry.Reset()
		metrics.SnapshotLoads.WithLabelValues(Name, "ok").Inc()
		v.logger.Info("binance: depth snapshot loaded",
			slog.Int64("last_update_id", ev.snap.LastUpdateID),
			slog.Int("replayed", replayed),
			slog.Int("skipped", skipped),
		)
	case snapshotFailed:
		if ev.gen != v.gen {
			return
		}
		metrics.SnapshotLoads.WithLabelValues(Name, "error").Inc()
		wait := v.snapRetry.NextBackOff()
		v.logger.Warn("binance: depth snapshot failed",
			slog.String("error", ev.err.Error()),
			slog.Duration("retry_in", wait),
		)
		gen := ev.gen
		v.goAsync(func(ctx context.Context) stream.Message {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return stream.Message{}
			case <-timer.C:
				return stream.Local(Name, snapshotRetry{gen: gen})
			}
		})
	case snapshotRetry:
		if ev.gen != v.gen {
			return
		}
		v.state.SnapshotFailed()
	case accountLoaded:
		v.applyAccount(ev)
	}
}

func (v *Venue) onData(source string, payload json.RawMessage) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		v.malformed(source, err)
		return
	}

	switch env.Event {
	case eventDepthUpdate:
		var ev depthEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			v.malformed(source, err)
			return
		}
		if v.state.ApplyBook(ev.update()) {
			v.fetchSnapshot()
		}
	case eventExecutionReport:
		var ev executionReport
		if err := json.Unmarshal(payload, &ev); err != nil {
			v.malformed(source, err)
			return
		}
		if ev.Symbol != v.cfg.Symbol {
			return
		}
		v.state.ApplyOrders(ev.orderUpdate())
	case eventAccountPosition, eventAccountInfo:
		var ev accountEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			v.malformed(source, err)
			return
		}
		v.state.ApplyBalances(ev.balanceUpdates()...)
	case eventListenKeyExpiry:
		var ev listenKeyExpired
		if err := json.Unmarshal(payload, &ev); err != nil {
			v.malformed(source, err)
			return
		}
		if ev.ListenKey != "" && ev.ListenKey != v.currentListenKey() {
			v.logger.Debug("binance: ignoring expiry of a replaced listen key")
			return
		}
		v.logger.Warn("binance: listen key expired")
		v.goAsync(func(ctx context.Context) stream.Message {
			v.renewListenKey(ctx)
			return stream.Message{}
		})
	default:
		v.logger.Debug("binance: ignoring event", slog.String("event", env.Event))
	}
}

// fetchSnapshot loads the REST depth snapshot off the handler goroutine and
// posts the result back onto the inbound channel.
func (v *Venue) fetchSnapshot() {
	gen := v.gen
	v.logger.Info("binance: requesting depth snapshot", slog.Int("buffered", v.state.BufferedUpdates()))
	v.goAsync(func(ctx context.Context) stream.Message {
		snap, err := v.client.Depth(ctx, v.cfg.Symbol)
		if err != nil {
			return stream.Local(Name, snapshotFailed{gen: gen, err: err})
		}
		return stream.Local(Name, snapshotLoaded{gen: gen, snap: snap})
	})
}

// goAsync runs fn on its own goroutine and enqueues the message it returns.
// A zero message is not enqueued.
func (v *Venue) goAsync(fn func(ctx context.Context) stream.Message) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		m := fn(v.ctx)
		if m.Local == nil {
			return
		}
		select {
		case v.in <- m:
		case <-v.ctx.Done():
		}
	}()
}

func (v *Venue) malformed(source string, err error) {
	metrics.StreamMalformed.WithLabelValues(source).Inc()
	v.logger.Warn("binance: dropping malformed event",
		slog.String("conn", source),
		slog.String("error", fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err).Error()),
	)
}

// --------------------------------------------------------------------------
// Account helpers
// --------------------------------------------------------------------------

func (v *Venue) loadAccount(ctx context.Context) (accountLoaded, error) {
	balances, err := v.client.Balances(ctx)
	if err != nil {
		return accountLoaded{}, err
	}
	orders, err := v.client.OpenOrders(ctx, v.cfg.Symbol)
	if err != nil {
		return accountLoaded{}, err
	}
	return accountLoaded{balances: balances, orders: orders}, nil
}

func (v *Venue) applyAccount(a accountLoaded) {
	v.state.ApplyBalances(a.balances...)
	v.state.ApplyOrders(a.orders...)
	v.logger.Info("binance: account loaded",
		slog.Int("balances", len(a.balances)),
		slog.Int("open_orders", len(a.orders)),
	)
}

func (v *Venue) keepAlive() {
	defer v.wg.Done()

	ticker := time.NewTicker(v.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			if err := v.client.KeepAliveUserStream(v.ctx, v.currentListenKey()); err != nil {
				v.logger.Warn("binance: listen key keepalive failed, renewing", slog.String("error", err.Error()))
				v.renewListenKey(v.ctx)
			}
		}
	}
}

// renewListenKey obtains a listen key and reconnects the user stream to it,
// retrying with exponential backoff until it succeeds or ctx is done.
// Concurrent calls collapse into the one already running.
func (v *Venue) renewListenKey(ctx context.Context) {
	if !v.renewing.CompareAndSwap(false, true) {
		return
	}
	defer v.renewing.Store(false)

	bo := backoff.NewExponentialBackOff()
	for {
		key, err := v.client.StartUserStream(ctx)
		if err == nil {
			v.setListenKey(key)
			v.logger.Info("binance: listen key renewed")
			v.user.Reconnect()
			return
		}
		wait := bo.NextBackOff()
		v.logger.Warn("binance: listen key renewal failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (v *Venue) userURL() string {
	return v.cfg.WSURL + "/" + v.currentListenKey()
}

func (v *Venue) currentListenKey() string {
	v.keyMu.Lock()
	defer v.keyMu.Unlock()
	return v.listenKey
}

func (v *Venue) setListenKey(key string) {
	v.keyMu.Lock()
	v.listenKey = key
	v.keyMu.Unlock()
}
