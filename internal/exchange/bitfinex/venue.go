// Package bitfinex adapts the Bitfinex v2 websocket API to
// exchange.Exchange. Orders are placed over the socket and confirmed
// asynchronously through the account channel.
package bitfinex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/confirm"
	"github.com/alanyoungcy/xarb/internal/crypto"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange"
	"github.com/alanyoungcy/xarb/internal/metrics"
	"github.com/alanyoungcy/xarb/internal/stream"
)

// Name is the venue name used in logs, metrics and the operator API.
const Name = "bitfinex"

// orderTypeFOK fills the whole amount at once or cancels, so an order never
// rests on the book.
const orderTypeFOK = "EXCHANGE FOK"

const (
	channelBook    = "book"
	channelCandles = "candles"
	bookLength     = "25"
	candleFrame    = "1m"
)

// Config configures a Venue.
type Config struct {
	// Symbol is the trading symbol without the "t" prefix, e.g. BTCUSD.
	Symbol  string
	Pair    domain.Pair
	Fee     decimal.Decimal
	Candles bool

	RESTURL     string
	WSURL       string
	Credentials crypto.Credentials

	OpenTimeout       time.Duration
	ReconnectInterval time.Duration
	JoinTimeout       time.Duration
	BufferSize        int
	PollInterval      time.Duration

	Dialer stream.Dialer
}

// Venue is the Bitfinex adapter. A router goroutine splits the single
// socket into book, account and candle queues, each drained by its own
// poller.
type Venue struct {
	cfg     Config
	symbol  string
	client  *Client
	state   *exchange.State
	tracker *confirm.Tracker
	ids     *confirm.IDSource
	logger  *slog.Logger

	conn    *stream.Conn
	raw     chan stream.Message
	books   chan stream.Message
	account chan stream.Message
	candles chan stream.Message
	pollers []*stream.Poller[stream.Message]

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the router goroutine.
	channels map[int64]string
}

// New creates a disconnected Bitfinex venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = stream.DefaultBufferSize
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = stream.DefaultJoinTimeout
	}
	base := logger.With(slog.String("venue", Name))
	logger = base.With(slog.String("component", "exchange"))

	v := &Venue{
		cfg:      cfg,
		symbol:   "t" + cfg.Symbol,
		client:   NewClient(cfg.RESTURL, cfg.Credentials),
		state:    exchange.NewState(Name, cfg.Pair, cfg.Fee),
		tracker:  confirm.NewTracker(cfg.PollInterval, base),
		ids:      confirm.NewIDSource(),
		logger:   logger,
		raw:      make(chan stream.Message, cfg.BufferSize),
		books:    make(chan stream.Message, cfg.BufferSize),
		account:  make(chan stream.Message, cfg.BufferSize),
		candles:  make(chan stream.Message, cfg.BufferSize),
		channels: make(map[int64]string),
		ctx:      context.Background(),
	}
	v.conn = stream.New(stream.Config{
		Name:              Name,
		URL:               cfg.WSURL,
		OpenTimeout:       cfg.OpenTimeout,
		ReconnectInterval: cfg.ReconnectInterval,
		JoinTimeout:       cfg.JoinTimeout,
		Out:               v.raw,
		Dialer:            cfg.Dialer,
		OnOpen:            v.onOpen,
	}, base)
	v.pollers = []*stream.Poller[stream.Message]{
		stream.NewPoller(Name+"-router", v.raw, v.route, base),
		stream.NewPoller(Name+"-book", v.books, v.handleBook, base),
		stream.NewPoller(Name+"-account", v.account, v.handleAccount, base),
		stream.NewPoller(Name+"-candles", v.candles, v.handleCandles, base),
	}
	return v
}

// Connect starts the pollers and the socket. Authentication and
// subscriptions are sent on every (re)open.
func (v *Venue) Connect(ctx context.Context) error {
	v.ctx, v.cancel = context.WithCancel(ctx)
	if v.cfg.Credentials.Empty() {
		v.logger.Warn("bitfinex: no api credentials, account channel disabled")
	}
	for _, p := range v.pollers {
		p.Start()
	}
	if err := v.conn.Connect(v.ctx); err != nil {
		return fmt.Errorf("bitfinex: connect: %w", err)
	}
	v.logger.Info("bitfinex: connecting", slog.String("symbol", v.symbol))
	return nil
}

// Disconnect closes the socket, stops the pollers and releases any order
// still waiting for confirmation.
func (v *Venue) Disconnect() error {
	if v.cancel != nil {
		v.cancel()
	}
	errs := []error{v.conn.Disconnect()}
	for _, p := range v.pollers {
		if !p.Stop(v.cfg.JoinTimeout) {
			errs = append(errs, fmt.Errorf("bitfinex: poller did not stop within %s", v.cfg.JoinTimeout))
		}
	}
	v.tracker.Close()
	return errors.Join(errs...)
}

func (v *Venue) onOpen(ctx context.Context, c *stream.Conn) error {
	if !v.cfg.Credentials.Empty() {
		if err := c.Send(v.cfg.Credentials.WSAuthFrame()); err != nil {
			return err
		}
	}
	if err := c.Send(subscribeBook{
		Event:   "subscribe",
		Channel: channelBook,
		Symbol:  v.symbol,
		Prec:    "P0",
		Freq:    "F0",
		Len:     bookLength,
	}); err != nil {
		return err
	}
	if v.cfg.Candles {
		return c.Send(subscribeCandles{
			Event:   "subscribe",
			Channel: channelCandles,
			Key:     "trade:" + candleFrame + ":" + v.symbol,
		})
	}
	return nil
}

// PlaceOrder sends an order over the socket and waits for the account
// channel to report its outcome. There is no timeout beyond ctx.
func (v *Venue) PlaceOrder(ctx context.Context, amount, price decimal.Decimal) (domain.Outcome, error) {
	if v.cfg.Credentials.Empty() {
		return domain.Outcome{}, fmt.Errorf("bitfinex: place order: %w: api credentials not configured", domain.ErrUnauthorized)
	}
	cid := v.ids.Next()
	frame := []any{0, "on", nil, newOrder{
		CID:    cid,
		Type:   orderTypeFOK,
		Symbol: v.symbol,
		Amount: amount.String(),
		Price:  price.String(),
	}}
	v.logger.Info("bitfinex: placing order",
		slog.Int64("cid", cid),
		slog.String("amount", amount.String()),
		slog.String("price", price.String()),
		slog.String("type", orderTypeFOK),
	)

	out, err := v.tracker.Submit(ctx, strconv.FormatInt(cid, 10), func(context.Context) error {
		return v.conn.Send(frame)
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("bitfinex: place order: %w", err)
	}
	v.logger.Info("bitfinex: order resolved", slog.String("outcome", out.String()))
	return out, nil
}

// Withdraw requests a withdrawal from the exchange wallet.
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
func (v *Venue) Connected() bool                { return v.conn.Connected() }
func (v *Venue) Snapshot() domain.VenueSnapshot { return v.state.Dump(v.conn.Connected()) }

func (v *Venue) OrderBook(side domain.Side) []domain.PriceLevel { return v.state.OrderBook(side) }

func (v *Venue) Balances() map[string]decimal.Decimal { return v.state.Balances() }

func (v *Venue) OpenOrders(side domain.OrderSide) map[string]domain.RestingOrder {
	return v.state.OpenOrders(side)
}

var _ exchange.Exchange = (*Venue)(nil)

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

func (v *Venue) route(m stream.Message) {
	switch m.Kind {
	case stream.KindOpened:
		clear(v.channels)
		v.forward(v.books, m)
		return
	case stream.KindData:
	default:
		return
	}

	if len(m.Payload) > 0 && m.Payload[0] == '{' {
		v.onEvent(m.Payload)
		return
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(m.Payload, &frame); err != nil || len(frame) < 2 {
		v.malformed(errors.New("frame is not a channel array"))
		return
	}
	if string(frame[1]) == `"hb"` {
		return
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		v.malformed(fmt.Errorf("channel id: %w", err))
		return
	}

	if chanID == 0 {
		v.forward(v.account, m)
		return
	}
	switch v.channels[chanID] {
	case channelBook:
		v.forward(v.books, stream.Message{Source: m.Source, Kind: stream.KindData, Payload: frame[1], ReceivedAt: m.ReceivedAt})
	case channelCandles:
		v.forward(v.candles, stream.Message{Source: m.Source, Kind: stream.KindData, Payload: frame[1], ReceivedAt: m.ReceivedAt})
	default:
		v.logger.Debug("bitfinex: frame for unknown channel", slog.Int64("chan_id", chanID))
	}
}

func (v *Venue) onEvent(payload json.RawMessage) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		v.malformed(err)
		return
	}

	switch ev.Event {
	case "info":
		if ev.Code == infoRestart || ev.Code == infoMaintenanceDone {
			v.logger.Warn("bitfinex: server asked for reconnect", slog.Int("code", ev.Code))
			v.conn.Reconnect()
		}
	case "auth":
		if ev.Status != "OK" {
			v.logger.Error("bitfinex: authentication failed",
				slog.String("error", fmt.Errorf("%w: %s", domain.ErrUnauthorized, ev.Msg).Error()),
			)
			return
		}
		v.logger.Info("bitfinex: authenticated")
	case "subscribed":
		v.channels[ev.ChanID] = ev.Channel
		v.logger.Info("bitfinex: subscribed",
			slog.String("channel", ev.Channel),
			slog.Int64("chan_id", ev.ChanID),
		)
	case "unsubscribed":
		delete(v.channels, ev.ChanID)
	case "error":
		v.logger.Warn("bitfinex: error event", slog.Int("code", ev.Code), slog.String("msg", ev.Msg))
	}
}

func (v *Venue) forward(q chan<- stream.Message, m stream.Message) {
	select {
	case q <- m:
	case <-v.ctx.Done():
	}
}

func (v *Venue) malformed(err error) {
	metrics.StreamMalformed.WithLabelValues(Name).Inc()
	v.logger.Warn("bitfinex: dropping malformed frame",
		slog.String("error", fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err).Error()),
	)
}

// --------------------------------------------------------------------------
// Channel handlers
// --------------------------------------------------------------------------

// handleBook loads the first frame after a subscribe as the snapshot.
// Updates that arrive while the book is not ready belong to a superseded
// subscription and are dropped.
func (v *Venue) handleBook(m stream.Message) {
	if m.Kind == stream.KindOpened {
		v.state.ResetBook()
		v.logger.Info("bitfinex: socket opened, waiting for book snapshot")
		return
	}

	if isNested(m.Payload) {
		var entries []bookEntry
		if err := json.Unmarshal(m.Payload, &entries); err != nil {
			v.malformed(err)
			return
		}
		bids, asks := bookLevels(entries)
		v.state.LoadSnapshot(domain.DepthSnapshot{Bids: bids, Asks: asks})
		metrics.SnapshotLoads.WithLabelValues(Name, "ok").Inc()
		v.logger.Info("bitfinex: book snapshot loaded",
			slog.Int("bids", len(bids)),
			slog.Int("asks", len(asks)),
		)
		return
	}

	var entry bookEntry
	if err := json.Unmarshal(m.Payload, &entry); err != nil {
		v.malformed(err)
		return
	}
	if !v.state.BookReady() {
		return
	}
	v.state.ApplyBook(domain.BookUpdate{Changes: []domain.LevelChange{entry.change()}})
}

func (v *Venue) handleAccount(m stream.Message) {
	var frame []json.RawMessage
	if err := json.Unmarshal(m.Payload, &frame); err != nil || len(frame) < 3 {
		v.malformed(errors.New("account frame is not an array"))
		return
	}
	var name string
	if err := json.Unmarshal(frame[1], &name); err != nil {
		v.malformed(err)
		return
	}
	payload := frame[2]

	var err error
	switch name {
	case "ws":
		var wallets []wallet
		if err = json.Unmarshal(payload, &wallets); err == nil {
			err = v.applyWallets(wallets...)
		}
	case "wu":
		var w wallet
		if err = json.Unmarshal(payload, &w); err == nil {
			err = v.applyWallets(w)
		}
	case "os":
		var orders []orderFields
		if err = json.Unmarshal(payload, &orders); err == nil {
			err = v.applyOrders(name, orders...)
		}
	case "on", "ou", "oc":
		var o orderFields
		if err = json.Unmarshal(payload, &o); err == nil {
			err = v.applyOrders(name, o)
		}
	case "n":
		err = v.applyNotification(payload)
	default:
		return
	}
	if err != nil {
		v.malformed(fmt.Errorf("%s: %w", name, err))
	}
}

// applyWallets stores exchange wallet balances; margin and funding wallets
// are not tradable here.
func (v *Venue) applyWallets(wallets ...wallet) error {
	updates := make([]domain.BalanceUpdate, 0, len(wallets))
	for _, w := range wallets {
		typ, u, err := w.balance()
		if err != nil {
			return err
		}
		if typ != "exchange" {
			continue
		}
		updates = append(updates, u)
	}
	v.state.ApplyBalances(updates...)
	return nil
}

func (v *Venue) applyOrders(name string, orders ...orderFields) error {
	for _, o := range orders {
		u, symbol, err := o.update()
		if err != nil {
			return err
		}
		if symbol != v.symbol {
			continue
		}
		v.tracker.Deliver(u.ClientID, u.Status, "")

		// oc closes the order whatever its status text says.
		if name == "oc" && !u.Terminal() {
			u.Status = "CANCELED"
		}
		v.state.ApplyOrders(u)
	}
	return nil
}

func (v *Venue) applyNotification(payload json.RawMessage) error {
	n, err := parseNotification(payload)
	if err != nil {
		return err
	}
	if n.Type != "on-req" || n.CID == "" {
		return nil
	}
	status := confirm.StatusPlaceSuccess
	if n.Status != "SUCCESS" {
		status = confirm.StatusPlaceFail
		v.logger.Warn("bitfinex: order request refused", slog.String("cid", n.CID), slog.String("text", n.Text))
	}
	v.tracker.Deliver(n.CID, status, n.Text)
	return nil
}

func (v *Venue) handleCandles(m stream.Message) {
	if isNested(m.Payload) {
		var entries []candleEntry
		if err := json.Unmarshal(m.Payload, &entries); err != nil {
			v.malformed(err)
			return
		}
		for _, e := range entries {
			v.state.UpdateCandle(e.candle())
		}
		return
	}
	var e candleEntry
	if err := json.Unmarshal(m.Payload, &e); err != nil {
		v.malformed(err)
		return
	}
	v.state.UpdateCandle(e.candle())
}
