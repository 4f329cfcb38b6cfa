// Package stream provides the resilient streaming connection and the
// sequential event poller every venue feed is built from.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	DefaultOpenTimeout       = 30 * time.Second
	DefaultReconnectInterval = 10 * time.Second
	DefaultJoinTimeout       = time.Second
	DefaultBufferSize        = 1024
)

// Kind tags what a Message carries.
type Kind int

const (
	// KindData is a parsed inbound frame.
	KindData Kind = iota
	// KindOpened marks a successful (re)open of the connection.
	KindOpened
	// KindLocal is an event injected by the channel's owner.
	KindLocal
)

// Message is one entry on an inbound channel.
type Message struct {
	Source     string
	Kind       Kind
	Payload    json.RawMessage
	Local      any
	ReceivedAt time.Time
}

// Local wraps an owner-side event so it is handled in order with the feed.
func Local(source string, v any) Message {
	return Message{Source: source, Kind: KindLocal, Local: v, ReceivedAt: time.Now()}
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config configures a Conn.
type Config struct {
	Name              string
	URL               string
	OpenTimeout       time.Duration
	ReconnectInterval time.Duration
	JoinTimeout       time.Duration

	// Out receives parsed messages. When nil, Conn allocates a channel of
	// BufferSize.
	Out        chan Message
	BufferSize int

	Dialer Dialer

	// URLFunc, when set, is called before every dial and overrides URL. It
	// lets the owner rotate credentials embedded in the URL.
	URLFunc func() string

	// OnOpen runs after every successful handshake, before the connection is
	// reported as connected. An error forces a reconnect.
	OnOpen func(ctx context.Context, c *Conn) error
}

// Conn is a websocket connection that keeps itself open. It reconnects on
// any transport error, close or open timeout until Disconnect is called.
type Conn struct {
	cfg     Config
	out     chan Message
	backoff *backoff.ConstantBackOff
	logger  *slog.Logger

	connected           atomic.Bool
	reconnectRequired   atomic.Bool
	disconnectRequested atomic.Bool
	started             atomic.Bool

	mu            sync.Mutex
	ws            *websocket.Conn
	cancelAttempt context.CancelFunc
	writeMu       sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Conn. Call Connect to start it.
func New(cfg Config, logger *slog.Logger) *Conn {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: cfg.OpenTimeout}
	}
	out := cfg.Out
	if out == nil {
		out = make(chan Message, cfg.BufferSize)
	}
	return &Conn{
		cfg:     cfg,
		out:     out,
		backoff: backoff.NewConstantBackOff(cfg.ReconnectInterval),
		logger:  logger.With(slog.String("component", "stream"), slog.String("conn", cfg.Name)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Messages returns the inbound channel.
func (c *Conn) Messages() <-chan Message { return c.out }

// Name returns the configured connection name.
func (c *Conn) Name() string { return c.cfg.Name }

// Connected reports whether the connection is open.
func (c *Conn) Connected() bool { return c.connected.Load() }

// ReconnectRequired reports whether the last attempt failed and a retry is
// pending.
func (c *Conn) ReconnectRequired() bool { return c.reconnectRequired.Load() }

// DisconnectRequested reports whether Disconnect has been called.
func (c *Conn) DisconnectRequested() bool { return c.disconnectRequested.Load() }

// Connect starts the run loop. It returns immediately; progress is reported
// through the inbound channel and the state accessors.
func (c *Conn) Connect(ctx context.Context) error {
	if c.disconnectRequested.Load() {
		return fmt.Errorf("stream: connect %s: already disconnected", c.cfg.Name)
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	go c.run(ctx)
	return nil
}

// Reconnect drops the current connection and lets the run loop retry.
func (c *Conn) Reconnect() {
	c.connected.Store(false)
	c.reconnectRequired.Store(true)
	c.closeCurrent(false)
}

// Disconnect stops the connection for good. It is idempotent and waits at
// most the join timeout for the run loop to exit.
func (c *Conn) Disconnect() error {
	c.stopOnce.Do(func() {
		c.disconnectRequested.Store(true)
		c.reconnectRequired.Store(false)
		c.connected.Store(false)
		close(c.stop)
		c.closeCurrent(true)
	})
	if !c.started.Load() {
		return nil
	}
	select {
	case <-c.done:
	case <-time.After(c.cfg.JoinTimeout):
		c.logger.Warn("stream: run loop did not exit within join timeout",
			slog.Duration("timeout", c.cfg.JoinTimeout),
		)
	}
	return nil
}

// Send writes v as a JSON text frame.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("stream: send %s: %w: not connected", c.cfg.Name, domain.ErrTransport)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(v); err != nil {
		return fmt.Errorf("stream: send %s: %w: %w", c.cfg.Name, domain.ErrTransport, err)
	}
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	for {
		if c.disconnectRequested.Load() {
			return
		}

		err := c.attempt(ctx)
		c.connected.Store(false)

		if c.disconnectRequested.Load() || ctx.Err() != nil {
			return
		}

		c.reconnectRequired.Store(true)
		metrics.StreamReconnects.WithLabelValues(c.cfg.Name).Inc()
		wait := c.backoff.NextBackOff()
		attrs := []any{slog.Duration("backoff", wait)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		c.logger.Warn("stream: connection lost, reconnecting", attrs...)

		timer := time.NewTimer(wait)
		select {
		case <-c.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attempt performs one connect-and-read cycle and returns why it ended.
func (c *Conn) attempt(ctx context.Context) error {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancelAttempt = cancel
	c.mu.Unlock()

	watchdog := time.AfterFunc(c.cfg.OpenTimeout, func() {
		c.logger.Warn("stream: open timed out", slog.Duration("timeout", c.cfg.OpenTimeout))
		c.Reconnect()
	})
	defer watchdog.Stop()

	url := c.url()
	ws, _, err := c.cfg.Dialer.DialContext(actx, url, nil)
	if err != nil {
		return fmt.Errorf("stream: dial %s: %w: %w", c.cfg.Name, domain.ErrTransport, err)
	}

	c.mu.Lock()
	if c.disconnectRequested.Load() || actx.Err() != nil {
		c.mu.Unlock()
		ws.Close()
		return actx.Err()
	}
	c.ws = ws
	c.mu.Unlock()

	stopWatch := context.AfterFunc(actx, func() { ws.Close() })
	defer stopWatch()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.cancelAttempt = nil
		c.mu.Unlock()
		ws.Close()
	}()

	if c.cfg.OnOpen != nil {
		if err := c.cfg.OnOpen(actx, c); err != nil {
			return fmt.Errorf("stream: on open %s: %w", c.cfg.Name, err)
		}
	}
	if !watchdog.Stop() {
		return fmt.Errorf("stream: open %s: %w: open timed out", c.cfg.Name, domain.ErrTransport)
	}

	c.connected.Store(true)
	c.reconnectRequired.Store(false)
	c.backoff.Reset()
	c.logger.Info("stream: connected", slog.String("url", url))
	c.push(Message{Source: c.cfg.Name, Kind: KindOpened, ReceivedAt: time.Now()})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(ws, pingDone)

	return c.readLoop(ws)
}

func (c *Conn) url() string {
	if c.cfg.URLFunc != nil {
		return c.cfg.URLFunc()
	}
	return c.cfg.URL
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.disconnectRequested.Load() {
				return nil
			}
			return fmt.Errorf("stream: read %s: %w: %w", c.cfg.Name, domain.ErrTransport, err)
		}
		received := time.Now()
		ws.SetReadDeadline(received.Add(pongWait))

		if !json.Valid(data) {
			metrics.StreamMalformed.WithLabelValues(c.cfg.Name).Inc()
			c.logger.Warn("stream: dropping malformed message",
				slog.String("error", domain.ErrMalformedMessage.Error()),
				slog.Int("bytes", len(data)),
			)
			continue
		}
		c.push(Message{Source: c.cfg.Name, Kind: KindData, Payload: data, ReceivedAt: received})
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) push(m Message) {
	select {
	case c.out <- m:
	case <-c.stop:
	}
}

// closeCurrent tears down the in-flight attempt. A graceful close sends a
// close frame first.
func (c *Conn) closeCurrent(graceful bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelAttempt != nil {
		c.cancelAttempt()
	}
	if c.ws == nil {
		return
	}
	if graceful {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.JoinTimeout),
		)
		c.writeMu.Unlock()
	}
	c.ws.Close()
}
