package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDialer struct {
	mu    sync.Mutex
	calls []time.Time
	dial  func(ctx context.Context) error
}

func (d *recordingDialer) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	d.mu.Lock()
	d.calls = append(d.calls, time.Now())
	d.mu.Unlock()
	return nil, nil, d.dial(ctx)
}

func (d *recordingDialer) snapshot() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.calls...)
}

func TestConnRetriesOncePerFailureAfterBackoff(t *testing.T) {
	const interval = 40 * time.Millisecond
	dialer := &recordingDialer{dial: func(context.Context) error { return errors.New("connection refused") }}
	c := New(Config{Name: "fail", URL: "ws://unused", ReconnectInterval: interval, Dialer: dialer}, discardLogger())
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, c.ReconnectRequired, time.Second, time.Millisecond)
	assert.False(t, c.Connected())

	require.Eventually(t, func() bool { return len(dialer.snapshot()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Disconnect())

	calls := dialer.snapshot()
	for i := 1; i < len(calls); i++ {
		gap := calls[i].Sub(calls[i-1])
		assert.GreaterOrEqual(t, gap, interval-time.Millisecond, "attempt %d came after %s", i, gap)
	}
	assert.False(t, c.ReconnectRequired(), "disconnect clears the retry flag")
}

func TestConnOpenWatchdogForcesRetry(t *testing.T) {
	dialer := &recordingDialer{dial: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c := New(Config{
		Name:              "hang",
		URL:               "ws://unused",
		OpenTimeout:       30 * time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
		Dialer:            dialer,
	}, discardLogger())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	assert.Eventually(t, func() bool { return len(dialer.snapshot()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.Connected())
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnDeliversParsedMessagesAndDropsMalformed(t *testing.T) {
	var upgrader websocket.Upgrader
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, sub, err := ws.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(sub)

		ws.WriteMessage(websocket.TextMessage, []byte(`{"e":"one"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`not-json`))
		ws.WriteMessage(websocket.TextMessage, []byte(`[1,2]`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(Config{
		Name: "ok",
		URL:  wsURL(srv),
		OnOpen: func(ctx context.Context, c *Conn) error {
			return c.Send(map[string]string{"op": "subscribe"})
		},
	}, discardLogger())
	require.NoError(t, c.Connect(context.Background()))

	assert.JSONEq(t, `{"op":"subscribe"}`, <-subscribed)

	first := recv(t, c)
	assert.Equal(t, KindOpened, first.Kind)
	assert.Equal(t, "ok", first.Source)

	msg := recv(t, c)
	assert.Equal(t, KindData, msg.Kind)
	assert.JSONEq(t, `{"e":"one"}`, string(msg.Payload))
	assert.False(t, msg.ReceivedAt.IsZero())

	msg = recv(t, c)
	assert.JSONEq(t, `[1,2]`, string(msg.Payload))
	assert.True(t, c.Connected())

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
	assert.True(t, c.DisconnectRequested())
	assert.Error(t, c.Connect(context.Background()))
}

func TestConnReconnectsAfterServerClose(t *testing.T) {
	var upgrader websocket.Upgrader
	var opens atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		opens.Add(1)
		ws.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`))
		ws.Close()
	}))
	defer srv.Close()

	c := New(Config{Name: "flaky", URL: wsURL(srv), ReconnectInterval: 20 * time.Millisecond}, discardLogger())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	openedSeen := 0
	deadline := time.After(3 * time.Second)
	for openedSeen < 2 {
		select {
		case m := <-c.Messages():
			if m.Kind == KindOpened {
				openedSeen++
			}
		case <-deadline:
			t.Fatalf("saw %d opens, want 2", openedSeen)
		}
	}
	assert.GreaterOrEqual(t, opens.Load(), int32(2))
}

func TestDisconnectWithoutConnect(t *testing.T) {
	c := New(Config{Name: "idle", URL: "ws://unused"}, discardLogger())
	assert.NoError(t, c.Disconnect())
	assert.NoError(t, c.Disconnect())
	assert.True(t, c.DisconnectRequested())
}

func recv(t *testing.T, c *Conn) Message {
	t.Helper()
	select {
	case m := <-c.Messages():
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}
