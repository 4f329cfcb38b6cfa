package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/crypto"
	"github.com/alanyoungcy/xarb/internal/domain"
)

var testCreds = crypto.Credentials{Key: "api-key", Secret: "api-secret"}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, testCreds)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestNewOrder_SignsAndMapsFilled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("X-MBX-APIKEY"))

		raw := r.URL.RawQuery
		i := strings.LastIndex(raw, "&signature=")
		require.Positive(t, i)
		assert.Equal(t, testCreds.SignQuery(raw[:i]), raw[i+len("&signature="):])

		q := r.URL.Query()
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "FOK", q.Get("timeInForce"))
		assert.Equal(t, "0.5", q.Get("quantity"))
		assert.Equal(t, "101.25", q.Get("price"))
		assert.Equal(t, "xarb-7", q.Get("newClientOrderId"))
		assert.Equal(t, "1700000000000", q.Get("timestamp"))

		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":1,"clientOrderId":"xarb-7","status":"FILLED","side":"SELL"}`))
	})

	out, err := c.NewOrder(context.Background(), "BTCUSDT", "FOK", domain.OrderRequest{
		ClientID: "xarb-7",
		Amount:   decimal.RequireFromString("-0.5"),
		Price:    decimal.RequireFromString("101.25"),
	})
	require.NoError(t, err)
	assert.True(t, out.Filled())
	assert.Equal(t, "xarb-7", out.ClientID)
}

func TestNewOrder_APIErrorIsRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})

	out, err := c.NewOrder(context.Background(), "BTCUSDT", "FOK", domain.OrderRequest{
		ClientID: "xarb-1",
		Amount:   decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, out.Status)
	assert.Contains(t, out.Detail, "insufficient balance")
}

func TestNewOrder_ServerErrorIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.NewOrder(context.Background(), "BTCUSDT", "FOK", domain.OrderRequest{
		ClientID: "xarb-1",
		Amount:   decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestCheckStatus(t *testing.T) {
	assert.ErrorIs(t, checkStatus(http.StatusTooManyRequests, nil), domain.ErrRateLimited)
	assert.ErrorIs(t, checkStatus(http.StatusTeapot, nil), domain.ErrRateLimited)
	assert.ErrorIs(t, checkStatus(http.StatusUnauthorized, []byte(`{"code":-2015,"msg":"Invalid API-key"}`)), domain.ErrUnauthorized)
	assert.NoError(t, checkStatus(http.StatusOK, nil))
}

func TestNewOrder_StatusMapping(t *testing.T) {
	tests := []struct {
		body     string
		want     domain.OutcomeStatus
		executed string
		exposed  bool
	}{
		{`{"status":"FILLED","executedQty":"1.0"}`, domain.OutcomeFilled, "1", true},
		{`{"status":"EXPIRED","executedQty":"0.0"}`, domain.OutcomeCanceled, "0", false},
		{`{"status":"EXPIRED","executedQty":"0.3"}`, domain.OutcomeCanceled, "0.3", true},
		{`{"status":"EXPIRED_IN_MATCH","executedQty":"0"}`, domain.OutcomeCanceled, "0", false},
		{`{"status":"CANCELED","executedQty":"0.1"}`, domain.OutcomeCanceled, "0.1", true},
		{`{"status":"NEW","executedQty":"0"}`, domain.OutcomeOpen, "0", true},
		{`{"status":"PARTIALLY_FILLED","executedQty":"0.2"}`, domain.OutcomeOpen, "0.2", true},
		{`{"status":"PENDING_CANCEL","executedQty":"0"}`, domain.OutcomeOpen, "0", true},
		{`{"status":"REJECTED"}`, domain.OutcomeRejected, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "IOC", r.URL.Query().Get("timeInForce"))
				w.Write([]byte(tt.body))
			})

			out, err := c.NewOrder(context.Background(), "BTCUSDT", "IOC", domain.OrderRequest{
				ClientID: "xarb-3",
				Amount:   decimal.NewFromInt(1),
				Price:    decimal.NewFromInt(100),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, "xarb-3", out.ClientID)
			assert.True(t, out.Executed.Equal(decimal.RequireFromString(tt.executed)), "executed %s", out.Executed)
			assert.Equal(t, tt.exposed, out.Exposed())
		})
	}
}

func TestWithdraw(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sapi/v1/capital/withdraw/apply", r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("X-MBX-APIKEY"))

		raw := r.URL.RawQuery
		i := strings.LastIndex(raw, "&signature=")
		require.Positive(t, i)
		assert.Equal(t, testCreds.SignQuery(raw[:i]), raw[i+len("&signature="):])

		q := r.URL.Query()
		assert.Equal(t, "BTC", q.Get("coin"))
		assert.Equal(t, "0.25", q.Get("amount"))
		assert.Equal(t, "bc1qaddress", q.Get("address"))
		assert.Equal(t, "1700000000000", q.Get("timestamp"))

		w.Write([]byte(`{"id":"7213fea8e94b4a5593d507237e5a555b"}`))
	})

	id, err := c.Withdraw(context.Background(), "BTC", decimal.RequireFromString("0.25"), "bc1qaddress")
	require.NoError(t, err)
	assert.Equal(t, "7213fea8e94b4a5593d507237e5a555b", id)
}

func TestWithdraw_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-4026,"msg":"Insufficient balance"}`))
	})

	_, err := c.Withdraw(context.Background(), "BTC", decimal.NewFromInt(1), "bc1qaddress")
	require.Error(t, err)
	var apiErr apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -4026, apiErr.Code)
}

func TestDepthAndAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/depth":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			assert.Empty(t, r.URL.Query().Get("signature"))
			w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000",[]]],"asks":[["4.00000200","12.00000000"]]}`))
		case "/api/v3/account":
			assert.NotEmpty(t, r.URL.Query().Get("signature"))
			w.Write([]byte(`{"balances":[{"asset":"BTC","free":"4723846.89208129","locked":"0.00000000"},{"asset":"USDT","free":"12.5","locked":"1"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	snap, err := c.Depth(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1027024), snap.LastUpdateID)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("4")))
	assert.True(t, snap.Asks[0].Size.Equal(decimal.NewFromInt(12)))

	bals, err := c.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, bals, 2)
	assert.Equal(t, "USDT", bals[1].Asset)
	assert.True(t, bals[1].Free.Equal(decimal.RequireFromString("12.5")))
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", crypto.Credentials{})
	_, err := c.Balances(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
