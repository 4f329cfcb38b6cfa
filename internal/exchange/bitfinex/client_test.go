package bitfinex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/crypto"
	"github.com/alanyoungcy/xarb/internal/domain"
)

func TestWithdraw_SignsPayload(t *testing.T) {
	creds := crypto.Credentials{Key: "key", Secret: "secret"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/withdraw", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-BFX-APIKEY"))

		payload := r.Header.Get("X-BFX-PAYLOAD")
		assert.Equal(t, creds.SignSHA384(payload), r.Header.Get("X-BFX-SIGNATURE"))

		decoded, err := base64.StdEncoding.DecodeString(payload)
		require.NoError(t, err)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, string(decoded), string(body))

		var req map[string]string
		require.NoError(t, json.Unmarshal(decoded, &req))
		assert.Equal(t, "/v1/withdraw", req["request"])
		assert.Equal(t, "bitcoin", req["withdraw_type"])
		assert.Equal(t, "exchange", req["walletselected"])
		assert.Equal(t, "0.25", req["amount"])
		assert.Equal(t, "1700000000000000", req["nonce"])

		w.Write([]byte(`[{"status":"success","message":"Your withdrawal request has been successfully submitted.","withdrawal_id":586829}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, creds)
	c.now = func() time.Time { return time.UnixMicro(1700000000000000) }

	id, err := c.Withdraw(context.Background(), "BTC", d("0.25"), "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	require.NoError(t, err)
	assert.Equal(t, "586829", id)
}

func TestWithdraw_Errors(t *testing.T) {
	serve := func(status int, body string) *Client {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)
		return NewClient(srv.URL, crypto.Credentials{Key: "key", Secret: "secret"})
	}

	c := serve(http.StatusOK, `[{"status":"error","message":"Insufficient balance","withdrawal_id":0}]`)
	_, err := c.Withdraw(context.Background(), "ETH", d("1"), "0xabc")
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	c = serve(http.StatusTooManyRequests, `{"message":"ratelimit"}`)
	_, err = c.Withdraw(context.Background(), "ETH", d("1"), "0xabc")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = NewClient("http://127.0.0.1:0", crypto.Credentials{}).Withdraw(context.Background(), "ETH", d("1"), "0xabc")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
