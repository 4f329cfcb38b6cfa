package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/crypto"
	"github.com/alanyoungcy/xarb/internal/domain"
)

const (
	// DefaultRESTURL is the spot API root.
	DefaultRESTURL = "https://api.binance.com"
	// DefaultWSURL is the raw stream root; stream names are appended.
	DefaultWSURL = "wss://stream.binance.com:9443/ws"

	recvWindow = 5000
	depthLimit = 1000
)

// Client is the REST client for the Binance spot API.
type Client struct {
	baseURL    string
	creds      crypto.Credentials
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new Binance REST client.
func NewClient(baseURL string, creds crypto.Credentials) *Client {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Depth returns a full book snapshot for symbol.
func (c *Client) Depth(ctx context.Context, symbol string) (domain.DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depthLimit))

	body, err := c.do(ctx, http.MethodGet, "/api/v3/depth", params, false)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance: get depth %s: %w", symbol, err)
	}

	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance: decode depth: %w: %w", domain.ErrMalformedMessage, err)
	}
	return resp.snapshot(), nil
}

// Balances returns the free balance of every asset on the account.
func (c *Client) Balances(ctx context.Context) ([]domain.BalanceUpdate, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return nil, fmt.Errorf("binance: get account: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode account: %w: %w", domain.ErrMalformedMessage, err)
	}
	out := make([]domain.BalanceUpdate, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		out = append(out, domain.BalanceUpdate{Asset: b.Asset, Free: b.Free})
	}
	return out, nil
}

// OpenOrders returns the resting orders on symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.OrderUpdate, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.do(ctx, http.MethodGet, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, fmt.Errorf("binance: get open orders: %w", err)
	}

	var resp []openOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w: %w", domain.ErrMalformedMessage, err)
	}
	out := make([]domain.OrderUpdate, len(resp))
	for i, o := range resp {
		out[i] = o.orderUpdate()
	}
	return out, nil
}

// NewOrder places a LIMIT order and returns the venue's immediate verdict.
// The sign of req.Amount selects the side.
func (c *Client) NewOrder(ctx context.Context, symbol, timeInForce string, req domain.OrderRequest) (domain.Outcome, error) {
	side := "BUY"
	if req.Amount.IsNegative() {
		side = "SELL"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", timeInForce)
	params.Set("quantity", req.Amount.Abs().String())
	params.Set("price", req.Price.String())
	params.Set("newClientOrderId", req.ClientID)
	params.Set("newOrderRespType", "RESULT")

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		var apiErr apiError
		if errors.As(err, &apiErr) {
			return domain.Outcome{
				ClientID: req.ClientID,
				Status:   domain.OutcomeRejected,
				Detail:   apiErr.Msg,
			}, nil
		}
		return domain.Outcome{}, fmt.Errorf("binance: place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Outcome{}, fmt.Errorf("binance: decode order response: %w: %w", domain.ErrMalformedMessage, err)
	}
	if resp.ClientOrderID == "" {
		resp.ClientOrderID = req.ClientID
	}
	return resp.outcome(), nil
}

// Withdraw requests a withdrawal and returns its id.
func (c *Client) Withdraw(ctx context.Context, coin string, amount decimal.Decimal, address string) (string, error) {
	params := url.Values{}
	params.Set("coin", coin)
	params.Set("amount", amount.String())
	params.Set("address", address)

	body, err := c.do(ctx, http.MethodPost, "/sapi/v1/capital/withdraw/apply", params, true)
	if err != nil {
		return "", fmt.Errorf("binance: withdraw %s: %w", coin, err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("binance: decode withdraw: %w: %w", domain.ErrMalformedMessage, err)
	}
	return resp.ID, nil
}

// StartUserStream opens a user data stream and returns its listen key.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v3/userDataStream", nil, false)
	if err != nil {
		return "", fmt.Errorf("binance: start user stream: %w", err)
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("binance: decode listen key: %w: %w", domain.ErrMalformedMessage, err)
	}
	return resp.ListenKey, nil
}

// KeepAliveUserStream extends the listen key's validity.
func (c *Client) KeepAliveUserStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	if _, err := c.do(ctx, http.MethodPut, "/api/v3/userDataStream", params, false); err != nil {
		return fmt.Errorf("binance: keepalive user stream: %w", err)
	}
	return nil
}

// CloseUserStream invalidates the listen key.
func (c *Client) CloseUserStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	if _, err := c.do(ctx, http.MethodDelete, "/api/v3/userDataStream", params, false); err != nil {
		return fmt.Errorf("binance: close user stream: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do sends a request with params in the query string. Signed requests get a
// timestamp, a receive window and the HMAC signature appended last.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		if c.creds.Empty() {
			return nil, fmt.Errorf("%w: api credentials not configured", domain.ErrUnauthorized)
		}
		params.Set("recvWindow", strconv.Itoa(recvWindow))
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query = params.Encode()
		query += "&signature=" + c.creds.SignQuery(query)
	}

	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.creds.Key != "" {
		req.Header.Set("X-MBX-APIKEY", c.creds.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps non-2xx HTTP status codes to errors. 4xx responses that
// carry a Binance error body are returned as apiError so callers can tell a
// refused request from a failed one.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Msg)
	case statusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransport, statusCode, apiErr.Msg)
	case apiErr.Code != 0:
		return apiErr
	default:
		return fmt.Errorf("binance: HTTP %d: %s", statusCode, string(body))
	}
}
