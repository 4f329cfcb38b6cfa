package bitfinex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/crypto"
	"github.com/alanyoungcy/xarb/internal/domain"
)

const (
	// DefaultRESTURL is the authenticated REST root.
	DefaultRESTURL = "https://api.bitfinex.com"
	// DefaultWSURL is the authenticated websocket endpoint.
	DefaultWSURL = "wss://api.bitfinex.com/ws/2"
)

// withdrawMethods maps asset tickers to v1 withdraw_type names.
var withdrawMethods = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"LTC":  "litecoin",
	"UST":  "tetheruse",
	"USDT": "tetheruse",
}

// Client is the REST client for Bitfinex's authenticated v1 endpoints.
type Client struct {
	baseURL    string
	creds      crypto.Credentials
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new Bitfinex REST client.
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

type withdrawResult struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	WithdrawalID int64  `json:"withdrawal_id"`
}

// Withdraw moves amount of asset from the exchange wallet to address and
// returns the withdrawal id.
func (c *Client) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address string) (string, error) {
	method, ok := withdrawMethods[strings.ToUpper(asset)]
	if !ok {
		method = strings.ToLower(asset)
	}
	payload := map[string]string{
		"request":        "/v1/withdraw",
		"nonce":          strconv.FormatInt(c.now().UnixMicro(), 10),
		"withdraw_type":  method,
		"walletselected": "exchange",
		"amount":         amount.String(),
		"address":        address,
	}

	body, err := c.doSigned(ctx, "/v1/withdraw", payload)
	if err != nil {
		return "", fmt.Errorf("bitfinex: withdraw %s: %w", asset, err)
	}

	var results []withdrawResult
	if err := json.Unmarshal(body, &results); err != nil || len(results) == 0 {
		return "", fmt.Errorf("bitfinex: decode withdraw: %w", domain.ErrMalformedMessage)
	}
	r := results[0]
	if r.Status != "success" {
		return "", fmt.Errorf("bitfinex: withdraw %s: %w: %s", asset, domain.ErrOrderRejected, r.Message)
	}
	return strconv.FormatInt(r.WithdrawalID, 10), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSigned posts payload to path with the v1 payload signature headers.
func (c *Client) doSigned(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.creds.Empty() {
		return nil, fmt.Errorf("%w: api credentials not configured", domain.ErrUnauthorized)
	}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.creds.V1Headers(jsonBody) {
		req.Header.Set(k, v)
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

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Message)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Message)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransport, statusCode, apiErr.Message)
	default:
		return fmt.Errorf("bitfinex: HTTP %d: %s", statusCode, apiErr.Message)
	}
}
