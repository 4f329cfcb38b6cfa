package binance

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Stream event types.
const (
	eventDepthUpdate     = "depthUpdate"
	eventExecutionReport = "executionReport"
	eventAccountPosition = "outboundAccountPosition"
	eventAccountInfo     = "outboundAccountInfo"
	eventListenKeyExpiry = "listenKeyExpired"
)

// Binance reuses letters in both cases within one event ("e"/"E",
// "s"/"S"). encoding/json falls back to case-insensitive key matching, so
// every decoded struct declares the twin of each key it reads.

// level is a [price, quantity] pair. Extra trailing elements are dropped.
type level [2]decimal.Decimal

type envelope struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

type listenKeyExpired struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	ListenKey string `json:"listenKey"`
}

type depthEvent struct {
	Event     string  `json:"e"`
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	FirstID   int64   `json:"U"`
	FinalID   int64   `json:"u"`
	Bids      []level `json:"b"`
	Asks      []level `json:"a"`
}

type executionReport struct {
	Event         string          `json:"e"`
	EventTime     int64           `json:"E"`
	Symbol        string          `json:"s"`
	Side          string          `json:"S"`
	ClientOrderID string          `json:"c"`
	OrigClientID  string          `json:"C"`
	Price         decimal.Decimal `json:"p"`
	StopPrice     decimal.Decimal `json:"P"`
	Quantity      decimal.Decimal `json:"q"`
	QuoteQuantity decimal.Decimal `json:"Q"`
	ExecutionType string          `json:"x"`
	Status        string          `json:"X"`
}

type balanceEntry struct {
	Asset  string          `json:"a"`
	Free   decimal.Decimal `json:"f"`
	Locked decimal.Decimal `json:"l"`
}

type accountEvent struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Updated   int64           `json:"u"`
	Ignore    json.RawMessage `json:"U"`
	Balances  []balanceEntry  `json:"B"`
	Ignore2   json.RawMessage `json:"b"`
}

// REST payloads.

type depthResponse struct {
	LastUpdateID int64   `json:"lastUpdateId"`
	Bids         []level `json:"bids"`
	Asks         []level `json:"asks"`
}

type accountResponse struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

type openOrder struct {
	Symbol        string          `json:"symbol"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	Status        string          `json:"status"`
	Side          string          `json:"side"`
}

type orderResponse struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Status        string          `json:"status"`
	Side          string          `json:"side"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("binance: api error %d: %s", e.Code, e.Msg)
}

// Normalization into domain types.

func (e depthEvent) update() domain.BookUpdate {
	changes := make([]domain.LevelChange, 0, len(e.Bids)+len(e.Asks))
	for _, l := range e.Bids {
		changes = append(changes, domain.LevelChange{Side: domain.SideBid, Price: l[0], Size: l[1]})
	}
	for _, l := range e.Asks {
		changes = append(changes, domain.LevelChange{Side: domain.SideAsk, Price: l[0], Size: l[1]})
	}
	return domain.BookUpdate{Sequence: e.FinalID, Changes: changes}
}

func (r depthResponse) snapshot() domain.DepthSnapshot {
	return domain.DepthSnapshot{
		LastUpdateID: r.LastUpdateID,
		Bids:         levels(r.Bids),
		Asks:         levels(r.Asks),
	}
}

func levels(in []level) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(in))
	for i, l := range in {
		out[i] = domain.PriceLevel{Price: l[0], Size: l[1]}
	}
	return out
}

// orderUpdate keys the order by its original client id. Cancel reports
// carry the cancel request's id in "c" and the order's own id in "C".
func (r executionReport) orderUpdate() domain.OrderUpdate {
	cid := r.ClientOrderID
	if r.OrigClientID != "" {
		cid = r.OrigClientID
	}
	return domain.OrderUpdate{
		ClientID: cid,
		Side:     orderSide(r.Side),
		Price:    r.Price,
		Size:     r.Quantity,
		Status:   r.Status,
	}
}

func (o openOrder) orderUpdate() domain.OrderUpdate {
	return domain.OrderUpdate{
		ClientID: o.ClientOrderID,
		Side:     orderSide(o.Side),
		Price:    o.Price,
		Size:     o.OrigQty,
		Status:   o.Status,
	}
}

func (e accountEvent) balanceUpdates() []domain.BalanceUpdate {
	out := make([]domain.BalanceUpdate, len(e.Balances))
	for i, b := range e.Balances {
		out[i] = domain.BalanceUpdate{Asset: b.Asset, Free: b.Free}
	}
	return out
}

func orderSide(s string) domain.OrderSide {
	if s == "SELL" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

// outcome maps the synchronous order response. FOK and IOC orders come back
// terminal; a resting order is reported open so the caller treats it as
// exposure rather than a failure.
func (r orderResponse) outcome() domain.Outcome {
	o := domain.Outcome{ClientID: r.ClientOrderID, Detail: r.Status, Executed: r.ExecutedQty}
	switch r.Status {
	case "FILLED":
		o.Status = domain.OutcomeFilled
	case "NEW", "PENDING_NEW", "PARTIALLY_FILLED", "PENDING_CANCEL":
		o.Status = domain.OutcomeOpen
	case "EXPIRED", "CANCELED", "EXPIRED_IN_MATCH":
		o.Status = domain.OutcomeCanceled
	default:
		o.Status = domain.OutcomeRejected
	}
	return o
}
