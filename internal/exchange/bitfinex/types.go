package bitfinex

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Info codes that require a fresh connection.
const (
	infoRestart         = 20051
	infoMaintenanceDone = 20061
)

// Order array indices in account stream payloads.
const (
	orderCID        = 2
	orderSymbol     = 3
	orderAmount     = 6
	orderAmountOrig = 7
	orderStatus     = 13
	orderPrice      = 16
	orderMinLen     = 17
)

// Notification array indices.
const (
	notifyType   = 1
	notifyInfo   = 4
	notifyStatus = 6
	notifyText   = 7
	notifyMinLen = 8
)

// event is a control message: info, auth, subscribed, error.
type event struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Key     string `json:"key"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Version int    `json:"version"`
}

type subscribeBook struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec"`
	Freq    string `json:"freq"`
	Len     string `json:"len"`
}

type subscribeCandles struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Key     string `json:"key"`
}

type newOrder struct {
	CID    int64  `json:"cid"`
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

// bookEntry is [price, count, amount]. A zero count removes the level; the
// sign of amount selects the side.
type bookEntry [3]decimal.Decimal

func (e bookEntry) change() domain.LevelChange {
	price, count, amount := e[0], e[1], e[2]
	side := domain.SideAsk
	if amount.IsPositive() {
		side = domain.SideBid
	}
	size := amount.Abs()
	if count.IsZero() {
		size = decimal.Zero
	}
	return domain.LevelChange{Side: side, Price: price, Size: size}
}

func bookLevels(entries []bookEntry) (bids, asks []domain.PriceLevel) {
	for _, e := range entries {
		c := e.change()
		if c.Size.IsZero() {
			continue
		}
		lvl := domain.PriceLevel{Price: c.Price, Size: c.Size}
		if c.Side == domain.SideBid {
			bids = append(bids, lvl)
		} else {
			asks = append(asks, lvl)
		}
	}
	return bids, asks
}

// candleEntry is [mts, open, close, high, low, volume].
type candleEntry [6]decimal.Decimal

func (e candleEntry) candle() domain.Candle {
	return domain.Candle{
		OpenTime: time.UnixMilli(e[0].IntPart()).UTC(),
		Open:     e[1],
		Close:    e[2],
		High:     e[3],
		Low:      e[4],
		Volume:   e[5],
	}
}

// isNested reports whether raw is an array whose first element is itself an
// array, which is how snapshots differ from single updates.
func isNested(raw json.RawMessage) bool {
	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || len(outer) == 0 {
		return false
	}
	return len(outer[0]) > 0 && outer[0][0] == '['
}

// orderFields is one order array decoded loosely; the venue mixes numbers,
// strings and nulls.
type orderFields []json.RawMessage

func (o orderFields) update() (domain.OrderUpdate, string, error) {
	if len(o) < orderMinLen {
		return domain.OrderUpdate{}, "", fmt.Errorf("order array has %d fields", len(o))
	}
	var (
		cid                 int64
		symbol, status      string
		amount, orig, price decimal.Decimal
	)
	for _, f := range []struct {
		idx int
		dst any
	}{
		{orderCID, &cid},
		{orderSymbol, &symbol},
		{orderAmount, &amount},
		{orderAmountOrig, &orig},
		{orderStatus, &status},
		{orderPrice, &price},
	} {
		if err := json.Unmarshal(o[f.idx], f.dst); err != nil {
			return domain.OrderUpdate{}, "", fmt.Errorf("order field %d: %w", f.idx, err)
		}
	}
	side := domain.SideForAmount(orig)
	return domain.OrderUpdate{
		ClientID: strconv.FormatInt(cid, 10),
		Side:     side,
		Price:    price,
		Size:     amount.Abs(),
		Status:   status,
	}, symbol, nil
}

// wallet is [type, currency, balance, unsettled, available, ...].
type wallet []json.RawMessage

func (w wallet) balance() (walletType string, u domain.BalanceUpdate, err error) {
	if len(w) < 3 {
		return "", u, fmt.Errorf("wallet array has %d fields", len(w))
	}
	if err := json.Unmarshal(w[0], &walletType); err != nil {
		return "", u, fmt.Errorf("wallet type: %w", err)
	}
	if err := json.Unmarshal(w[1], &u.Asset); err != nil {
		return "", u, fmt.Errorf("wallet currency: %w", err)
	}
	if err := json.Unmarshal(w[2], &u.Free); err != nil {
		return "", u, fmt.Errorf("wallet balance: %w", err)
	}
	return walletType, u, nil
}

// notification is the on-req subset of an "n" payload.
type notification struct {
	Type   string
	CID    string
	Status string
	Text   string
}

func parseNotification(raw json.RawMessage) (notification, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return notification{}, err
	}
	if len(fields) < notifyMinLen {
		return notification{}, fmt.Errorf("notification has %d fields", len(fields))
	}
	var n notification
	if err := json.Unmarshal(fields[notifyType], &n.Type); err != nil {
		return notification{}, fmt.Errorf("notification type: %w", err)
	}
	_ = json.Unmarshal(fields[notifyStatus], &n.Status)
	_ = json.Unmarshal(fields[notifyText], &n.Text)

	var info orderFields
	if err := json.Unmarshal(fields[notifyInfo], &info); err == nil && len(info) > orderCID {
		var cid int64
		if err := json.Unmarshal(info[orderCID], &cid); err == nil {
			n.CID = strconv.FormatInt(cid, 10)
		}
	}
	return n, nil
}
