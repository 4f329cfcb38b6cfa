package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side selects one half of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// LevelChange is one (price, size) pair inside a depth batch. A zero size
// removes the level.
type LevelChange struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookUpdate is a normalized depth batch. Sequence is the venue's final
// update id for the batch, or zero when the venue does not sequence its feed.
type BookUpdate struct {
	Sequence int64
	Changes  []LevelChange
}

// DepthSnapshot is a full book image tagged with the last update id it
// already includes.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Candle is one OHLCV bar as reported by the venue.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	Close    decimal.Decimal `json:"close"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Volume   decimal.Decimal `json:"volume"`
}
