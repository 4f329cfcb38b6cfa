// Package book holds per-venue market and account state: price-level books,
// balances and resting orders, and the snapshot/update sequencing that makes
// a book trustworthy.
//
// None of the types here lock. A venue mutates them from its single handler
// goroutine and guards cross-goroutine reads itself.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// OrderBook is one side of a venue's book: price -> resting size.
type OrderBook struct {
	side   domain.Side
	levels map[string]domain.PriceLevel
}

// NewOrderBook returns an empty book for the given side.
func NewOrderBook(side domain.Side) *OrderBook {
	return &OrderBook{side: side, levels: make(map[string]domain.PriceLevel)}
}

// Side returns which half of the book this is.
func (b *OrderBook) Side() domain.Side { return b.side }

// Update upserts the level at price with abs(size), or removes it when size
// is zero.
func (b *OrderBook) Update(price, size decimal.Decimal) {
	key := price.String()
	if size.IsZero() {
		delete(b.levels, key)
		return
	}
	b.levels[key] = domain.PriceLevel{Price: price, Size: size.Abs()}
}

// Clear drops every level.
func (b *OrderBook) Clear() {
	clear(b.levels)
}

// Len returns the number of price levels.
func (b *OrderBook) Len() int { return len(b.levels) }

// Best returns the top level, if any.
func (b *OrderBook) Best() (domain.PriceLevel, bool) {
	var (
		best  domain.PriceLevel
		found bool
	)
	for _, lvl := range b.levels {
		if !found || b.better(lvl.Price, best.Price) {
			best, found = lvl, true
		}
	}
	return best, found
}

// Levels returns a best-first copy of the book: ascending for asks,
// descending for bids.
func (b *OrderBook) Levels() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(b.levels))
	for _, lvl := range b.levels {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool { return b.better(out[i].Price, out[j].Price) })
	return out
}

func (b *OrderBook) better(x, y decimal.Decimal) bool {
	if b.side == domain.SideAsk {
		return x.LessThan(y)
	}
	return x.GreaterThan(y)
}
