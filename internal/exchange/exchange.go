// Package exchange defines the venue capability the rest of the bot trades
// through, and the shared live state each venue adapter is built around.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Exchange is one trading venue. Book and account accessors return copies
// and are safe to call from any goroutine.
type Exchange interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	// Connected reports whether every stream the venue depends on is open.
	Connected() bool

	// PlaceOrder submits a limit order and blocks until its outcome is
	// known. Positive amounts buy, negative amounts sell.
	PlaceOrder(ctx context.Context, amount, price decimal.Decimal) (domain.Outcome, error)
	// Withdraw moves funds off the venue and returns the venue's reference.
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address string) (string, error)

	OrderBook(side domain.Side) []domain.PriceLevel
	Balances() map[string]decimal.Decimal
	OpenOrders(side domain.OrderSide) map[string]domain.RestingOrder
	BookReady() bool
	Fee() decimal.Decimal
	Assets() domain.Pair
	Candles() []domain.Candle

	// Updates signals book and order changes once the book is ready.
	Updates() <-chan struct{}

	Snapshot() domain.VenueSnapshot
	Stat() domain.VenueStat
}
