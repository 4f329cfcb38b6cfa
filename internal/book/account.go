package book

import (
	"maps"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Account tracks a venue's free balances and resting orders.
type Account struct {
	balances map[string]decimal.Decimal
	buys     map[string]domain.RestingOrder
	sells    map[string]domain.RestingOrder
}

// NewAccount returns empty account state.
func NewAccount() *Account {
	return &Account{
		balances: make(map[string]decimal.Decimal),
		buys:     make(map[string]domain.RestingOrder),
		sells:    make(map[string]domain.RestingOrder),
	}
}

// ApplyBalance stores the free balance of an asset. A zero balance removes
// the asset.
func (a *Account) ApplyBalance(u domain.BalanceUpdate) {
	if u.Free.IsZero() {
		delete(a.balances, u.Asset)
		return
	}
	a.balances[u.Asset] = u.Free
}

// ApplyOrder upserts the order, or removes it once its status is terminal.
func (a *Account) ApplyOrder(u domain.OrderUpdate) {
	m := a.buys
	if u.Side == domain.OrderSideSell {
		m = a.sells
	}
	if u.Terminal() {
		delete(m, u.ClientID)
		return
	}
	m[u.ClientID] = domain.RestingOrder{Price: u.Price, Size: u.Size.Abs()}
}

// Balance returns the free balance of asset, zero when absent.
func (a *Account) Balance(asset string) decimal.Decimal {
	return a.balances[asset]
}

// Balances returns a copy of all non-zero balances.
func (a *Account) Balances() map[string]decimal.Decimal {
	return maps.Clone(a.balances)
}

// Orders returns a copy of the resting orders on one side.
func (a *Account) Orders(side domain.OrderSide) map[string]domain.RestingOrder {
	if side == domain.OrderSideSell {
		return maps.Clone(a.sells)
	}
	return maps.Clone(a.buys)
}
