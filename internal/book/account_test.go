package book

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func TestAccountBalances(t *testing.T) {
	a := NewAccount()
	a.ApplyBalance(domain.BalanceUpdate{Asset: "BTC", Free: d("1.5")})
	a.ApplyBalance(domain.BalanceUpdate{Asset: "USDT", Free: d("0")})

	assert.Equal(t, "1.5", a.Balance("BTC").String())
	assert.True(t, a.Balance("USDT").IsZero())
	assert.NotContains(t, a.Balances(), "USDT")

	a.ApplyBalance(domain.BalanceUpdate{Asset: "BTC", Free: d("0")})
	assert.Empty(t, a.Balances())
}

func TestAccountOrdersLifecycle(t *testing.T) {
	a := NewAccount()
	a.ApplyOrder(domain.OrderUpdate{ClientID: "1", Side: domain.OrderSideBuy, Price: d("100"), Size: d("2"), Status: "NEW"})
	a.ApplyOrder(domain.OrderUpdate{ClientID: "2", Side: domain.OrderSideSell, Price: d("101"), Size: d("-3"), Status: "ACTIVE"})

	assert.Len(t, a.Orders(domain.OrderSideBuy), 1)
	assert.Equal(t, "3", a.Orders(domain.OrderSideSell)["2"].Size.String())

	a.ApplyOrder(domain.OrderUpdate{ClientID: "1", Side: domain.OrderSideBuy, Price: d("100"), Size: d("1"), Status: "PARTIALLY_FILLED"})
	assert.Equal(t, "1", a.Orders(domain.OrderSideBuy)["1"].Size.String())

	a.ApplyOrder(domain.OrderUpdate{ClientID: "1", Side: domain.OrderSideBuy, Status: "FILLED"})
	a.ApplyOrder(domain.OrderUpdate{ClientID: "2", Side: domain.OrderSideSell, Status: "CANCELED was: ACTIVE"})
	assert.Empty(t, a.Orders(domain.OrderSideBuy))
	assert.Empty(t, a.Orders(domain.OrderSideSell))
}

func TestTerminalStatuses(t *testing.T) {
	for status, want := range map[string]bool{
		"FILLED":                        true,
		"EXECUTED @ 100.0(0.5)":         true,
		"CANCELED":                      true,
		"EXPIRED":                       true,
		"NEW":                           false,
		"ACTIVE":                        false,
		"PARTIALLY_FILLED":              false,
		"PARTIALLY FILLED @ 100.0(0.1)": false,
	} {
		assert.Equal(t, want, domain.IsTerminalStatus(status), status)
	}
}
