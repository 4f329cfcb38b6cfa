package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pending(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestStateNotifiesOnlyWhenReady(t *testing.T) {
	s := NewState("venue", domain.Pair{Base: "BTC", Quote: "USD"}, d("0.001"))

	fetch := s.ApplyBook(domain.BookUpdate{Sequence: 1, Changes: []domain.LevelChange{{Side: domain.SideAsk, Price: d("100"), Size: d("1")}}})
	assert.False(t, fetch)
	s.ApplyOrders(domain.OrderUpdate{ClientID: "1", Side: domain.OrderSideBuy, Price: d("99"), Size: d("1"), Status: "NEW"})
	assert.False(t, pending(s.Updates()), "no notifications before the book is ready")

	fetch = s.ApplyBook(domain.BookUpdate{Sequence: 2, Changes: []domain.LevelChange{{Side: domain.SideAsk, Price: d("101"), Size: d("1")}}})
	require.True(t, fetch)

	s.LoadSnapshot(domain.DepthSnapshot{LastUpdateID: 1})
	assert.True(t, s.BookReady())
	assert.True(t, pending(s.Updates()))

	// Several changes coalesce into one pending signal.
	s.ApplyBook(domain.BookUpdate{Sequence: 3, Changes: []domain.LevelChange{{Side: domain.SideBid, Price: d("99"), Size: d("1")}}})
	s.ApplyBalances(domain.BalanceUpdate{Asset: "USD", Free: d("10")})
	assert.True(t, pending(s.Updates()))
	assert.False(t, pending(s.Updates()))

	asks := s.OrderBook(domain.SideAsk)
	require.Len(t, asks, 1)
	assert.Equal(t, "101", asks[0].Price.String())
	assert.Len(t, s.OpenOrders(domain.OrderSideBuy), 1)
}

func TestStateStat(t *testing.T) {
	s := NewState("venue", domain.Pair{Base: "BTC", Quote: "USD"}, decimal.Zero)
	s.ApplyBalances(
		domain.BalanceUpdate{Asset: "BTC", Free: d("2")},
		domain.BalanceUpdate{Asset: "USD", Free: d("500")},
	)
	assert.Equal(t, "2", s.Stat().TargetTokenAmount.String(), "no ask yet, quote is not valued")

	s.LoadSnapshot(domain.DepthSnapshot{Asks: []domain.PriceLevel{{Price: d("250"), Size: d("1")}}})
	st := s.Stat()
	assert.Equal(t, "4", st.TargetTokenAmount.String())
	assert.Equal(t, "venue", st.Name)

	dump := s.Dump(true)
	assert.True(t, dump.Ready)
	assert.True(t, dump.Connected)
	assert.Len(t, dump.Asks, 1)
	assert.Len(t, dump.Balances, 2)
}

func TestStateResetBook(t *testing.T) {
	s := NewState("venue", domain.Pair{Base: "BTC", Quote: "USD"}, decimal.Zero)
	s.LoadSnapshot(domain.DepthSnapshot{Bids: []domain.PriceLevel{{Price: d("1"), Size: d("1")}}})
	require.True(t, s.BookReady())

	s.ResetBook()
	assert.False(t, s.BookReady())
	assert.Empty(t, s.OrderBook(domain.SideBid))
}
