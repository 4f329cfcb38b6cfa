package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether an order buys or sells the base asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideForAmount maps a signed order amount to its side. Positive amounts buy.
func SideForAmount(amount decimal.Decimal) OrderSide {
	if amount.IsNegative() {
		return OrderSideSell
	}
	return OrderSideBuy
}

// BalanceUpdate carries the free balance of one asset.
type BalanceUpdate struct {
	Asset string
	Free  decimal.Decimal
}

// OrderUpdate is a normalized order-status event from the account stream.
type OrderUpdate struct {
	ClientID string
	Side     OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
	Status   string
}

// Terminal reports whether the status ends the order's life on the book.
func (u OrderUpdate) Terminal() bool {
	return IsTerminalStatus(u.Status)
}

// IsTerminalStatus reports whether status is filled, canceled or expired in
// any of the spellings the venues use.
func IsTerminalStatus(status string) bool {
	s := strings.ToUpper(status)
	for _, t := range []string{"FILLED", "EXECUTED", "CANCELED", "CANCELLED", "EXPIRED", "REJECTED"} {
		if strings.HasPrefix(s, t) {
			return true
		}
	}
	return false
}

// RestingOrder is an open order held in account state.
type RestingOrder struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}
