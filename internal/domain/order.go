package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pair names the traded assets in a venue's own spelling.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string { return p.Base + p.Quote }

// OutcomeStatus is the terminal state of a submitted order.
type OutcomeStatus string

const (
	OutcomeFilled   OutcomeStatus = "filled"
	OutcomeRejected OutcomeStatus = "rejected"
	OutcomeCanceled OutcomeStatus = "canceled"
	// OutcomeOpen is an order the venue left resting; it may still trade.
	OutcomeOpen OutcomeStatus = "open"
)

// Outcome is the resolved result of one placed order.
type Outcome struct {
	ClientID string        `json:"client_id"`
	Status   OutcomeStatus `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	// Executed is the base amount traded when the venue reports it. A
	// canceled or open order may have traded part of its size.
	Executed decimal.Decimal `json:"executed,omitzero"`
}

// Filled reports whether the order executed.
func (o Outcome) Filled() bool { return o.Status == OutcomeFilled }

// Exposed reports whether the order changed the account or still can: it
// filled, traded part of its size, or is resting on the book.
func (o Outcome) Exposed() bool {
	return o.Filled() || o.Status == OutcomeOpen || o.Executed.IsPositive()
}

func (o Outcome) String() string {
	if o.Executed.IsPositive() && !o.Filled() {
		return fmt.Sprintf("%s(%s): %s, executed %s", o.Status, o.ClientID, o.Detail, o.Executed)
	}
	if o.Detail == "" {
		return fmt.Sprintf("%s(%s)", o.Status, o.ClientID)
	}
	return fmt.Sprintf("%s(%s): %s", o.Status, o.ClientID, o.Detail)
}

// OrderRequest is a limit order in venue-neutral form. Amount is signed:
// positive buys, negative sells.
type OrderRequest struct {
	ClientID string
	Amount   decimal.Decimal
	Price    decimal.Decimal
}
