package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is one executable buy-low/sell-high candidate.
type Opportunity struct {
	BuyVenue      string          `json:"buy_venue"`
	SellVenue     string          `json:"sell_venue"`
	Amount        decimal.Decimal `json:"amount"`
	BuyPrice      decimal.Decimal `json:"buy_price"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	ProfitPerUnit decimal.Decimal `json:"profit_per_unit"`
	Profit        decimal.Decimal `json:"profit"`
}

// Trade is the opportunity the executor committed to.
type Trade struct {
	ID          string      `json:"id"`
	Opportunity Opportunity `json:"opportunity"`
	StartedAt   time.Time   `json:"started_at"`
}

// ExecStatus classifies a finished two-leg trade. A trade is partial when
// it is not fully filled but some leg left a position behind.
type ExecStatus string

const (
	ExecFilled  ExecStatus = "filled"
	ExecPartial ExecStatus = "partial"
	ExecFailed  ExecStatus = "failed"
)

// LegResult is the outcome of one leg. Err is set when the venue call itself
// failed; otherwise Outcome holds the venue's verdict.
type LegResult struct {
	Venue   string          `json:"venue"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price"`
	Outcome Outcome         `json:"outcome"`
	Err     error           `json:"-"`
}

// Filled reports whether the leg executed.
func (l LegResult) Filled() bool { return l.Err == nil && l.Outcome.Filled() }

// Exposed reports whether the leg left a position behind, fully or partly.
func (l LegResult) Exposed() bool { return l.Err == nil && l.Outcome.Exposed() }

func (l LegResult) err() error {
	switch {
	case l.Err != nil:
		return fmt.Errorf("%s: %w", l.Venue, l.Err)
	case !l.Outcome.Filled():
		return fmt.Errorf("%s: %w: %s", l.Venue, ErrOrderRejected, l.Outcome)
	}
	return nil
}

// ExecutionReport summarizes a finished trade.
type ExecutionReport struct {
	Trade      Trade      `json:"trade"`
	Sell       LegResult  `json:"sell"`
	Buy        LegResult  `json:"buy"`
	Status     ExecStatus `json:"status"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Err is nil for a filled trade, ErrPartialExecution for a partial one, and
// the joined leg failures otherwise.
func (r ExecutionReport) Err() error {
	switch r.Status {
	case ExecFilled:
		return nil
	case ExecPartial:
		return fmt.Errorf("trade %s: %w", r.Trade.ID, ErrPartialExecution)
	}
	return errors.Join(r.Sell.err(), r.Buy.err())
}
