// Package arbitrage finds executable cross-venue trades: buy the base asset
// where the ask is cheap, sell it where the bid is rich, after fees.
package arbitrage

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.New(5, -1)
)

// Input is one direction of the search: asks from the venue we buy on, bids
// from the venue we sell on.
type Input struct {
	BuyVenue  string
	SellVenue string

	// Asks are best-first (ascending), Bids best-first (descending).
	Asks []domain.PriceLevel
	Bids []domain.PriceLevel

	BuyFee  decimal.Decimal
	SellFee decimal.Decimal

	// QuoteBalance is the free quote asset on the buy venue.
	QuoteBalance decimal.Decimal
	// BaseBalance is the free base asset on the sell venue.
	BaseBalance decimal.Decimal
}

// Search walks asks cheapest-first and, for each, bids richest-first,
// recording every pairing that is profitable after fees and large enough to
// trade at least one whole unit.
//
// The bid loop stops at the first unprofitable bid. The ask loop stops at the
// first ask that has no profitable bid at all, since later asks only cost
// more.
func Search(in Input) []domain.Opportunity {
	if len(in.Asks) == 0 || len(in.Bids) == 0 {
		return nil
	}

	buyMul := one.Add(in.BuyFee)
	sellMul := one.Sub(in.SellFee)

	var out []domain.Opportunity
	for _, ask := range in.Asks {
		cost := ask.Price.Mul(buyMul)
		affordable := decimal.Zero
		if ask.Price.IsPositive() {
			affordable = in.QuoteBalance.Div(ask.Price)
		}

		profitable := false
		for _, bid := range in.Bids {
			ppu := bid.Price.Mul(sellMul).Sub(cost)
			if !ppu.IsPositive() {
				break
			}
			profitable = true

			amount := decimal.Min(
				ask.Size.Mul(half),
				bid.Size.Mul(half),
				affordable,
				in.BaseBalance,
			).RoundFloor(2).Truncate(0)
			if amount.LessThan(one) {
				continue
			}

			out = append(out, domain.Opportunity{
				BuyVenue:      in.BuyVenue,
				SellVenue:     in.SellVenue,
				Amount:        amount,
				BuyPrice:      ask.Price,
				SellPrice:     bid.Price,
				ProfitPerUnit: ppu,
				Profit:        amount.Mul(ppu),
			})
		}
		if !profitable {
			break
		}
	}
	return out
}

// Select picks the candidate with the smallest amount. Ties keep the earliest
// candidate, i.e. the best prices.
func Select(cands []domain.Opportunity) (domain.Opportunity, bool) {
	if len(cands) == 0 {
		return domain.Opportunity{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Amount.LessThan(best.Amount) {
			best = c
		}
	}
	return best, true
}
