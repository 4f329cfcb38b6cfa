package domain

import "github.com/shopspring/decimal"

// VenueSnapshot is a diagnostic dump of one venue's live state.
type VenueSnapshot struct {
	Name       string                     `json:"name"`
	Ready      bool                       `json:"ready"`
	Connected  bool                       `json:"connected"`
	Asks       []PriceLevel               `json:"asks"`
	Bids       []PriceLevel               `json:"bids"`
	BuyOrders  map[string]RestingOrder    `json:"buy_orders"`
	SellOrders map[string]RestingOrder    `json:"sell_orders"`
	Balances   map[string]decimal.Decimal `json:"balances"`
}

// VenueStat values a venue's holdings in units of the base asset.
type VenueStat struct {
	Name              string                     `json:"name"`
	Balances          map[string]decimal.Decimal `json:"balances"`
	TargetTokenAmount decimal.Decimal            `json:"target_token_amount"`
}
