package arbitrage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func levels(pairs ...string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.PriceLevel{Price: d(pairs[i]), Size: d(pairs[i+1])})
	}
	return out
}

var plenty = d("1000000")

func TestSearch(t *testing.T) {
	tests := []struct {
		name   string
		in     Input
		want   int
		amount string
		sell   string
		profit string
		ppu    string
	}{
		{
			name:   "simple spread",
			in:     Input{Asks: levels("100", "10"), Bids: levels("105", "10"), QuoteBalance: plenty, BaseBalance: plenty},
			want:   1,
			amount: "5",
			sell:   "105",
			ppu:    "5",
			profit: "25",
		},
		{
			name: "no spread",
			in:   Input{Asks: levels("100", "10"), Bids: levels("99", "10"), QuoteBalance: plenty, BaseBalance: plenty},
			want: 0,
		},
		{
			name: "fees eat the spread",
			in: Input{
				Asks: levels("100", "10"), Bids: levels("101", "10"),
				BuyFee: d("0.01"), SellFee: d("0.01"),
				QuoteBalance: plenty, BaseBalance: plenty,
			},
			want: 0,
		},
		{
			name:   "fees reduce profit",
			in:     Input{Asks: levels("100", "10"), Bids: levels("110", "10"), BuyFee: d("0.001"), SellFee: d("0.002"), QuoteBalance: plenty, BaseBalance: plenty},
			want:   1,
			amount: "5",
			sell:   "110",
			ppu:    "9.68",
			profit: "48.4",
		},
		{
			name:   "limited by quote balance",
			in:     Input{Asks: levels("100", "10"), Bids: levels("105", "10"), QuoteBalance: d("250"), BaseBalance: plenty},
			want:   1,
			amount: "2",
			sell:   "105",
			ppu:    "5",
			profit: "10",
		},
		{
			name:   "limited by base inventory",
			in:     Input{Asks: levels("100", "10"), Bids: levels("105", "10"), QuoteBalance: plenty, BaseBalance: d("3.7")},
			want:   1,
			amount: "3",
			sell:   "105",
			ppu:    "5",
			profit: "15",
		},
		{
			name: "insufficient balance yields nothing",
			in:   Input{Asks: levels("100", "10"), Bids: levels("105", "10"), QuoteBalance: d("50"), BaseBalance: plenty},
			want: 0,
		},
		{
			name:   "too small bid is skipped, not fatal",
			in:     Input{Asks: levels("100", "10"), Bids: levels("105", "1", "104", "10"), QuoteBalance: plenty, BaseBalance: plenty},
			want:   1,
			amount: "5",
			sell:   "104",
			ppu:    "4",
			profit: "20",
		},
		{
			name: "empty asks",
			in:   Input{Bids: levels("105", "10"), QuoteBalance: plenty, BaseBalance: plenty},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Search(tt.in)
			require.Len(t, got, tt.want)
			if tt.want == 0 {
				return
			}
			assert.Equal(t, tt.amount, got[0].Amount.String())
			assert.Equal(t, tt.sell, got[0].SellPrice.String())
			assert.True(t, d(tt.ppu).Equal(got[0].ProfitPerUnit), "ppu %s", got[0].ProfitPerUnit)
			assert.True(t, d(tt.profit).Equal(got[0].Profit), "profit %s", got[0].Profit)
		})
	}
}

func TestSearchStopsAtFirstUnprofitableAsk(t *testing.T) {
	got := Search(Input{
		BuyVenue:     "a",
		SellVenue:    "b",
		Asks:         levels("100", "10", "104", "10", "110", "10"),
		Bids:         levels("105", "10", "103", "10"),
		QuoteBalance: plenty,
		BaseBalance:  plenty,
	})
	require.Len(t, got, 3)

	pairs := make([]string, len(got))
	for i, o := range got {
		pairs[i] = o.BuyPrice.String() + "/" + o.SellPrice.String()
		assert.Equal(t, "a", o.BuyVenue)
		assert.Equal(t, "b", o.SellVenue)
	}
	assert.Equal(t, []string{"100/105", "100/103", "104/105"}, pairs)
}

func TestSelectSmallestAmountFirstOnTie(t *testing.T) {
	_, ok := Select(nil)
	assert.False(t, ok)

	cands := []domain.Opportunity{
		{Amount: d("5"), SellPrice: d("105")},
		{Amount: d("2"), SellPrice: d("104")},
		{Amount: d("2"), SellPrice: d("103")},
		{Amount: d("9"), SellPrice: d("102")},
	}
	best, ok := Select(cands)
	require.True(t, ok)
	assert.Equal(t, "2", best.Amount.String())
	assert.Equal(t, "104", best.SellPrice.String())
}
