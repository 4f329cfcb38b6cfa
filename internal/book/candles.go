package book

import (
	"sort"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Candles keeps the most recent bars keyed by open time.
type Candles struct {
	limit int
	bars  map[int64]domain.Candle
}

// NewCandles keeps at most limit bars; limit <= 0 means unbounded.
func NewCandles(limit int) *Candles {
	return &Candles{limit: limit, bars: make(map[int64]domain.Candle)}
}

// Update inserts or replaces the bar with the same open time.
func (c *Candles) Update(bar domain.Candle) {
	c.bars[bar.OpenTime.UnixMilli()] = bar
	if c.limit <= 0 || len(c.bars) <= c.limit {
		return
	}
	oldest := int64(-1)
	for ts := range c.bars {
		if oldest < 0 || ts < oldest {
			oldest = ts
		}
	}
	delete(c.bars, oldest)
}

// List returns the bars in ascending time order.
func (c *Candles) List() []domain.Candle {
	out := make([]domain.Candle, 0, len(c.bars))
	for _, bar := range c.bars {
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}
