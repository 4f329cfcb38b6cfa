package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func TestCandlesSortedAndBounded(t *testing.T) {
	c := NewCandles(2)
	base := time.UnixMilli(1_700_000_000_000)
	c.Update(domain.Candle{OpenTime: base.Add(2 * time.Minute), Close: d("3")})
	c.Update(domain.Candle{OpenTime: base, Close: d("1")})
	c.Update(domain.Candle{OpenTime: base.Add(time.Minute), Close: d("2")})
	c.Update(domain.Candle{OpenTime: base.Add(time.Minute), Close: d("2.5")})

	bars := c.List()
	if assert.Len(t, bars, 2) {
		assert.Equal(t, "2.5", bars[0].Close.String())
		assert.Equal(t, "3", bars[1].Close.String())
	}
}
