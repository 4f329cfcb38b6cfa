package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func bidUpdate(seq int64, price, size string) domain.BookUpdate {
	return domain.BookUpdate{
		Sequence: seq,
		Changes:  []domain.LevelChange{{Side: domain.SideBid, Price: d(price), Size: d(size)}},
	}
}

func TestSyncBuffersUntilSnapshot(t *testing.T) {
	s := NewSync(2)

	applied, fetch := s.Apply(bidUpdate(10, "100", "1"))
	assert.False(t, applied)
	assert.False(t, fetch)

	applied, fetch = s.Apply(bidUpdate(12, "101", "1"))
	assert.False(t, applied)
	assert.True(t, fetch, "second buffered update requests the snapshot")

	_, fetch = s.Apply(bidUpdate(14, "102", "1"))
	assert.False(t, fetch, "only one load per cycle")
	assert.False(t, s.Ready())
	assert.Equal(t, 0, s.Bids.Len())

	replayed, skipped := s.LoadSnapshot(domain.DepthSnapshot{
		LastUpdateID: 12,
		Bids:         []domain.PriceLevel{{Price: d("99"), Size: d("5")}},
		Asks:         []domain.PriceLevel{{Price: d("103"), Size: d("5")}},
	})
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 2, skipped)
	assert.True(t, s.Ready())
	assert.Equal(t, int64(14), s.Watermark())
	assert.Equal(t, []string{"102", "99"}, prices(s.Bids.Levels()))
}

func TestSyncIgnoresStaleAfterReady(t *testing.T) {
	s := NewSync(1)
	s.Apply(bidUpdate(5, "100", "1"))
	s.LoadSnapshot(domain.DepthSnapshot{LastUpdateID: 20})

	applied, _ := s.Apply(bidUpdate(20, "100", "9"))
	assert.False(t, applied)
	applied, _ = s.Apply(bidUpdate(21, "100", "9"))
	assert.True(t, applied)
	applied, _ = s.Apply(bidUpdate(21, "100", "0"))
	assert.False(t, applied, "duplicate sequence is a no-op")
	require.Equal(t, 1, s.Bids.Len())
}

func TestSyncSnapshotReplacesBook(t *testing.T) {
	s := NewSync(1)
	s.LoadSnapshot(domain.DepthSnapshot{Bids: []domain.PriceLevel{{Price: d("1"), Size: d("1")}}})
	s.LoadSnapshot(domain.DepthSnapshot{Bids: []domain.PriceLevel{{Price: d("2"), Size: d("1")}}})
	assert.Equal(t, []string{"2"}, prices(s.Bids.Levels()))
}

func TestSyncUnsequencedUpdatesAlwaysApply(t *testing.T) {
	s := NewSync(1)
	s.LoadSnapshot(domain.DepthSnapshot{})
	applied, _ := s.Apply(bidUpdate(0, "100", "1"))
	assert.True(t, applied)
	applied, _ = s.Apply(bidUpdate(0, "100", "0"))
	assert.True(t, applied)
	assert.Equal(t, 0, s.Bids.Len())
}

func TestSyncResetAndRetry(t *testing.T) {
	s := NewSync(1)
	_, fetch := s.Apply(bidUpdate(1, "100", "1"))
	require.True(t, fetch)
	s.SnapshotFailed()
	_, fetch = s.Apply(bidUpdate(2, "100", "1"))
	assert.True(t, fetch, "failed load can be retried")

	s.LoadSnapshot(domain.DepthSnapshot{LastUpdateID: 1})
	require.True(t, s.Ready())
	s.Reset()
	assert.False(t, s.Ready())
	assert.Equal(t, 0, s.Bids.Len())
	assert.Equal(t, int64(0), s.Watermark())
}

func TestSyncBufferDropsOldest(t *testing.T) {
	s := NewSync(1)
	s.maxBuffered = 3
	for seq := int64(1); seq <= 5; seq++ {
		s.Apply(bidUpdate(seq, "100", "1"))
	}
	assert.Equal(t, 3, s.Buffered())

	replayed, skipped := s.LoadSnapshot(domain.DepthSnapshot{LastUpdateID: 2})
	assert.Equal(t, 3, replayed, "updates 3..5 survive the cap")
	assert.Zero(t, skipped)
	assert.Equal(t, int64(5), s.Watermark())
}
