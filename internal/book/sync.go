package book

import "github.com/alanyoungcy/xarb/internal/domain"

// DefaultMinBuffered is how many early updates must be buffered before a
// snapshot load is requested.
const DefaultMinBuffered = 2

// DefaultMaxBuffered caps the pre-snapshot buffer. Past it the oldest
// updates are dropped; the snapshot that eventually lands covers them.
const DefaultMaxBuffered = 1000

// Sync keeps a bid/ask pair consistent with a sequenced depth feed. Updates
// that arrive before a snapshot are buffered; when the snapshot lands, only
// buffered updates newer than its watermark are replayed. The book is ready
// once that replay finishes.
type Sync struct {
	Bids *OrderBook
	Asks *OrderBook

	minBuffered int
	maxBuffered int
	buffer      []domain.BookUpdate
	ready       bool
	loading     bool
	watermark   int64
}

// NewSync returns an empty, not-ready book pair.
func NewSync(minBuffered int) *Sync {
	if minBuffered < 1 {
		minBuffered = DefaultMinBuffered
	}
	return &Sync{
		Bids:        NewOrderBook(domain.SideBid),
		Asks:        NewOrderBook(domain.SideAsk),
		minBuffered: minBuffered,
		maxBuffered: DefaultMaxBuffered,
	}
}

// Ready reports whether a snapshot has been applied and the buffer drained.
func (s *Sync) Ready() bool { return s.ready }

// Watermark returns the highest sequence reflected in the book.
func (s *Sync) Watermark() int64 { return s.watermark }

// Buffered returns how many updates are waiting for a snapshot.
func (s *Sync) Buffered() int { return len(s.buffer) }

// Apply feeds one update. applied is true when the live book changed. fetch
// is true exactly once per load cycle, when the caller should start fetching
// a snapshot.
func (s *Sync) Apply(u domain.BookUpdate) (applied, fetch bool) {
	if !s.ready {
		s.buffer = append(s.buffer, u)
		if len(s.buffer) > s.maxBuffered {
			s.buffer = s.buffer[len(s.buffer)-s.maxBuffered:]
		}
		if !s.loading && len(s.buffer) >= s.minBuffered {
			s.loading = true
			return false, true
		}
		return false, false
	}
	if u.Sequence != 0 && u.Sequence <= s.watermark {
		return false, false
	}
	s.apply(u)
	return true, false
}

// LoadSnapshot replaces the book with snap, replays buffered updates newer
// than snap.LastUpdateID and marks the book ready.
func (s *Sync) LoadSnapshot(snap domain.DepthSnapshot) (replayed, skipped int) {
	s.Bids.Clear()
	s.Asks.Clear()
	for _, lvl := range snap.Bids {
		s.Bids.Update(lvl.Price, lvl.Size)
	}
	for _, lvl := range snap.Asks {
		s.Asks.Update(lvl.Price, lvl.Size)
	}
	s.watermark = snap.LastUpdateID

	for _, u := range s.buffer {
		if u.Sequence != 0 && u.Sequence <= s.watermark {
			skipped++
			continue
		}
		s.apply(u)
		replayed++
	}
	s.buffer = nil
	s.loading = false
	s.ready = true
	return replayed, skipped
}

// SnapshotFailed clears the in-flight load so the next update requests a new
// one.
func (s *Sync) SnapshotFailed() { s.loading = false }

// Reset drops all state. Used when the feed reconnects and continuity is lost.
func (s *Sync) Reset() {
	s.Bids.Clear()
	s.Asks.Clear()
	s.buffer = nil
	s.ready = false
	s.loading = false
	s.watermark = 0
}

func (s *Sync) apply(u domain.BookUpdate) {
	for _, c := range u.Changes {
		if c.Side == domain.SideAsk {
			s.Asks.Update(c.Price, c.Size)
		} else {
			s.Bids.Update(c.Price, c.Size)
		}
	}
	if u.Sequence > s.watermark {
		s.watermark = u.Sequence
	}
}
