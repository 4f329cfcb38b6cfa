package exchange

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/book"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/metrics"
)

// candleLimit bounds the candle history kept per venue.
const candleLimit = 1440

// State is a venue's live book, account and candle history. The venue's
// handler goroutine is the only writer; the lock exists for readers on other
// goroutines.
type State struct {
	name string
	pair domain.Pair
	fee  decimal.Decimal

	mu      sync.RWMutex
	depth   *book.Sync
	account *book.Account
	candles *book.Candles

	updates chan struct{}
}

// NewState creates empty state for a venue trading pair at the given fee
// ratio.
func NewState(name string, pair domain.Pair, fee decimal.Decimal) *State {
	return &State{
		name:    name,
		pair:    pair,
		fee:     fee,
		depth:   book.NewSync(book.DefaultMinBuffered),
		account: book.NewAccount(),
		candles: book.NewCandles(candleLimit),
		updates: make(chan struct{}, 1),
	}
}

// Name returns the venue name.
func (s *State) Name() string { return s.name }

// Assets returns the traded pair in the venue's spelling.
func (s *State) Assets() domain.Pair { return s.pair }

// Fee returns the taker fee ratio.
func (s *State) Fee() decimal.Decimal { return s.fee }

// Updates returns the coalescing change notification channel.
func (s *State) Updates() <-chan struct{} { return s.updates }

// ApplyBook feeds one depth batch and reports whether a snapshot load should
// start now.
func (s *State) ApplyBook(u domain.BookUpdate) (fetch bool) {
	s.mu.Lock()
	applied, fetch := s.depth.Apply(u)
	s.mu.Unlock()
	if applied {
		s.notify()
	}
	return fetch
}

// LoadSnapshot installs a full book and marks it ready.
func (s *State) LoadSnapshot(snap domain.DepthSnapshot) (replayed, skipped int) {
	s.mu.Lock()
	replayed, skipped = s.depth.LoadSnapshot(snap)
	s.mu.Unlock()
	metrics.BookReady.WithLabelValues(s.name).Set(1)
	s.notify()
	return replayed, skipped
}

// SnapshotFailed allows the next update to request another snapshot.
func (s *State) SnapshotFailed() {
	s.mu.Lock()
	s.depth.SnapshotFailed()
	s.mu.Unlock()
}

// ResetBook marks the book untrusted until a new snapshot lands.
func (s *State) ResetBook() {
	s.mu.Lock()
	s.depth.Reset()
	s.mu.Unlock()
	metrics.BookReady.WithLabelValues(s.name).Set(0)
}

// ApplyBalances stores free balances.
func (s *State) ApplyBalances(updates ...domain.BalanceUpdate) {
	s.mu.Lock()
	for _, u := range updates {
		s.account.ApplyBalance(u)
	}
	s.mu.Unlock()
	s.notify()
}

// ApplyOrders stores order status changes.
func (s *State) ApplyOrders(updates ...domain.OrderUpdate) {
	s.mu.Lock()
	for _, u := range updates {
		s.account.ApplyOrder(u)
	}
	s.mu.Unlock()
	s.notify()
}

// UpdateCandle records one bar.
func (s *State) UpdateCandle(c domain.Candle) {
	s.mu.Lock()
	s.candles.Update(c)
	s.mu.Unlock()
}

// BookReady reports whether the book can be traded against.
func (s *State) BookReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depth.Ready()
}

// BufferedUpdates returns how many depth batches await a snapshot.
func (s *State) BufferedUpdates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depth.Buffered()
}

// OrderBook returns one side, best first.
func (s *State) OrderBook(side domain.Side) []domain.PriceLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if side == domain.SideAsk {
		return s.depth.Asks.Levels()
	}
	return s.depth.Bids.Levels()
}

// Balances returns a copy of the free balances.
func (s *State) Balances() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.Balances()
}

// OpenOrders returns a copy of the resting orders on one side.
func (s *State) OpenOrders(side domain.OrderSide) map[string]domain.RestingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.Orders(side)
}

// Candles returns the bar history in time order.
func (s *State) Candles() []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candles.List()
}

// Dump renders the full state for diagnostics.
func (s *State) Dump(connected bool) domain.VenueSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.VenueSnapshot{
		Name:       s.name,
		Ready:      s.depth.Ready(),
		Connected:  connected,
		Asks:       s.depth.Asks.Levels(),
		Bids:       s.depth.Bids.Levels(),
		BuyOrders:  s.account.Orders(domain.OrderSideBuy),
		SellOrders: s.account.Orders(domain.OrderSideSell),
		Balances:   s.account.Balances(),
	}
}

// Stat values the venue's holdings in base units: the base balance plus what
// the quote balance buys at the best ask.
func (s *State) Stat() domain.VenueStat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := s.account.Balance(s.pair.Base)
	if best, ok := s.depth.Asks.Best(); ok && best.Price.IsPositive() {
		target = target.Add(s.account.Balance(s.pair.Quote).Div(best.Price))
	}
	return domain.VenueStat{
		Name:              s.name,
		Balances:          s.account.Balances(),
		TargetTokenAmount: target,
	}
}

// notify signals listeners without blocking. Nothing is sent until the book
// is ready.
func (s *State) notify() {
	if !s.BookReady() {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
