// Package confirm correlates locally generated client order ids with the
// asynchronous acknowledgements a venue pushes on its account stream.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Request-level statuses delivered before any order status.
const (
	StatusPlaceSuccess = "place_success"
	StatusPlaceFail    = "place_fail"
)

// DefaultPollInterval is how often a waiter wakes to report it is still
// waiting.
const DefaultPollInterval = 2 * time.Second

// deliveryBuffer bounds how many transitions can queue for one order.
const deliveryBuffer = 32

type event struct {
	status string
	detail string
}

// Tracker holds one delivery channel per pending client id.
type Tracker struct {
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]chan event
	closed  bool
	closing chan struct{}
}

// NewTracker creates an empty tracker.
func NewTracker(pollInterval time.Duration, logger *slog.Logger) *Tracker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Tracker{
		pollInterval: pollInterval,
		logger:       logger.With(slog.String("component", "confirm")),
		pending:      make(map[string]chan event),
		closing:      make(chan struct{}),
	}
}

// Submit registers cid, calls send, and blocks until a terminal status for
// cid arrives. There is no timeout: only ctx or Close end the wait early.
// The pending entry is removed on every return path.
func (t *Tracker) Submit(ctx context.Context, cid string, send func(ctx context.Context) error) (domain.Outcome, error) {
	ch := make(chan event, deliveryBuffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.Outcome{ClientID: cid}, fmt.Errorf("confirm: submit %s: %w", cid, domain.ErrTrackerClosed)
	}
	if _, dup := t.pending[cid]; dup {
		t.mu.Unlock()
		return domain.Outcome{ClientID: cid}, fmt.Errorf("confirm: submit %s: duplicate client id", cid)
	}
	t.pending[cid] = ch
	t.mu.Unlock()
	defer t.remove(cid)

	if err := send(ctx); err != nil {
		return domain.Outcome{ClientID: cid}, fmt.Errorf("confirm: send %s: %w", cid, err)
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case ev := <-ch:
			if out, done := resolve(cid, ev); done {
				return out, nil
			}
			t.logger.Debug("confirm: non-terminal status",
				slog.String("cid", cid),
				slog.String("status", ev.status),
			)
		case <-ticker.C:
			t.logger.Info("confirm: still awaiting order outcome",
				slog.String("cid", cid),
				slog.Duration("elapsed", time.Since(start)),
			)
		case <-t.closing:
			return domain.Outcome{ClientID: cid}, fmt.Errorf("confirm: await %s: %w", cid, domain.ErrTrackerClosed)
		case <-ctx.Done():
			return domain.Outcome{ClientID: cid}, fmt.Errorf("confirm: await %s: %w", cid, ctx.Err())
		}
	}
}

// Deliver routes a status transition to the waiter for cid. It reports
// whether a waiter received it; events for unknown or resolved ids are
// dropped.
func (t *Tracker) Deliver(cid, status, detail string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.pending[cid]
	if !ok {
		return false
	}
	select {
	case ch <- event{status: status, detail: detail}:
		return true
	default:
		t.logger.Warn("confirm: delivery buffer full, dropping status",
			slog.String("cid", cid),
			slog.String("status", status),
		)
		return false
	}
}

// Pending returns the number of unresolved orders.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close releases every waiter with ErrTrackerClosed and rejects new
// submissions.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.closing)
}

func (t *Tracker) remove(cid string) {
	t.mu.Lock()
	delete(t.pending, cid)
	t.mu.Unlock()
}

func resolve(cid string, ev event) (domain.Outcome, bool) {
	switch ev.status {
	case StatusPlaceFail:
		return domain.Outcome{ClientID: cid, Status: domain.OutcomeRejected, Detail: ev.detail}, true
	case StatusPlaceSuccess:
		return domain.Outcome{}, false
	}

	s := strings.ToLower(ev.status)
	switch {
	case strings.Contains(s, "executed"):
		return domain.Outcome{ClientID: cid, Status: domain.OutcomeFilled, Detail: ev.status}, true
	case strings.Contains(s, "canceled"):
		return domain.Outcome{ClientID: cid, Status: domain.OutcomeCanceled, Detail: ev.status}, true
	}
	return domain.Outcome{}, false
}
