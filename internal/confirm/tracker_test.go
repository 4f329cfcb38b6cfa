package confirm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func newTestTracker() *Tracker {
	return NewTracker(10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// submitAsync runs Submit on its own goroutine, sending the given statuses
// from inside send so they land after registration.
func submitAsync(tr *Tracker, cid string, statuses ...[2]string) <-chan result {
	out := make(chan result, 1)
	go func() {
		o, err := tr.Submit(context.Background(), cid, func(context.Context) error {
			go func() {
				for _, s := range statuses {
					tr.Deliver(cid, s[0], s[1])
				}
			}()
			return nil
		})
		out <- result{o, err}
	}()
	return out
}

type result struct {
	outcome domain.Outcome
	err     error
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not resolve")
		return result{}
	}
}

func TestTrackerOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		statuses [][2]string
		want     domain.OutcomeStatus
	}{
		{"fill after ack", [][2]string{{StatusPlaceSuccess, ""}, {"ACTIVE", ""}, {"EXECUTED @ 100.0(1.0)", ""}}, domain.OutcomeFilled},
		{"rejected", [][2]string{{StatusPlaceFail, "insufficient balance"}}, domain.OutcomeRejected},
		{"canceled", [][2]string{{StatusPlaceSuccess, ""}, {"CANCELED", ""}}, domain.OutcomeCanceled},
		{"partial then fill", [][2]string{{"PARTIALLY FILLED @ 100.0(0.5)", ""}, {"EXECUTED @ 100.0(1.0)", ""}}, domain.OutcomeFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			r := wait(t, submitAsync(tr, "42", tt.statuses...))
			require.NoError(t, r.err)
			assert.Equal(t, tt.want, r.outcome.Status)
			assert.Equal(t, "42", r.outcome.ClientID)
			assert.Equal(t, 0, tr.Pending())
		})
	}
}

func TestTrackerRejectReasonAndStrayEvent(t *testing.T) {
	tr := newTestTracker()
	r := wait(t, submitAsync(tr, "7", [2]string{StatusPlaceFail, "price too far"}))
	require.NoError(t, r.err)
	assert.Equal(t, domain.OutcomeRejected, r.outcome.Status)
	assert.Equal(t, "price too far", r.outcome.Detail)

	assert.False(t, tr.Deliver("7", "EXECUTED @ 1(1)", ""), "resolved id must not be resurrected")
	assert.Equal(t, 0, tr.Pending())
}

func TestTrackerSendFailureCleansUp(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Submit(context.Background(), "9", func(context.Context) error {
		return errors.New("socket closed")
	})
	require.Error(t, err)
	assert.Equal(t, 0, tr.Pending())
}

func TestTrackerRegistersBeforeSend(t *testing.T) {
	tr := newTestTracker()
	out, err := tr.Submit(context.Background(), "1", func(context.Context) error {
		// The venue may answer before send returns.
		require.True(t, tr.Deliver("1", "EXECUTED", ""))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, out.Filled())
}

func TestTrackerCloseReleasesWaiters(t *testing.T) {
	tr := newTestTracker()
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, cid := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(cid string) {
			defer wg.Done()
			_, err := tr.Submit(context.Background(), cid, func(context.Context) error { return nil })
			errs <- err
		}(cid)
	}
	require.Eventually(t, func() bool { return tr.Pending() == 3 }, time.Second, time.Millisecond)

	tr.Close()
	tr.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, domain.ErrTrackerClosed)
	}
	assert.Equal(t, 0, tr.Pending())

	_, err := tr.Submit(context.Background(), "d", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTrackerClosed)
}

func TestTrackerDuplicateID(t *testing.T) {
	tr := newTestTracker()
	first := submitAsync(tr, "dup")
	require.Eventually(t, func() bool { return tr.Pending() == 1 }, time.Second, time.Millisecond)

	_, err := tr.Submit(context.Background(), "dup", func(context.Context) error { return nil })
	assert.Error(t, err)

	tr.Deliver("dup", "CANCELED", "")
	r := wait(t, first)
	assert.Equal(t, domain.OutcomeCanceled, r.outcome.Status)
}

func TestIDSourceMonotonic(t *testing.T) {
	s := NewIDSource()
	a, b := s.Next(), s.Next()
	assert.Greater(t, b, a)
	assert.GreaterOrEqual(t, a, time.Now().Add(-time.Minute).UnixMilli())
}
