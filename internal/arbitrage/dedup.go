package arbitrage

import (
	"sync"
	"time"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// recentSet remembers opportunity fingerprints for a TTL so the same book
// state is reported once rather than on every tick.
type recentSet struct {
	ttl  time.Duration
	mu   sync.Mutex
	seen map[string]time.Time
}

func newRecentSet(ttl time.Duration) *recentSet {
	return &recentSet{ttl: ttl, seen: make(map[string]time.Time)}
}

// firstSighting records opp and reports whether it was not seen within the
// TTL. A zero TTL reports every sighting.
func (r *recentSet) firstSighting(opp domain.Opportunity, now time.Time) bool {
	if r.ttl <= 0 {
		return true
	}
	key := fingerprint(opp)

	r.mu.Lock()
	defer r.mu.Unlock()
	if at, ok := r.seen[key]; ok && now.Sub(at) < r.ttl {
		return false
	}
	r.seen[key] = now
	return true
}

// prune drops fingerprints older than the TTL.
func (r *recentSet) prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, at := range r.seen {
		if now.Sub(at) >= r.ttl {
			delete(r.seen, key)
		}
	}
}

func fingerprint(opp domain.Opportunity) string {
	return opp.BuyVenue + ">" + opp.SellVenue + "|" +
		opp.Amount.String() + "@" + opp.BuyPrice.String() + "/" + opp.SellPrice.String()
}
