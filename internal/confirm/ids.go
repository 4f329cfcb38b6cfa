package confirm

import (
	"sync/atomic"
	"time"
)

// IDSource hands out strictly increasing client order ids seeded from the
// wall clock in milliseconds, so ids stay unique across restarts as long as
// fewer than a thousand orders a second are placed.
type IDSource struct {
	last atomic.Int64
}

// NewIDSource seeds a source from the current time.
func NewIDSource() *IDSource {
	s := &IDSource{}
	s.last.Store(time.Now().UnixMilli())
	return s
}

// Next returns the next id.
func (s *IDSource) Next() int64 {
	return s.last.Add(1)
}
