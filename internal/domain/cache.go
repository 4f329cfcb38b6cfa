package domain

import (
	"context"
	"time"
)

// Signal bus channels.
const (
	ChannelOpportunity = "xarb:opportunity"
	ChannelExecution   = "xarb:execution"
	ChannelVenue       = "xarb:venue"
)

// SignalBus provides pub/sub for live bot events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
