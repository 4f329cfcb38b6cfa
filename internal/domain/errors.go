package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTransport           = errors.New("transport error")
	ErrMalformedMessage    = errors.New("malformed message")
	ErrBookNotReady        = errors.New("order book not ready")
	ErrOrderRejected       = errors.New("order rejected")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPartialExecution    = errors.New("partial execution")
	ErrTrackerClosed       = errors.New("confirmation tracker closed")
	ErrLockHeld            = errors.New("lock already held")
)
