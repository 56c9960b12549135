package util

import "time"

// Backoff yields doubling retry delays capped at a maximum.
// Create one per retried operation; it is not safe for concurrent use.
type Backoff struct {
	next     time.Duration
	maxDelay time.Duration
}

// NewBackoff returns a Backoff whose first delay is initial.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{next: initial, maxDelay: maxDelay}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(2*b.next, b.maxDelay)
	return d
}
