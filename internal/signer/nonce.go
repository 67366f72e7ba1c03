// Package signer computes per-provider authentication envelopes for outbound
// requests. Signers are pure functions of (request, session state) and never
// trigger authentication themselves.
package signer

import (
	"sync/atomic"
	"time"
)

// NonceCounter issues strictly increasing nonces for one credential's
// lifetime, satisfying provider replay protection even under concurrent
// signing. Seeding from the wall clock keeps nonces increasing across
// process restarts as long as restarts take longer than a millisecond.
type NonceCounter struct {
	last atomic.Int64
}

// NewNonceCounter seeds a counter from the current time.
func NewNonceCounter() *NonceCounter {
	c := &NonceCounter{}
	c.last.Store(time.Now().UnixMilli())
	return c
}

// Next returns the next nonce. Safe for concurrent use.
func (c *NonceCounter) Next() int64 {
	return c.last.Add(1)
}
