package models

import (
	"sync/atomic"
	"time"
)

var lastTransactionID atomic.Int64

// NewTransactionID returns a millisecond transaction stamp that is strictly
// greater than every stamp previously returned by this process.
func NewTransactionID() int64 {
	for {
		now := time.Now().UnixMilli()
		last := lastTransactionID.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if lastTransactionID.CompareAndSwap(last, next) {
			return next
		}
	}
}
