package utils

import (
	"sync/atomic"
	"time"
)

var txnID = uint64(0)

// GetTxnID returns a process wide increasing transaction number.
func GetTxnID() uint64 {
	return atomic.AddUint64(&txnID, 1)
}

func Min(x int, y int) int {
	if x < y {
		return x
	}
	return y
}

func MinDuration(x, y time.Duration) time.Duration {
	if x < y {
		return x
	}
	return y
}
