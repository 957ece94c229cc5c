package engine

import "sync/atomic"

// Order and trade identifiers are process-unique, not per-book: several
// OrderBook instances (one per symbol) share these counters so that an id
// never repeats across the whole process.
var (
	nextOrderID atomic.Int64
	nextTradeID atomic.Int64
)

func mintOrderID() int64 {
	return nextOrderID.Add(1)
}

func mintTradeID() int64 {
	return nextTradeID.Add(1)
}
