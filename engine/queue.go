package engine

import "container/heap"

// priceLevel is a FIFO queue of order ids resting at one price. Orders are
// appended at admission and removed from the front on a full fill, or from
// an arbitrary position on cancellation.
type priceLevel struct {
	price    float64
	orderIDs []int64
	index    int // position in the owning levelHeap, maintained by heap.Interface
}

func (l *priceLevel) totalQuantity(orders map[int64]*Order) int64 {
	var total int64
	for _, id := range l.orderIDs {
		total += orders[id].RemainingQuantity
	}
	return total
}

func (l *priceLevel) removeOrder(id int64) {
	for i, oid := range l.orderIDs {
		if oid == id {
			l.orderIDs = append(l.orderIDs[:i], l.orderIDs[i+1:]...)
			return
		}
	}
}

// levelHeap is a container/heap of price levels. better(a, b) decides which
// price is closer to the top of book: greater-than for bids, less-than for
// asks.
type levelHeap struct {
	levels []*priceLevel
	better func(a, b float64) bool
}

func newBidHeap() *levelHeap {
	return &levelHeap{better: func(a, b float64) bool { return a > b }}
}

func newAskHeap() *levelHeap {
	return &levelHeap{better: func(a, b float64) bool { return a < b }}
}

func (h *levelHeap) Len() int { return len(h.levels) }

func (h *levelHeap) Less(i, j int) bool {
	return h.better(h.levels[i].price, h.levels[j].price)
}

func (h *levelHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *levelHeap) Push(x any) {
	level := x.(*priceLevel)
	level.index = len(h.levels)
	h.levels = append(h.levels, level)
}

func (h *levelHeap) Pop() any {
	old := h.levels
	n := len(old)
	level := old[n-1]
	old[n-1] = nil
	level.index = -1
	h.levels = old[:n-1]
	return level
}

// peek returns the top-of-book level without removing it.
func (h *levelHeap) peek() *priceLevel {
	if len(h.levels) == 0 {
		return nil
	}
	return h.levels[0]
}

// remove deletes the level at the given heap index.
func (h *levelHeap) remove(level *priceLevel) {
	heap.Remove(h, level.index)
}

// sortedLevels returns a copy of the resting levels ordered best-first,
// without disturbing heap order. Used only by Snapshot, which is not on the
// hot matching path.
func (h *levelHeap) sortedLevels() []*priceLevel {
	out := make([]*priceLevel, len(h.levels))
	copy(out, h.levels)
	// Simple insertion sort: depth requested is small and this runs off the
	// write path, so O(n^2) on the full level count is not a concern.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && h.better(out[j].price, out[j-1].price); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
