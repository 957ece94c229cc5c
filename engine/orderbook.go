package engine

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel validation errors returned by Submit. None of these are fatal;
// the caller decides what to do with a rejected order.
var (
	ErrInvalidQuantity = errors.New("engine: quantity must be positive")
	ErrInvalidPrice    = errors.New("engine: limit price must be positive")
	ErrSymbolMismatch  = errors.New("engine: order symbol does not match book")
)

// TradeListener observes trades after they are committed. It runs outside
// the book's critical section, so a slow listener never blocks a writer.
type TradeListener func(Trade)

// OrderBook holds resting bids and asks for one symbol and runs the
// price-time priority match loop. Reads (BestBid, BestAsk, Spread,
// Snapshot, TradeLogCopy, TotalOrders) take a shared lock; Submit, Cancel,
// and Clear take an exclusive lock. One Submit's admission, matching, trade
// emission, and statistics update is a single critical section.
type OrderBook struct {
	mu sync.RWMutex

	symbol string
	clock  func() time.Time

	bids *levelHeap
	asks *levelHeap
	// bidLevels/askLevels index a resting price straight to its level,
	// avoiding a heap scan on insert/cancel.
	bidLevels map[float64]*priceLevel
	askLevels map[float64]*priceLevel
	orders    map[int64]*Order

	tradeLog []Trade
	stats    *TradeStatistics

	listeners []TradeListener
	instr     Instrumentation
}

// New constructs an empty OrderBook for one symbol.
func New(cfg Config, listeners ...TradeListener) *OrderBook {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OrderBook{
		symbol:    cfg.Symbol,
		clock:     clock,
		bids:      newBidHeap(),
		asks:      newAskHeap(),
		bidLevels: make(map[float64]*priceLevel),
		askLevels: make(map[float64]*priceLevel),
		orders:    make(map[int64]*Order),
		stats:     newTradeStatistics(),
		listeners: listeners,
		instr:     noopInstrumentation{},
	}
}

// SetInstrumentation wires a metrics sink. Passing nil restores the no-op.
func (ob *OrderBook) SetInstrumentation(instr Instrumentation) {
	if instr == nil {
		instr = noopInstrumentation{}
	}
	ob.mu.Lock()
	ob.instr = instr
	ob.mu.Unlock()
}

// Symbol returns the symbol this book is scoped to.
func (ob *OrderBook) Symbol() string { return ob.symbol }

// Submit admits order, runs the match loop, and returns the trades this
// submission produced in emission order. A Limit order with remaining
// quantity after matching rests at the back of its price level; a Market
// order's remainder, if any, is discarded.
func (ob *OrderBook) Submit(order Order) ([]Trade, error) {
	if order.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if order.Type == Limit && order.Price <= 0 {
		return nil, ErrInvalidPrice
	}
	if order.Symbol != "" && ob.symbol != "" && order.Symbol != ob.symbol {
		return nil, ErrSymbolMismatch
	}
	if order.Symbol == "" {
		order.Symbol = ob.symbol
	}

	start := time.Now()

	ob.mu.Lock()

	order.ID = mintOrderID()
	order.Timestamp = ob.clock()
	order.RemainingQuantity = order.Quantity
	order.Status = Active

	trades := ob.matchLoop(&order)

	if order.Type == Limit && order.RemainingQuantity > 0 {
		if len(trades) > 0 {
			order.Status = PartiallyFilled
		}
		ob.restOrder(&order)
	} else if order.RemainingQuantity == 0 {
		order.Status = Filled
	}

	for _, trade := range trades {
		ob.tradeLog = append(ob.tradeLog, trade)
		ob.stats.record(trade)
	}

	ob.assertUncrossed()

	instr := ob.instr
	bidDepth, askDepth := ob.depthTotals()
	ob.mu.Unlock()

	instr.OrderProcessed(order.Symbol, order.Side)
	instr.RecordMatchLatency(order.Symbol, time.Since(start))
	instr.RecordDepth(order.Symbol, Buy, bidDepth)
	instr.RecordDepth(order.Symbol, Sell, askDepth)
	for range trades {
		instr.TradeExecuted(order.Symbol)
	}
	for _, trade := range trades {
		for _, listen := range ob.listeners {
			listen(trade)
		}
	}

	return trades, nil
}

// matchLoop runs while incoming has remaining quantity and the opposite
// book is crossable, emitting one Trade per resting order consumed. Callers
// must hold ob.mu for writing.
func (ob *OrderBook) matchLoop(incoming *Order) []Trade {
	var opposite *levelHeap
	if incoming.Side == Buy {
		opposite = ob.asks
	} else {
		opposite = ob.bids
	}

	var trades []Trade
	for incoming.RemainingQuantity > 0 {
		level := opposite.peek()
		if level == nil {
			break
		}
		if !crossable(incoming, level.price) {
			break
		}

		restingID := level.orderIDs[0]
		resting := ob.orders[restingID]

		quantity := min64(incoming.RemainingQuantity, resting.RemainingQuantity)
		price := level.price

		trade := Trade{
			TradeID:   mintTradeID(),
			Symbol:    incoming.Symbol,
			Price:     price,
			Quantity:  quantity,
			Timestamp: ob.clock(),
		}
		if incoming.Side == Buy {
			trade.BuyOrderID = incoming.ID
			trade.SellOrderID = resting.ID
		} else {
			trade.BuyOrderID = resting.ID
			trade.SellOrderID = incoming.ID
		}
		trades = append(trades, trade)

		incoming.RemainingQuantity -= quantity
		resting.RemainingQuantity -= quantity

		if resting.RemainingQuantity == 0 {
			resting.Status = Filled
			level.orderIDs = level.orderIDs[1:]
			delete(ob.orders, restingID)
			if len(level.orderIDs) == 0 {
				ob.dropLevel(incoming.Side.opposite(), level)
			}
		} else {
			resting.Status = PartiallyFilled
		}
	}
	return trades
}

// crossable reports whether an incoming order can execute against the best
// opposite price. Market orders are unconditionally crossable; see
// SPEC_FULL.md §4.1 on the resolved market-order ambiguity.
func crossable(incoming *Order, oppositePrice float64) bool {
	if incoming.Type == Market {
		return true
	}
	if incoming.Side == Buy {
		return incoming.Price >= oppositePrice
	}
	return incoming.Price <= oppositePrice
}

// opposite returns the other side.
func (s Side) opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// restOrder inserts order at the back of its own price level's FIFO queue,
// creating the level if needed. Callers must hold ob.mu for writing.
func (ob *OrderBook) restOrder(order *Order) {
	levels, heapSide := ob.sideState(order.Side)

	level, ok := levels[order.Price]
	if !ok {
		level = &priceLevel{price: order.Price}
		levels[order.Price] = level
		heap.Push(heapSide, level)
	}
	level.orderIDs = append(level.orderIDs, order.ID)

	stored := *order
	ob.orders[order.ID] = &stored
}

func (ob *OrderBook) sideState(side Side) (map[float64]*priceLevel, *levelHeap) {
	if side == Buy {
		return ob.bidLevels, ob.bids
	}
	return ob.askLevels, ob.asks
}

func (ob *OrderBook) dropLevel(side Side, level *priceLevel) {
	levels, heapSide := ob.sideState(side)
	delete(levels, level.price)
	heapSide.remove(level)
}

// Cancel removes the first resting order with this id. It reports whether a
// removal occurred; terminal orders cannot be cancelled.
func (ob *OrderBook) Cancel(orderID int64) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	order, ok := ob.orders[orderID]
	if !ok || order.Status.Terminal() {
		return false
	}

	levels, _ := ob.sideState(order.Side)
	level := levels[order.Price]
	if level == nil {
		return false
	}
	level.removeOrder(orderID)
	if len(level.orderIDs) == 0 {
		ob.dropLevel(order.Side, level)
	}

	order.Status = Cancelled
	delete(ob.orders, orderID)
	return true
}

// BestBid returns the highest resting bid price, or false if bids are empty.
func (ob *OrderBook) BestBid() (float64, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	level := ob.bids.peek()
	if level == nil {
		return 0, false
	}
	return level.price, true
}

// BestAsk returns the lowest resting ask price, or false if asks are empty.
func (ob *OrderBook) BestAsk() (float64, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	level := ob.asks.peek()
	if level == nil {
		return 0, false
	}
	return level.price, true
}

// Spread returns best ask minus best bid, or 0 if either side is empty.
func (ob *OrderBook) Spread() float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bid := ob.bids.peek()
	ask := ob.asks.peek()
	if bid == nil || ask == nil {
		return 0
	}
	return ask.price - bid.price
}

// Snapshot aggregates the top depth price levels on each side.
func (ob *OrderBook) Snapshot(depth int) BookSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	snap := BookSnapshot{Symbol: ob.symbol}
	for _, level := range ob.bids.sortedLevels() {
		if len(snap.Bids) >= depth {
			break
		}
		snap.Bids = append(snap.Bids, ob.levelSnapshot(level))
	}
	for _, level := range ob.asks.sortedLevels() {
		if len(snap.Asks) >= depth {
			break
		}
		snap.Asks = append(snap.Asks, ob.levelSnapshot(level))
	}
	return snap
}

func (ob *OrderBook) levelSnapshot(level *priceLevel) PriceLevelSnapshot {
	return PriceLevelSnapshot{
		Price:         level.price,
		TotalQuantity: level.totalQuantity(ob.orders),
		OrderCount:    len(level.orderIDs),
	}
}

// TradeLogCopy returns a copy of every trade emitted by this book.
func (ob *OrderBook) TradeLogCopy() []Trade {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	out := make([]Trade, len(ob.tradeLog))
	copy(out, ob.tradeLog)
	return out
}

// Statistics returns a snapshot of the running trade statistics.
func (ob *OrderBook) Statistics() StatisticsSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.stats.snapshot()
}

// TotalOrders returns the number of currently resting orders.
func (ob *OrderBook) TotalOrders() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orders)
}

// Clear resets the book to empty: no resting orders, no trade log, no
// statistics.
func (ob *OrderBook) Clear() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.bids = newBidHeap()
	ob.asks = newAskHeap()
	ob.bidLevels = make(map[float64]*priceLevel)
	ob.askLevels = make(map[float64]*priceLevel)
	ob.orders = make(map[int64]*Order)
	ob.tradeLog = nil
	ob.stats = newTradeStatistics()
}

func (ob *OrderBook) depthTotals() (bid, ask int64) {
	for _, level := range ob.bids.levels {
		bid += level.totalQuantity(ob.orders)
	}
	for _, level := range ob.asks.levels {
		ask += level.totalQuantity(ob.orders)
	}
	return bid, ask
}

// assertUncrossed enforces the no-crossed-book invariant. A violation is a
// programmer error in the matcher, not a caller mistake, so it aborts the
// process rather than returning an error. Callers must hold ob.mu.
func (ob *OrderBook) assertUncrossed() {
	bid := ob.bids.peek()
	ask := ob.asks.peek()
	if bid == nil || ask == nil {
		return
	}
	if bid.price >= ask.price {
		panic(fmt.Sprintf("engine: invariant violated, book %q crossed: bid=%v ask=%v", ob.symbol, bid.price, ask.price))
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
