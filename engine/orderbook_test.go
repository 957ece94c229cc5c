package engine

import (
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSimpleCross(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	if trades, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 50}); err != nil || len(trades) != 0 {
		t.Fatalf("unexpected result submitting bid: trades=%v err=%v", trades, err)
	}
	if trades, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 101.0, Quantity: 50}); err != nil || len(trades) != 0 {
		t.Fatalf("unexpected result submitting ask: trades=%v err=%v", trades, err)
	}

	bid, _ := ob.BestBid()
	ask, _ := ob.BestAsk()
	if bid != 100 || ask != 101 {
		t.Fatalf("expected bid=100 ask=101, got bid=%v ask=%v", bid, ask)
	}
	if spread := ob.Spread(); spread != 1 {
		t.Fatalf("expected spread=1, got %v", spread)
	}

	trades, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 50})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(trades) != 1 || trades[0].Price != 100.0 || trades[0].Quantity != 50 {
		t.Fatalf("unexpected trade: %+v", trades)
	}
	if _, ok := ob.BestBid(); ok {
		t.Fatalf("expected empty bid side")
	}
	// The crossing sell filled completely and did not rest; the earlier ask
	// at 101 is not touched by a sell-side match.
	if ask, ok := ob.BestAsk(); !ok || ask != 101 {
		t.Fatalf("expected the untouched ask at 101 to remain, got ask=%v ok=%v", ask, ok)
	}
	if n := ob.TotalOrders(); n != 1 {
		t.Fatalf("expected only the ask at 101 resting, got %d orders", n)
	}
}

func TestPriceTimePriority(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 30}); err != nil {
		t.Fatalf("order A failed: %v", err)
	}
	if ob.TotalOrders() != 1 {
		t.Fatalf("expected 1 resting order, got %d", ob.TotalOrders())
	}

	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 40}); err != nil {
		t.Fatalf("order B failed: %v", err)
	}

	trades, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 30})
	if err != nil {
		t.Fatalf("submit sell failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected exactly one trade, got %d", len(trades))
	}
	if trades[0].Price != 100.0 || trades[0].Quantity != 30 {
		t.Fatalf("unexpected trade: %+v", trades[0])
	}
	// Order A, admitted first, must be the one fully consumed, leaving only
	// order B resting with its original 40.
	snap := ob.Snapshot(5)
	if len(snap.Bids) != 1 || snap.Bids[0].TotalQuantity != 40 {
		t.Fatalf("expected order B resting with 40 remaining, got %+v", snap.Bids)
	}
}

func TestPricePriorityDominatesTime(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 99.0, Quantity: 50}); err != nil {
		t.Fatalf("order A failed: %v", err)
	}
	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 101.0, Quantity: 50}); err != nil {
		t.Fatalf("order B failed: %v", err)
	}

	trades, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 99.0, Quantity: 50})
	if err != nil {
		t.Fatalf("submit sell failed: %v", err)
	}
	if len(trades) != 1 || trades[0].Price != 101.0 || trades[0].Quantity != 50 {
		t.Fatalf("expected one trade at 101.0 for 50, got %+v", trades)
	}
}

func TestPartialFill(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 100}); err != nil {
		t.Fatalf("order A failed: %v", err)
	}

	trades, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 40})
	if err != nil {
		t.Fatalf("submit sell failed: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 40 {
		t.Fatalf("expected one trade of 40, got %+v", trades)
	}

	snap := ob.Snapshot(5)
	if len(snap.Bids) != 1 || snap.Bids[0].TotalQuantity != 60 {
		t.Fatalf("expected 60 remaining on order A, got %+v", snap.Bids)
	}
}

func TestMarketOrderSweep(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	if _, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 105.0, Quantity: 50}); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	trades, err := ob.Submit(Order{Side: Buy, Type: Market, Quantity: 50})
	if err != nil {
		t.Fatalf("market buy failed: %v", err)
	}
	if len(trades) != 1 || trades[0].Price != 105.0 || trades[0].Quantity != 50 {
		t.Fatalf("unexpected trade: %+v", trades)
	}

	trades, err = ob.Submit(Order{Side: Buy, Type: Market, Quantity: 20})
	if err != nil {
		t.Fatalf("market buy on empty book failed: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected zero trades on empty ask side, got %+v", trades)
	}
	if ob.TotalOrders() != 0 {
		t.Fatalf("market order must never rest, total orders = %d", ob.TotalOrders())
	}
}

func TestMultiLevelFIFOMatch(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	for _, qty := range []int64{20, 30, 25} {
		if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: qty}); err != nil {
			t.Fatalf("resting bid failed: %v", err)
		}
	}

	trades, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 75})
	if err != nil {
		t.Fatalf("submit sell failed: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	wantQuantities := []int64{20, 30, 25}
	for i, want := range wantQuantities {
		if trades[i].Quantity != want || trades[i].Price != 100.0 {
			t.Fatalf("trade %d: want qty=%d price=100.0, got %+v", i, want, trades[i])
		}
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 50}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(ob.Snapshot(1).Bids) != 1 {
		t.Fatalf("expected resting order")
	}
	if ob.Cancel(999999) {
		t.Fatalf("cancel of unknown id must return false")
	}
}

func TestCancelRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

		ob.mu.Lock()
		id := mintOrderID()
		resting := Order{
			ID:                id,
			Symbol:            "AAPL",
			Side:              Buy,
			Type:              Limit,
			Price:             100.0,
			Quantity:          50,
			RemainingQuantity: 50,
			Status:            Active,
			Timestamp:         ob.clock(),
		}
		ob.restOrder(&resting)
		ob.mu.Unlock()

		var wg sync.WaitGroup
		var cancelled bool
		var trades []Trade
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancelled = ob.Cancel(id)
		}()
		go func() {
			defer wg.Done()
			trades, _ = ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 50})
		}()
		wg.Wait()

		if cancelled && len(trades) != 0 {
			t.Fatalf("cancel succeeded but a trade was still emitted: %+v", trades)
		}
		if !cancelled && (len(trades) != 1 || trades[0].Quantity != 50 || trades[0].Price != 100.0) {
			t.Fatalf("cancel failed but no matching trade was emitted: %+v", trades)
		}
	}
}

func TestNeverCrossedAfterSubmit(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})
	submissions := []struct {
		side  Side
		price float64
	}{
		{Buy, 100}, {Buy, 99}, {Sell, 102}, {Sell, 103}, {Buy, 101}, {Sell, 100},
	}
	for _, s := range submissions {
		if _, err := ob.Submit(Order{Side: s.side, Type: Limit, Price: s.price, Quantity: 10}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		bid, hasBid := ob.BestBid()
		ask, hasAsk := ob.BestAsk()
		if hasBid && hasAsk && bid >= ask {
			t.Fatalf("book crossed: bid=%v ask=%v", bid, ask)
		}
	}
}

func TestStatistics(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})

	if _, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 10}); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 10}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 110.0, Quantity: 5}); err != nil {
		t.Fatalf("ask2 failed: %v", err)
	}
	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 110.0, Quantity: 5}); err != nil {
		t.Fatalf("buy2 failed: %v", err)
	}

	stats := ob.Statistics()
	if stats.Count != 2 || stats.TotalVolume != 15 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	wantTotal := 100.0*10 + 110.0*5
	if stats.TotalValue != wantTotal {
		t.Fatalf("want total value %v, got %v", wantTotal, stats.TotalValue)
	}
	wantAvg := wantTotal / 15
	if diff := stats.AveragePrice - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("want avg price %v, got %v", wantAvg, stats.AveragePrice)
	}
	if stats.MinPrice != 100.0 || stats.MaxPrice != 110.0 {
		t.Fatalf("unexpected min/max: %+v", stats)
	}
}

func TestRejectsInvalidOrders(t *testing.T) {
	ob := New(Config{Symbol: "AAPL"})

	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100, Quantity: 0}); err != ErrInvalidQuantity {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 0, Quantity: 10}); err != ErrInvalidPrice {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := ob.Submit(Order{Symbol: "MSFT", Side: Buy, Type: Limit, Price: 10, Quantity: 10}); err != ErrSymbolMismatch {
		t.Fatalf("expected ErrSymbolMismatch, got %v", err)
	}
}

func TestClear(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})
	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100, Quantity: 10}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	ob.Clear()
	if ob.TotalOrders() != 0 {
		t.Fatalf("expected empty book after Clear")
	}
	if len(ob.TradeLogCopy()) != 0 {
		t.Fatalf("expected empty trade log after Clear")
	}
}

func TestTradeListenerFanout(t *testing.T) {
	var mu sync.Mutex
	var seen []Trade
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))}, func(tr Trade) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	})

	if _, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 10}); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if _, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 10}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("expected one trade delivered to listener, got %d", len(seen))
	}
}

func TestTradeIDsMonotonicAcrossSubmissions(t *testing.T) {
	ob := New(Config{Symbol: "AAPL", Clock: fixedClock(time.Unix(0, 0))})
	if _, err := ob.Submit(Order{Side: Sell, Type: Limit, Price: 100.0, Quantity: 30}); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	var lastID int64
	for i := 0; i < 3; i++ {
		trades, err := ob.Submit(Order{Side: Buy, Type: Limit, Price: 100.0, Quantity: 10})
		if err != nil {
			t.Fatalf("buy failed: %v", err)
		}
		if len(trades) != 1 {
			t.Fatalf("expected one trade, got %d", len(trades))
		}
		if trades[0].TradeID <= lastID {
			t.Fatalf("trade ids must be strictly increasing, got %d after %d", trades[0].TradeID, lastID)
		}
		lastID = trades[0].TradeID
	}
}
