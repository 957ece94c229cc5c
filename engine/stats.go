package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatisticsSnapshot is the public, read-only view of TradeStatistics.
type StatisticsSnapshot struct {
	Count        int64
	TotalVolume  int64
	TotalValue   float64
	AveragePrice float64
	MinPrice     float64
	MaxPrice     float64
	LastTradeAt  time.Time
	HasTrades    bool
}

// TradeStatistics holds cumulative, volume-weighted aggregates over every
// trade emitted by a book. It is updated inside the same critical section
// that emits the trade (see OrderBook.Submit), so any observer that sees
// trade n in the log also sees statistics consistent with trades 1..n.
//
// total_value accumulates with shopspring/decimal rather than plain
// float64 addition: a long-running book emits many trades, and naive
// running sums drift from true floating-point summation error over time.
// Comparisons and matching decisions elsewhere in the book are untouched —
// this only protects the reported aggregate.
type TradeStatistics struct {
	count       int64
	totalVolume int64
	totalValue  decimal.Decimal
	minPrice    float64
	maxPrice    float64
	lastTradeAt time.Time
	hasTrades   bool
}

func newTradeStatistics() *TradeStatistics {
	return &TradeStatistics{totalValue: decimal.Zero}
}

// record folds one trade into the running aggregates. Callers must hold the
// book's write lock.
func (s *TradeStatistics) record(t Trade) {
	s.count++
	s.totalVolume += t.Quantity

	value := decimal.NewFromFloat(t.Price).Mul(decimal.NewFromInt(t.Quantity))
	s.totalValue = s.totalValue.Add(value)

	if !s.hasTrades || t.Price < s.minPrice {
		s.minPrice = t.Price
	}
	if !s.hasTrades || t.Price > s.maxPrice {
		s.maxPrice = t.Price
	}
	s.hasTrades = true
	s.lastTradeAt = t.Timestamp
}

func (s *TradeStatistics) snapshot() StatisticsSnapshot {
	snap := StatisticsSnapshot{
		Count:       s.count,
		TotalVolume: s.totalVolume,
		TotalValue:  s.totalValueFloat(),
		MinPrice:    s.minPrice,
		MaxPrice:    s.maxPrice,
		LastTradeAt: s.lastTradeAt,
		HasTrades:   s.hasTrades,
	}
	if s.totalVolume > 0 {
		avg := s.totalValue.Div(decimal.NewFromInt(s.totalVolume))
		snap.AveragePrice, _ = avg.Float64()
	}
	return snap
}

func (s *TradeStatistics) totalValueFloat() float64 {
	f, _ := s.totalValue.Float64()
	return f
}
