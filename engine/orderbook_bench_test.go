package engine

import (
	"math/rand"
	"testing"
)

func BenchmarkMatchThroughput(b *testing.B) {
	ob := New(Config{Symbol: "SIM"})
	randGen := rand.New(rand.NewSource(42))

	orders := make([]Order, b.N)
	for i := 0; i < b.N; i++ {
		orders[i] = randomBenchmarkOrder(randGen)
	}

	var matched int64

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		trades, err := ob.Submit(orders[i])
		if err != nil {
			b.Fatalf("submit failed: %v", err)
		}
		matched += int64(len(trades))
	}

	b.StopTimer()

	if elapsed := b.Elapsed(); elapsed > 0 {
		tradesPerSecond := float64(matched) / elapsed.Seconds()
		b.ReportMetric(tradesPerSecond, "trades/sec")
	}
}

func randomBenchmarkOrder(rng *rand.Rand) Order {
	side := Side(rng.Intn(2))
	var price float64
	base := 10_000.0
	width := 100.0
	if side == Buy {
		price = base + rng.Float64()*width
	} else {
		price = base - rng.Float64()*width
		if price <= 0 {
			price = 1
		}
	}

	otype := Limit
	if rng.Intn(5) == 0 {
		otype = Market
	}

	return Order{
		Symbol:   "SIM",
		Side:     side,
		Type:     otype,
		Price:    price,
		Quantity: rng.Int63n(5) + 1,
	}
}
