package engine

import "time"

// Instrumentation is the narrow seam the metrics package hooks into. The
// book depends only on this interface, never on prometheus directly, so it
// stays importable without pulling in the metrics stack.
type Instrumentation interface {
	OrderProcessed(symbol string, side Side)
	TradeExecuted(symbol string)
	RecordDepth(symbol string, side Side, quantity int64)
	RecordMatchLatency(symbol string, d time.Duration)
}

type noopInstrumentation struct{}

func (noopInstrumentation) OrderProcessed(string, Side)            {}
func (noopInstrumentation) TradeExecuted(string)                   {}
func (noopInstrumentation) RecordDepth(string, Side, int64)        {}
func (noopInstrumentation) RecordMatchLatency(string, time.Duration) {}
