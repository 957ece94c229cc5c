// Package marketdata implements a reconnecting, authenticated duplex
// session against an Alpaca-style streaming market-data endpoint: the
// connection state machine, subscription management, heartbeat
// supervision, and the frame decoder that turns inbound JSON into typed
// ticks and control events.
package marketdata

import "time"

// TickType discriminates the payload carried by a MarketTick.
type TickType int

const (
	// TickTrade carries a single executed trade print.
	TickTrade TickType = iota
	// TickQuote carries a top-of-book bid/ask update.
	TickQuote
	// TickBar carries an aggregated OHLCV bar. The upstream "b", "d", and
	// "u" frame subtypes (bar, daily bar, updated bar) all collapse to
	// this one kind; nothing downstream distinguishes them.
	TickBar
)

func (t TickType) String() string {
	switch t {
	case TickTrade:
		return "trade"
	case TickQuote:
		return "quote"
	case TickBar:
		return "bar"
	default:
		return "unknown"
	}
}

// MarketTick is one decoded upstream data frame. Only the fields relevant
// to Type are populated; the rest hold their zero value.
type MarketTick struct {
	Type   TickType `json:"type"`
	Symbol string   `json:"symbol"`

	// Trade fields.
	Price float64 `json:"price,omitempty"`
	Size  int64   `json:"size,omitempty"`

	// Quote fields.
	BidPrice float64 `json:"bid_price,omitempty"`
	AskPrice float64 `json:"ask_price,omitempty"`
	BidSize  int64   `json:"bid_size,omitempty"`
	AskSize  int64   `json:"ask_size,omitempty"`

	// Bar fields.
	Open   float64 `json:"open,omitempty"`
	High   float64 `json:"high,omitempty"`
	Low    float64 `json:"low,omitempty"`
	Close  float64 `json:"close,omitempty"`
	Volume int64   `json:"volume,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// MarketSubscription names a symbol and which channels to subscribe it on.
type MarketSubscription struct {
	Symbol string
	Trades bool
	Quotes bool
	Bars   bool
}

// State is a position in the session's connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Authenticating
	Ready
	Closing
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}
