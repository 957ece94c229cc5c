package marketdata

import (
	"encoding/json"
	"fmt"
)

// EventKind discriminates the decoded result of one inbound frame.
type EventKind int

const (
	EventAuthenticated EventKind = iota
	EventConnected
	EventSubscriptionAck
	EventError
	EventTick
	EventUnknown
)

// SubscriptionAck is the authoritative post-ack subscription set: the
// session replaces its whole active set with the union of these slices,
// it never merges incrementally.
type SubscriptionAck struct {
	Trades []string
	Quotes []string
	Bars   []string
}

// ErrorEvent carries an upstream-reported error frame.
type ErrorEvent struct {
	Code    int
	Message string
}

// Event is one decoded frame. Only the field matching Kind is populated.
type Event struct {
	Kind            EventKind
	Tick            MarketTick
	SubscriptionAck SubscriptionAck
	Error           ErrorEvent
	RawType         string // set on EventUnknown, for logging
}

// wireFrame mirrors the Alpaca-like JSON shape across every frame type the
// upstream sends. Decoding into one superset struct and switching on T
// avoids round-tripping through map[string]interface{}.
type wireFrame struct {
	T       string `json:"T"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
	Code    int    `json:"code"`

	S string `json:"S"`

	// Trade.
	P float64 `json:"p"`
	Sz int64  `json:"s"`

	// Quote.
	Bp float64 `json:"bp"`
	Ap float64 `json:"ap"`
	Bs int64   `json:"bs"`
	As int64   `json:"as"`

	// Bar.
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V int64   `json:"v"`

	// Subscription ack channel arrays.
	Trades      []string `json:"trades"`
	Quotes      []string `json:"quotes"`
	Bars        []string `json:"bars"`
	UpdatedBars []string `json:"updatedBars"`
	DailyBars   []string `json:"dailyBars"`
}

// Decode turns one inbound message, which is either a JSON object or a
// JSON array of objects, into zero or more typed events. Array frames are
// a batch; each element decodes independently and a decode failure on one
// element does not affect the others already produced. A top-level parse
// failure returns an error and no events.
func Decode(payload []byte) ([]Event, error) {
	trimmed := skipSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("marketdata: decode batch frame: %w", err)
		}
		events := make([]Event, 0, len(raw))
		for _, element := range raw {
			event, ok, err := decodeOne(element)
			if err != nil {
				continue
			}
			if ok {
				events = append(events, event)
			}
		}
		return events, nil
	}

	event, ok, err := decodeOne(trimmed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []Event{event}, nil
}

func decodeOne(payload json.RawMessage) (Event, bool, error) {
	var frame wireFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Event{}, false, fmt.Errorf("marketdata: decode frame: %w", err)
	}
	if frame.T == "" {
		return Event{}, false, nil
	}

	switch frame.T {
	case "success":
		switch frame.Msg {
		case "authenticated":
			return Event{Kind: EventAuthenticated}, true, nil
		case "connected":
			return Event{Kind: EventConnected}, true, nil
		default:
			return Event{Kind: EventUnknown, RawType: frame.T}, true, nil
		}

	case "subscription":
		return Event{
			Kind: EventSubscriptionAck,
			SubscriptionAck: SubscriptionAck{
				Trades: union(frame.Trades),
				Quotes: union(frame.Quotes),
				Bars:   union(frame.Bars, frame.UpdatedBars, frame.DailyBars),
			},
		}, true, nil

	case "error":
		message := frame.Msg
		if message == "" {
			message = frame.Message
		}
		return Event{Kind: EventError, Error: ErrorEvent{Code: frame.Code, Message: message}}, true, nil

	case "t":
		if frame.S == "" {
			return Event{}, false, nil
		}
		return Event{Kind: EventTick, Tick: MarketTick{
			Type:   TickTrade,
			Symbol: frame.S,
			Price:  frame.P,
			Size:   frame.Sz,
		}}, true, nil

	case "q":
		if frame.S == "" {
			return Event{}, false, nil
		}
		return Event{Kind: EventTick, Tick: MarketTick{
			Type:     TickQuote,
			Symbol:   frame.S,
			BidPrice: frame.Bp,
			AskPrice: frame.Ap,
			BidSize:  frame.Bs,
			AskSize:  frame.As,
		}}, true, nil

	case "b", "d", "u":
		if frame.S == "" {
			return Event{}, false, nil
		}
		return Event{Kind: EventTick, Tick: MarketTick{
			Type:   TickBar,
			Symbol: frame.S,
			Open:   frame.O,
			High:   frame.H,
			Low:    frame.L,
			Close:  frame.C,
			Volume: frame.V,
		}}, true, nil

	default:
		return Event{Kind: EventUnknown, RawType: frame.T}, true, nil
	}
}

// union flattens and dedupes the channel-keyed symbol arrays a
// subscription ack may spread across trades/bars/updatedBars/dailyBars.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, symbol := range list {
			if _, ok := seen[symbol]; ok {
				continue
			}
			seen[symbol] = struct{}{}
			out = append(out, symbol)
		}
	}
	return out
}

func skipSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
