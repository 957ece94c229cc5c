// Package sink implements the async event publisher: a fire-and-forget
// fan-out of trades and market ticks onto a message bus, for an
// out-of-process consumer (a persistence sink, a paper-trading broker)
// to subscribe to. It never feeds back into the matcher or the session.
package sink

import (
	"github.com/nats-io/nats.go"
)

// Publisher is the interface cmd/tradecored wires in. Neither engine nor
// marketdata imports it; its method set matches marketdata.Publisher, so a
// sink.Publisher can be passed to Session.SetPublisher. It is satisfied by
// both NATSPublisher and NoopPublisher.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

// NoopPublisher discards every event. It is the zero-configuration
// default when no message bus is wired up.
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, []byte) error { return nil }

// NATSPublisher publishes to a NATS subject. Publish is safe for
// concurrent use, since *nats.Conn is.
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect dials the given NATS URL (nats.DefaultURL if empty) and
// returns a ready-to-use NATSPublisher. Callers should Close it on
// shutdown.
func Connect(url string) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends payload on subject. It does not wait for the broker to
// flush; callers needing that guarantee should call Flush separately.
func (p *NATSPublisher) Publish(subject string, payload []byte) error {
	return p.conn.Publish(subject, payload)
}

// Flush blocks until every buffered message has been sent to the
// server.
func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

// Close closes the underlying connection. It does not drain it first.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}
