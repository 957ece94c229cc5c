package marketdata

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Publisher fans decoded ticks out to an external sink, fire-and-forget.
// A new Session uses a no-op Publisher; SetPublisher(nil) restores it.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, []byte) error { return nil }

// Instrumentation is the narrow seam the metrics package hooks into,
// mirroring engine.Instrumentation so the session never imports
// prometheus directly.
type Instrumentation interface {
	SetState(state State)
	RecordReconnect()
	RecordHeartbeatAge(age time.Duration)
}

type noopInstrumentation struct{}

func (noopInstrumentation) SetState(State)                  {}
func (noopInstrumentation) RecordReconnect()                {}
func (noopInstrumentation) RecordHeartbeatAge(time.Duration) {}

type commandKind int

const (
	cmdSubscribe commandKind = iota
	cmdUnsubscribe
)

type sessionCommand struct {
	kind   commandKind
	sub    MarketSubscription
	symbol string
}

// Session runs one reconnecting, authenticated duplex connection to a
// streaming market-data endpoint. All transport state is owned by a
// single reactor goroutine started by Start; external calls either set a
// mutex-guarded value or post a command onto the reactor's channel, per
// the session's single-threaded cooperative concurrency discipline.
type Session struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger

	stateMu sync.Mutex
	state   State

	subsMu  sync.Mutex
	active  map[string]MarketSubscription
	pending map[string]MarketSubscription

	cbMu         sync.Mutex
	onTick       func(MarketTick)
	onConnection func(bool)
	onError      func(string)

	instrMu sync.Mutex
	instr   Instrumentation
	pub     Publisher

	commands chan sessionCommand

	startMu sync.Mutex
	started bool
	stopped chan struct{}
	runDone chan struct{}
}

// New constructs a Session from cfg. A nil logger installs a no-op one.
func New(cfg Config, logger *zap.Logger) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultConfig().ReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultConfig().MaxReconnectAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConfig().ConnectionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.ConnectionTimeout},
		logger:   logger,
		state:    Disconnected,
		active:   make(map[string]MarketSubscription),
		pending:  make(map[string]MarketSubscription),
		instr:    noopInstrumentation{},
		pub:      noopPublisher{},
		commands: make(chan sessionCommand, 32),
	}
}

// SetInstrumentation wires a metrics sink. Passing nil restores the no-op.
func (s *Session) SetInstrumentation(instr Instrumentation) {
	if instr == nil {
		instr = noopInstrumentation{}
	}
	s.instrMu.Lock()
	s.instr = instr
	s.instrMu.Unlock()
}

// SetPublisher wires an async event publisher. Passing nil restores the
// no-op.
func (s *Session) SetPublisher(pub Publisher) {
	if pub == nil {
		pub = noopPublisher{}
	}
	s.instrMu.Lock()
	s.pub = pub
	s.instrMu.Unlock()
}

// OnTick registers the callback invoked for every decoded tick. It may run
// on the reactor goroutine; a slow callback stalls the whole session.
func (s *Session) OnTick(cb func(MarketTick)) {
	s.cbMu.Lock()
	s.onTick = cb
	s.cbMu.Unlock()
}

// OnConnection registers the callback invoked with true on entering Ready
// and false on leaving it.
func (s *Session) OnConnection(cb func(bool)) {
	s.cbMu.Lock()
	s.onConnection = cb
	s.cbMu.Unlock()
}

// OnError registers the callback invoked on transport, decode, or
// protocol errors.
func (s *Session) OnError(cb func(string)) {
	s.cbMu.Lock()
	s.onError = cb
	s.cbMu.Unlock()
}

// State returns the session's current position in the connection state
// machine.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// IsConnected reports whether the session is in the Ready state.
func (s *Session) IsConnected() bool {
	return s.State() == Ready
}

// SubscribedSymbols returns the symbols in the authoritative active set,
// last rebuilt from a subscription ack.
func (s *Session) SubscribedSymbols() []string {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	out := make([]string, 0, len(s.active))
	for symbol := range s.active {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Start launches the reactor goroutine. It is idempotent while already
// running.
func (s *Session) Start() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopped = make(chan struct{})
	s.runDone = make(chan struct{})
	go s.run(s.stopped, s.runDone)
}

// Stop tears the session down and blocks until the reactor goroutine has
// exited. Calling Start again afterward begins a fresh attempt sequence.
func (s *Session) Stop() {
	s.startMu.Lock()
	if !s.started {
		s.startMu.Unlock()
		return
	}
	s.started = false
	stopped, done := s.stopped, s.runDone
	s.startMu.Unlock()

	close(stopped)
	<-done
}

// Subscribe requests a symbol's trade/quote/bar channels. Already-active
// or already-pending symbols are dropped as duplicates.
func (s *Session) Subscribe(sub MarketSubscription) {
	s.subsMu.Lock()
	if _, ok := s.active[sub.Symbol]; ok {
		s.subsMu.Unlock()
		s.logger.Debug("subscribe ignored, symbol already active", zap.String("symbol", sub.Symbol))
		return
	}
	if _, ok := s.pending[sub.Symbol]; ok {
		s.subsMu.Unlock()
		s.logger.Debug("subscribe ignored, symbol already pending", zap.String("symbol", sub.Symbol))
		return
	}
	s.pending[sub.Symbol] = sub
	s.subsMu.Unlock()

	if s.State() == Ready {
		select {
		case s.commands <- sessionCommand{kind: cmdSubscribe, sub: sub}:
		default:
			s.logger.Warn("command queue full, subscribe dropped", zap.String("symbol", sub.Symbol))
		}
	}
}

// Unsubscribe removes a symbol from both the pending and active sets and,
// if Ready, sends an unsubscribe frame covering all three channels.
func (s *Session) Unsubscribe(symbol string) {
	s.subsMu.Lock()
	delete(s.active, symbol)
	delete(s.pending, symbol)
	s.subsMu.Unlock()

	if s.State() == Ready {
		select {
		case s.commands <- sessionCommand{kind: cmdUnsubscribe, symbol: symbol}:
		default:
			s.logger.Warn("command queue full, unsubscribe dropped", zap.String("symbol", symbol))
		}
	}
}

func (s *Session) run(stopped, done chan struct{}) {
	defer close(done)
	defer func() {
		// When the reactor exits on its own (reconnect exhaustion), clear
		// started so a later Start launches a fresh reactor.
		s.startMu.Lock()
		if s.started && s.stopped == stopped {
			s.started = false
		}
		s.startMu.Unlock()
	}()

	attempts := 0
	for {
		select {
		case <-stopped:
			s.setState(Disconnected)
			return
		default:
		}

		conn, err := s.connect()
		if err != nil {
			s.reportError(fmt.Sprintf("connect failed: %v", err))
			attempts++
			if !s.backoff(stopped, attempts) {
				return
			}
			continue
		}

		if err := s.authenticate(conn); err != nil {
			conn.Close()
			s.reportError(fmt.Sprintf("authenticate failed: %v", err))
			attempts++
			if !s.backoff(stopped, attempts) {
				return
			}
			continue
		}

		attempts = 0
		s.reportConnection(true)
		reconnect := s.serve(conn, stopped)
		s.reportConnection(false)
		conn.Close()

		if !reconnect {
			s.setState(Disconnected)
			return
		}
		attempts++
		if !s.backoff(stopped, attempts) {
			return
		}
	}
}

func (s *Session) connect() (*websocket.Conn, error) {
	s.setState(Connecting)

	endpoint, err := s.cfg.ParsedURL()
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if endpoint.Secure {
		scheme = "wss"
	}
	target := fmt.Sprintf("%s://%s:%s%s", scheme, endpoint.Host, endpoint.Port, endpoint.Path)

	if endpoint.Secure && s.cfg.InsecureSkipVerify {
		s.dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	s.setState(Handshaking)
	conn, _, err := s.dialer.Dial(target, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Session) authenticate(conn *websocket.Conn) error {
	s.setState(Authenticating)

	auth := map[string]string{"action": "auth", "key": s.cfg.APIKey, "secret": s.cfg.APISecret}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}

	deadline := time.Now().Add(s.cfg.ConnectionTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read during authentication: %w", err)
		}
		events, err := Decode(payload)
		if err != nil {
			continue
		}
		for _, event := range events {
			switch event.Kind {
			case EventAuthenticated:
				return nil
			case EventError:
				return fmt.Errorf("upstream rejected auth: %s", event.Error.Message)
			}
		}
	}
}

// serve runs the Ready-state loop for one live connection. It returns
// whether the caller should attempt a reconnect (false only on an
// explicit Stop).
func (s *Session) serve(conn *websocket.Conn, stopped chan struct{}) bool {
	s.setState(Ready)
	s.flushPending(conn)

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				select {
				case readErr <- err:
				default:
				}
				return
			}
			select {
			case frames <- payload:
			case <-stopped:
				return
			}
		}
	}()

	lastHeartbeat := time.Now()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-stopped:
			s.setState(Closing)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return false

		case payload := <-frames:
			lastHeartbeat = time.Now()
			events, err := Decode(payload)
			if err != nil {
				s.reportError(fmt.Sprintf("decode frame: %v", err))
				continue
			}
			for _, event := range events {
				s.handleEvent(event)
			}

		case err := <-readErr:
			s.reportError(fmt.Sprintf("read error: %v", err))
			return true

		case cmd := <-s.commands:
			s.handleCommand(conn, cmd)

		case <-heartbeat.C:
			age := time.Since(lastHeartbeat)
			s.instrumentation().RecordHeartbeatAge(age)
			if age > 2*s.cfg.HeartbeatInterval {
				s.reportError("heartbeat timeout")
				return true
			}
		}
	}
}

func (s *Session) handleEvent(event Event) {
	switch event.Kind {
	case EventTick:
		event.Tick.ReceivedAt = time.Now()
		s.dispatchTick(event.Tick)
	case EventSubscriptionAck:
		s.applySubscriptionAck(event.SubscriptionAck)
	case EventError:
		s.reportError(fmt.Sprintf("upstream error %d: %s", event.Error.Code, event.Error.Message))
	case EventUnknown:
		s.logger.Debug("ignoring unrecognized frame type", zap.String("T", event.RawType))
	case EventConnected, EventAuthenticated:
		// Both only matter during the handshake; once Ready a repeat is
		// informational noise.
	}
}

func (s *Session) dispatchTick(tick MarketTick) {
	s.cbMu.Lock()
	cb := s.onTick
	s.cbMu.Unlock()
	if cb != nil {
		cb(tick)
	}

	pub := s.publisher()
	payload, err := json.Marshal(tick)
	if err != nil {
		return
	}
	if err := pub.Publish("marketdata.tick."+tick.Symbol, payload); err != nil {
		s.logger.Debug("tick publish failed", zap.Error(err))
	}
}

func (s *Session) applySubscriptionAck(ack SubscriptionAck) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.active = make(map[string]MarketSubscription)
	merge := func(symbols []string, mark func(*MarketSubscription)) {
		for _, symbol := range symbols {
			sub := s.active[symbol]
			sub.Symbol = symbol
			mark(&sub)
			s.active[symbol] = sub
		}
	}
	merge(ack.Trades, func(sub *MarketSubscription) { sub.Trades = true })
	merge(ack.Quotes, func(sub *MarketSubscription) { sub.Quotes = true })
	merge(ack.Bars, func(sub *MarketSubscription) { sub.Bars = true })
	s.pending = make(map[string]MarketSubscription)
}

func (s *Session) flushPending(conn *websocket.Conn) {
	s.subsMu.Lock()
	if len(s.pending) == 0 {
		s.subsMu.Unlock()
		return
	}
	frame := buildActionFrame("subscribe", s.pending)
	s.subsMu.Unlock()

	if err := conn.WriteJSON(frame); err != nil {
		s.reportError(fmt.Sprintf("flush pending subscriptions: %v", err))
	}
}

func (s *Session) handleCommand(conn *websocket.Conn, cmd sessionCommand) {
	switch cmd.kind {
	case cmdSubscribe:
		frame := buildActionFrame("subscribe", map[string]MarketSubscription{cmd.sub.Symbol: cmd.sub})
		if err := conn.WriteJSON(frame); err != nil {
			s.reportError(fmt.Sprintf("subscribe %s: %v", cmd.sub.Symbol, err))
		}
	case cmdUnsubscribe:
		sub := MarketSubscription{Symbol: cmd.symbol, Trades: true, Quotes: true, Bars: true}
		frame := buildActionFrame("unsubscribe", map[string]MarketSubscription{cmd.symbol: sub})
		if err := conn.WriteJSON(frame); err != nil {
			s.reportError(fmt.Sprintf("unsubscribe %s: %v", cmd.symbol, err))
		}
	}
}

// buildActionFrame renders the {"action": ..., "trades": [...], ...}
// shape the upstream expects, omitting any empty channel.
func buildActionFrame(action string, subs map[string]MarketSubscription) map[string]interface{} {
	var trades, quotes, bars []string
	for symbol, sub := range subs {
		if sub.Trades {
			trades = append(trades, symbol)
		}
		if sub.Quotes {
			quotes = append(quotes, symbol)
		}
		if sub.Bars {
			bars = append(bars, symbol)
		}
	}
	frame := map[string]interface{}{"action": action}
	if len(trades) > 0 {
		frame["trades"] = trades
	}
	if len(quotes) > 0 {
		frame["quotes"] = quotes
	}
	if len(bars) > 0 {
		frame["bars"] = bars
	}
	return frame
}

// backoff waits delay_ms = base_delay * attempt before the next connect
// attempt, reporting a permanent failure once max_attempts is exceeded.
// It returns whether the caller should retry.
func (s *Session) backoff(stopped chan struct{}, attempts int) bool {
	if attempts > s.cfg.MaxReconnectAttempts {
		s.reportError("max reconnect attempts exceeded, session terminated")
		s.setState(Disconnected)
		return false
	}

	s.setState(Backoff)
	s.instrumentation().RecordReconnect()

	timer := time.NewTimer(time.Duration(attempts) * s.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-stopped:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
	s.instrumentation().SetState(state)
}

func (s *Session) reportError(msg string) {
	s.logger.Warn(msg)
	s.cbMu.Lock()
	cb := s.onError
	s.cbMu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (s *Session) reportConnection(connected bool) {
	s.cbMu.Lock()
	cb := s.onConnection
	s.cbMu.Unlock()
	if cb != nil {
		cb(connected)
	}
}

func (s *Session) instrumentation() Instrumentation {
	s.instrMu.Lock()
	defer s.instrMu.Unlock()
	return s.instr
}

func (s *Session) publisher() Publisher {
	s.instrMu.Lock()
	defer s.instrMu.Unlock()
	return s.pub
}
