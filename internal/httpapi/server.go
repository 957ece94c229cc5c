// Package httpapi is a thin net/http adapter over the core: beyond
// rejecting unknown side and order-type strings, it validates nothing the
// engine does not already validate itself, and returns only core-provided
// snapshots. Modeled on the teacher's hand-rolled CORS and
// bearer-token middleware rather than a framework.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tradecore/engine"
	"tradecore/marketdata"
)

// Server exposes order submission, cancellation, and book/session
// snapshots over HTTP.
type Server struct {
	book       *engine.OrderBook
	session    *marketdata.Session
	authToken  string
	corsOrigin string
}

// New constructs a Server. session may be nil if no market-data feed is
// wired into this process.
func New(book *engine.OrderBook, session *marketdata.Session, authToken, corsOrigin string) *Server {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Server{book: book, session: session, authToken: authToken, corsOrigin: corsOrigin}
}

// Routes returns the handler tree, ready to pass to http.ListenAndServe.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/orders", s.withCORS(s.withAuth(http.HandlerFunc(s.handleSubmit))))
	mux.Handle("/orders/cancel", s.withCORS(s.withAuth(http.HandlerFunc(s.handleCancel))))
	mux.Handle("/book", s.withCORS(s.withAuth(http.HandlerFunc(s.handleSnapshot))))
	mux.Handle("/stats", s.withCORS(s.withAuth(http.HandlerFunc(s.handleStatistics))))
	if s.session != nil {
		mux.Handle("/session", s.withCORS(s.withAuth(http.HandlerFunc(s.handleSessionStatus))))
	}
	return mux
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type orderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

type tradeResponse struct {
	TradeID     int64   `json:"trade_id"`
	BuyOrderID  int64   `json:"buy_order_id"`
	SellOrderID int64   `json:"sell_order_id"`
	Price       float64 `json:"price"`
	Quantity    int64   `json:"quantity"`
}

type submitResponse struct {
	Trades []tradeResponse `json:"trades"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	order, err := buildOrder(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	trades, err := s.book.Submit(order)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := submitResponse{Trades: make([]tradeResponse, len(trades))}
	for i, t := range trades {
		resp.Trades[i] = tradeResponse{
			TradeID:     t.TradeID,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Price:       t.Price,
			Quantity:    t.Quantity,
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idParam := r.URL.Query().Get("id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return
	}
	cancelled := s.book.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	depth := 10
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			depth = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.book.Snapshot(depth))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.book.Statistics())
}

type sessionStatusResponse struct {
	State              string   `json:"state"`
	Connected          bool     `json:"connected"`
	SubscribedSymbols  []string `json:"subscribed_symbols"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, sessionStatusResponse{
		State:             s.session.State().String(),
		Connected:         s.session.IsConnected(),
		SubscribedSymbols: s.session.SubscribedSymbols(),
	})
}

func buildOrder(req orderRequest) (engine.Order, error) {
	if req.Quantity <= 0 {
		return engine.Order{}, fmt.Errorf("quantity must be positive")
	}
	side, err := parseSide(req.Side)
	if err != nil {
		return engine.Order{}, err
	}
	orderType, err := parseOrderType(req.Type)
	if err != nil {
		return engine.Order{}, err
	}
	return engine.Order{
		Symbol:   req.Symbol,
		Side:     side,
		Type:     orderType,
		Price:    req.Price,
		Quantity: req.Quantity,
	}, nil
}

func parseSide(value string) (engine.Side, error) {
	switch strings.ToLower(value) {
	case "buy", "bid", "b":
		return engine.Buy, nil
	case "sell", "ask", "s":
		return engine.Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", value)
	}
}

func parseOrderType(value string) (engine.OrderType, error) {
	switch strings.ToLower(value) {
	case "limit", "lmt", "":
		return engine.Limit, nil
	case "market", "mkt":
		return engine.Market, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", value)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
