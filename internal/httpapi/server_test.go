package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tradecore/engine"
)

func TestSubmitAndSnapshot(t *testing.T) {
	book := engine.New(engine.Config{Symbol: "AAPL"})
	srv := New(book, nil, "", "*")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/orders", "application/json", strings.NewReader(`{"symbol":"AAPL","side":"buy","type":"limit","price":100,"quantity":10}`))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/book?depth=5")
	if err != nil {
		t.Fatalf("get book failed: %v", err)
	}
	defer resp.Body.Close()
	var snap engine.BookSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].TotalQuantity != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	book := engine.New(engine.Config{Symbol: "AAPL"})
	srv := New(book, nil, "secret-token", "*")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/book")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/book", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", resp.StatusCode)
	}
}

func TestCancelUnknownOrderReturnsFalse(t *testing.T) {
	book := engine.New(engine.Config{Symbol: "AAPL"})
	srv := New(book, nil, "", "*")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/orders/cancel?id=999", "application/json", nil)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["cancelled"] {
		t.Fatalf("expected cancelled=false for unknown id")
	}
}

func TestRejectsInvalidSide(t *testing.T) {
	book := engine.New(engine.Config{Symbol: "AAPL"})
	srv := New(book, nil, "", "*")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/orders", "application/json", strings.NewReader(`{"symbol":"AAPL","side":"sideways","type":"limit","price":100,"quantity":10}`))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid side, got %d", resp.StatusCode)
	}
}
