package marketdata

import "testing"

func TestParsedURLDefaultsSecurePort(t *testing.T) {
	cfg := Config{DataURL: "wss://stream.example.com/v2/iex"}
	endpoint, err := cfg.ParsedURL()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !endpoint.Secure || endpoint.Host != "stream.example.com" || endpoint.Port != "443" || endpoint.Path != "/v2/iex" {
		t.Fatalf("unexpected endpoint: %+v", endpoint)
	}
}

func TestParsedURLDefaultsInsecurePort(t *testing.T) {
	cfg := Config{DataURL: "ws://localhost"}
	endpoint, err := cfg.ParsedURL()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if endpoint.Secure || endpoint.Port != "80" || endpoint.Path != "/" {
		t.Fatalf("unexpected endpoint: %+v", endpoint)
	}
}

func TestParsedURLRespectsExplicitPort(t *testing.T) {
	cfg := Config{DataURL: "wss://stream.example.com:9443/feed"}
	endpoint, err := cfg.ParsedURL()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if endpoint.Port != "9443" || endpoint.Path != "/feed" {
		t.Fatalf("unexpected endpoint: %+v", endpoint)
	}
}

func TestParsedURLRejectsUnsupportedScheme(t *testing.T) {
	cfg := Config{DataURL: "https://stream.example.com"}
	if _, err := cfg.ParsedURL(); err == nil {
		t.Fatalf("expected an error for a non-websocket scheme")
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxReconnectAttempts != 10 {
		t.Fatalf("expected 10 max reconnect attempts, got %d", cfg.MaxReconnectAttempts)
	}
	if cfg.HeartbeatInterval.Seconds() != 30 {
		t.Fatalf("expected 30s heartbeat interval, got %v", cfg.HeartbeatInterval)
	}
}
