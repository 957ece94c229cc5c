package marketdata

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Config is the configuration surface the session accepts. It is never
// loaded from the environment inside this package; cmd/tradecored
// demonstrates an environment-variable adapter on top of it.
type Config struct {
	APIKey    string
	APISecret string

	// DataURL is a ws:// or wss:// endpoint. Host/port/path are derived
	// from it by ParsedURL, defaulting port to 443 (wss) or 80 (ws) and
	// path to "/".
	DataURL string

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	ConnectionTimeout    time.Duration

	// InsecureSkipVerify disables peer certificate verification. Set this
	// only against a local/dev endpoint; never in anything reachable from
	// production traffic.
	InsecureSkipVerify bool
}

// DefaultConfig mirrors the defaults the upstream Alpaca-style client
// ships with: 5s base backoff, 10 max attempts, 30s heartbeat interval,
// 30s connection timeout.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    30 * time.Second,
		ConnectionTimeout:    30 * time.Second,
	}
}

// ParsedEndpoint is the host/port/path split of Config.DataURL.
type ParsedEndpoint struct {
	Secure bool
	Host   string
	Port   string
	Path   string
}

// ParsedURL splits DataURL into host, port, and path, applying the
// scheme-appropriate default port and the default root path.
func (c Config) ParsedURL() (ParsedEndpoint, error) {
	u, err := url.Parse(c.DataURL)
	if err != nil {
		return ParsedEndpoint{}, fmt.Errorf("marketdata: parse data url: %w", err)
	}

	var secure bool
	switch u.Scheme {
	case "wss":
		secure = true
	case "ws":
		secure = false
	default:
		return ParsedEndpoint{}, fmt.Errorf("marketdata: unsupported scheme %q, want ws or wss", u.Scheme)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if secure {
			port = "443"
		} else {
			port = "80"
		}
	}
	if _, err := strconv.Atoi(port); err != nil {
		return ParsedEndpoint{}, fmt.Errorf("marketdata: invalid port %q: %w", port, err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return ParsedEndpoint{Secure: secure, Host: host, Port: port, Path: path}, nil
}
