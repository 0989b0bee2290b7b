// Package deriv is a WebSocket client for the Deriv real-time trading API.
// It covers the subset the dashboard needs: authorize, balance (one-shot and
// subscription), proposal and buy.
package deriv

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// ClientConfig holds the broker endpoint settings.
type ClientConfig struct {
	// Endpoint is the WebSocket URL, e.g. "wss://ws.derivws.com/websockets/v3".
	Endpoint string
	// AppID is appended as the app_id query parameter when non-zero.
	AppID int
	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration
	// PingInterval is the keep-alive period. Zero means DefaultPingInterval.
	PingInterval time.Duration
}

// Client dials authorized broker connections.
type Client struct {
	url    string
	dialer websocket.Dialer
	ping   time.Duration
	logger *slog.Logger
}

// NewClient creates a Client. It does not open any connection.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	u, err := endpointURL(cfg.Endpoint, cfg.AppID)
	if err != nil {
		return nil, err
	}
	hs := cfg.HandshakeTimeout
	if hs <= 0 {
		hs = 15 * time.Second
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}
	return &Client{
		url:    u,
		dialer: websocket.Dialer{HandshakeTimeout: hs},
		ping:   ping,
		logger: logger.With(slog.String("component", "deriv")),
	}, nil
}

// URL returns the full endpoint URL used for dialing.
func (c *Client) URL() string {
	return c.url
}

// Connect opens a transport and authorizes it with token. It awaits exactly
// one authorize response. On any failure the transport is closed before
// Connect returns. An empty token fails with ErrInvalidInput without dialing.
func (c *Client) Connect(ctx context.Context, token string) (*Conn, domain.Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.Account{}, domain.Invalid("No token provided")
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, domain.Account{}, fmt.Errorf("%w: dial: %w", domain.ErrConnection, err)
	}

	conn := newConn(ws, c.ping, c.logger)
	acct, err := conn.authorize(ctx, token)
	if err != nil {
		_ = conn.Close()
		return nil, domain.Account{}, err
	}

	c.logger.InfoContext(ctx, "deriv: authorized",
		slog.String("login_id", acct.LoginID),
		slog.String("currency", acct.Balance.Currency),
	)
	return conn, acct, nil
}

func endpointURL(endpoint string, appID int) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("deriv: endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("deriv: parse endpoint: %w", err)
	}
	if appID > 0 {
		q := u.Query()
		if q.Get("app_id") == "" {
			q.Set("app_id", strconv.Itoa(appID))
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}
