package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/digitbot/internal/cache/memory"
	"github.com/alanyoungcy/digitbot/internal/domain"
	"github.com/alanyoungcy/digitbot/internal/server/handler"
	"github.com/alanyoungcy/digitbot/internal/service"
	"github.com/alanyoungcy/digitbot/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedSource int64

func (s fixedSource) Int63() int64 { return int64(s) }
func (fixedSource) Seed(int64)     {}

// stubConn is a broker connection that accepts every trade.
type stubConn struct {
	updates chan domain.BalanceUpdate
	once    sync.Once
}

func newStubConn() *stubConn { return &stubConn{updates: make(chan domain.BalanceUpdate)} }

func (c *stubConn) Proposal(_ context.Context, p domain.ContractParams) (domain.Proposal, error) {
	return domain.Proposal{ID: "p1", AskPrice: p.Amount, Payout: p.Amount.Mul(decimal.NewFromFloat(1.9))}, nil
}

func (c *stubConn) Buy(_ context.Context, _ string, price decimal.Decimal) (domain.Purchase, error) {
	return domain.Purchase{ContractID: "777", BuyPrice: price, BalanceAfter: decimal.NewFromInt(100).Sub(price), HasBalance: true}, nil
}

func (c *stubConn) Balance(context.Context) (domain.Balance, error) {
	return domain.Balance{Amount: decimal.NewFromInt(100), Currency: "USD"}, nil
}

func (c *stubConn) SubscribeBalance(context.Context) (<-chan domain.BalanceUpdate, error) {
	return c.updates, nil
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.updates) })
	return nil
}

type testEnv struct {
	srv      *httptest.Server
	registry *session.Registry
}

func newEnv(t *testing.T, mode string, src fixedSource, apiKey string) *testEnv {
	t.Helper()
	logger := testLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := memory.NewBus()
	registry := session.NewRegistry(0, logger)
	t.Cleanup(registry.CloseAll)

	dialer := service.DialerFunc(func(_ context.Context, token string) (session.Conn, domain.Account, error) {
		if token == "bad" {
			return nil, domain.Account{}, domain.NewBrokerError(domain.ErrAuth, "InvalidToken", "The token is invalid.")
		}
		return newStubConn(), domain.Account{
			LoginID: "CR1",
			Balance: domain.Balance{Amount: decimal.NewFromInt(100), Currency: "USD"},
		}, nil
	})

	bridge := service.NewBridge(ctx,
		service.BridgeConfig{Mode: mode, Symbol: "R_100", DefaultStake: decimal.NewFromInt(10)},
		registry,
		dialer,
		service.NewLiveExecutor(service.DefaultTradePolicy(), logger),
		service.NewSimulatedExecutor(service.DefaultSimConfig(), src, logger),
		service.NewRandomEstimator(src),
		service.NewJournal(bus, logger),
		bus,
		logger,
	)

	s := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(mode, registry.Len),
		Trading: handler.NewTradingHandler(bridge, logger),
	}, nil, nil, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 0, "")
	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestDashboardServed(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 0, "")
	resp, err := http.Get(env.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/api/trade")
}

func TestSimulatedTradeWin(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 0, "")
	_, out := env.do(t, http.MethodPost, "/api/trade", `{"amount":10}`)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, true, out["won"])
	assert.Equal(t, "WON +$8.00", out["result"])
	assert.EqualValues(t, 1008, out["balance"])
}

func TestSimulatedTradeLoss(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 1<<62, "")
	_, out := env.do(t, http.MethodPost, "/api/trade", `{"amount":10}`)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["won"])
	assert.Equal(t, "LOST -$10.00", out["result"])
	assert.EqualValues(t, 990, out["balance"])
}

func TestSimulatedBalanceNeedsNoToken(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 0, "")
	_, out := env.do(t, http.MethodPost, "/api/balance", `{}`)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 1000, out["balance"])
	assert.Equal(t, "USD", out["currency"])
}

func TestLiveTradeRequiresSession(t *testing.T) {
	env := newEnv(t, service.ModeLive, 0, "")
	resp, out := env.do(t, http.MethodPost, "/api/trade", `{"signal":"EVEN","amount":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Not connected", out["error"])

	_, out = env.do(t, http.MethodGet, "/api/analyze", "")
	assert.Equal(t, "WAIT", out["signal"])
	assert.Equal(t, "Not connected to Deriv", out["reason"])
}

func TestConnectEmptyToken(t *testing.T) {
	env := newEnv(t, service.ModeLive, 0, "")
	_, out := env.do(t, http.MethodPost, "/api/connect", `{"token":""}`)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "No token provided", out["error"])
	assert.Zero(t, env.registry.Len())
}

func TestConnectBrokerMessageVerbatim(t *testing.T) {
	env := newEnv(t, service.ModeLive, 0, "")
	_, out := env.do(t, http.MethodPost, "/api/connect", `{"token":"bad"}`)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "The token is invalid.", out["error"])
}

func TestConnectTradeDisconnectWithCookie(t *testing.T) {
	env := newEnv(t, service.ModeLive, 0, "")

	resp, out := env.do(t, http.MethodPost, "/api/connect", `{"token":"a1-good"}`)
	require.Equal(t, true, out["success"])
	assert.Equal(t, "Connected & Authorized", out["message"])
	assert.EqualValues(t, 100, out["balance"])
	assert.Equal(t, "USD", out["currency"])

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == handler.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, out["session_id"], cookie.Value)
	assert.Equal(t, 1, env.registry.Len())

	_, out = env.do(t, http.MethodPost, "/api/trade", `{"signal":"ODD"}`, cookie)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Bought ODD contract - ID: 777", out["result"])
	assert.EqualValues(t, 90, out["balance"])
	assert.NotContains(t, out, "won")

	_, out = env.do(t, http.MethodPost, "/api/trade", `{"signal":"HIGH"}`, cookie)
	assert.Equal(t, "Invalid signal", out["error"])

	_, out = env.do(t, http.MethodGet, "/api/sessions", "", cookie)
	sessions := out["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.NotContains(t, sessions[0], "token")

	_, out = env.do(t, http.MethodGet, "/api/trades", "", cookie)
	assert.Len(t, out["trades"], 1)

	_, out = env.do(t, http.MethodPost, "/api/disconnect", `{}`, cookie)
	assert.Equal(t, true, out["success"])
	assert.Zero(t, env.registry.Len())

	_, out = env.do(t, http.MethodPost, "/api/trade", `{"signal":"ODD"}`, cookie)
	assert.Equal(t, "Not connected", out["error"])
}

func TestMalformedBody(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 0, "")
	_, out := env.do(t, http.MethodPost, "/api/trade", `{"amount":`)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Invalid request body", out["error"])
}

func TestAPIKeyGuardsAPIOnly(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 0, "secret")

	resp, _ := env.do(t, http.MethodPost, "/api/balance", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/balance", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func connectCookie(t *testing.T, env *testEnv, token string) *http.Cookie {
	t.Helper()
	resp, out := env.do(t, http.MethodPost, "/api/connect", `{"token":"`+token+`"}`)
	require.Equal(t, true, out["success"])
	for _, c := range resp.Cookies() {
		if c.Name == handler.SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (e *testEnv) getWithKey(t *testing.T, path, key string) map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestReadsAreScopedToCallerSession(t *testing.T) {
	env := newEnv(t, service.ModeLive, 0, "")
	a := connectCookie(t, env, "a1-alice")
	b := connectCookie(t, env, "a1-bob")

	for _, c := range []*http.Cookie{a, b} {
		_, out := env.do(t, http.MethodPost, "/api/trade", `{"signal":"EVEN","amount":5}`, c)
		require.Equal(t, true, out["success"])
	}

	_, out := env.do(t, http.MethodGet, "/api/sessions", "", a)
	sessions := out["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, a.Value, sessions[0].(map[string]any)["id"])

	_, out = env.do(t, http.MethodGet, "/api/sessions", "")
	assert.Empty(t, out["sessions"])

	_, out = env.do(t, http.MethodGet, "/api/trades", "", a)
	trades := out["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, a.Value, trades[0].(map[string]any)["session_id"])

	_, out = env.do(t, http.MethodGet, "/api/trades", "")
	assert.Equal(t, true, out["success"])
	assert.Empty(t, out["trades"])

	_, out = env.do(t, http.MethodGet, "/api/audit", "", b)
	entries := out["entries"].([]any)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		detail := e.(map[string]any)["detail"].(map[string]any)
		assert.Equal(t, b.Value, detail["session_id"])
	}
	assert.Equal(t, "trade_executed", entries[0].(map[string]any)["event"])

	_, out = env.do(t, http.MethodGet, "/api/audit", "")
	assert.Empty(t, out["entries"])
}

func TestOperatorSeesAllSessions(t *testing.T) {
	env := newEnv(t, service.ModeSimulated, 0, "secret")
	for _, sid := range []string{"s1", "s2"} {
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/trade", strings.NewReader(`{"amount":1,"session_id":"`+sid+`"}`))
		req.Header.Set("X-API-Key", "secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	out := env.getWithKey(t, "/api/trades", "secret")
	assert.Len(t, out["trades"], 2)

	out = env.getWithKey(t, "/api/trades?session_id=s2", "secret")
	trades := out["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "s2", trades[0].(map[string]any)["session_id"])

	out = env.getWithKey(t, "/api/audit?limit=1", "secret")
	assert.Len(t, out["entries"], 1)
}
