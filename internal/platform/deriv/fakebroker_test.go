package deriv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

const goodToken = "a1-good-token"

// fakeBroker is an in-process stand-in for the broker endpoint. It answers
// the handful of calls the client makes and records lifecycle events.
type fakeBroker struct {
	srv      *httptest.Server
	closed   chan struct{} // one value per server-side connection that ended
	mu       sync.Mutex
	received []map[string]any
	// omitReqID makes replies drop req_id to exercise msg_type routing.
	omitReqID bool
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	fb := &fakeBroker{closed: make(chan struct{}, 16)}
	upgrader := websocket.Upgrader{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			ws.Close()
			fb.closed <- struct{}{}
		}()
		for {
			var msg map[string]any
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			fb.mu.Lock()
			fb.received = append(fb.received, msg)
			fb.mu.Unlock()
			for _, reply := range fb.reply(msg) {
				if err := ws.WriteJSON(reply); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBroker) count(key string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, m := range fb.received {
		if _, ok := m[key]; ok {
			n++
		}
	}
	return n
}

func (fb *fakeBroker) reply(msg map[string]any) []map[string]any {
	base := func(msgType string) map[string]any {
		out := map[string]any{"msg_type": msgType, "echo_req": msg}
		if id, ok := msg["req_id"]; ok && !fb.omitReqID {
			out["req_id"] = id
		}
		return out
	}
	apiErr := func(msgType, code, text string) map[string]any {
		out := base(msgType)
		out["error"] = map[string]any{"code": code, "message": text}
		return out
	}

	switch {
	case msg["authorize"] != nil:
		if msg["authorize"] != goodToken {
			return []map[string]any{apiErr("authorize", "InvalidToken", "The token is invalid.")}
		}
		out := base("authorize")
		out["authorize"] = map[string]any{"loginid": "CR900000", "balance": 1000, "currency": "USD"}
		return []map[string]any{out}

	case msg["balance"] != nil:
		if sub, _ := msg["subscribe"].(float64); sub == 1 {
			var frames []map[string]any
			for _, amt := range []float64{1000, 995, 990} {
				f := base("balance")
				f["balance"] = map[string]any{"balance": amt, "currency": "USD", "loginid": "CR900000"}
				f["subscription"] = map[string]any{"id": "sub-1"}
				frames = append(frames, f)
			}
			return frames
		}
		out := base("balance")
		out["balance"] = map[string]any{"balance": 1000, "currency": "USD", "loginid": "CR900000"}
		return []map[string]any{out}

	case msg["proposal"] != nil:
		if msg["symbol"] == "R_BAD" {
			return []map[string]any{apiErr("proposal", "ContractBuyValidationError", "Trading is not offered for this asset.")}
		}
		amount, _ := msg["amount"].(float64)
		out := base("proposal")
		out["proposal"] = map[string]any{"id": "prop-42", "ask_price": amount, "payout": amount * 1.95, "longcode": "Win payout if the last digit is even."}
		return []map[string]any{out}

	case msg["buy"] != nil:
		if msg["buy"] == "prop-stale" {
			return []map[string]any{apiErr("buy", "InvalidContractProposal", "Proposal has expired.")}
		}
		price, _ := msg["price"].(float64)
		out := base("buy")
		out["buy"] = map[string]any{"contract_id": 987654321, "buy_price": price, "balance_after": 1000 - price, "payout": price * 1.95}
		return []map[string]any{out}

	case msg["forget_all"] != nil:
		out := base("forget_all")
		out["forget_all"] = []string{"sub-1"}
		return []map[string]any{out}

	case msg["ping"] != nil:
		out := base("ping")
		out["ping"] = "pong"
		return []map[string]any{out}
	}
	return nil
}

// mustJSON is a small helper for assertions on raw frames.
func mustJSON(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}
