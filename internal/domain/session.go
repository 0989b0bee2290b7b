package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SessionState is the authorization state of a broker session.
type SessionState string

const (
	SessionUnauthorized SessionState = "unauthorized"
	SessionAuthorized   SessionState = "authorized"
	SessionFailed       SessionState = "failed"
	SessionClosed       SessionState = "closed"
)

// Balance is an account balance in a single currency.
type Balance struct {
	Amount   decimal.Decimal
	Currency string
}

// Account is what the broker reports about the token's owner on authorize.
type Account struct {
	LoginID string
	Balance Balance
}

// BalanceUpdate is one inbound message of a balance subscription. Raw keeps
// the full frame for consumers that need fields this type does not model.
type BalanceUpdate struct {
	Balance        Balance
	SubscriptionID string
	Raw            json.RawMessage
	ReceivedAt     time.Time
}

// SessionInfo is the public, token-free view of a session.
type SessionInfo struct {
	ID        string       `json:"id"`
	LoginID   string       `json:"login_id,omitempty"`
	State     SessionState `json:"state"`
	Balance   float64      `json:"balance"`
	Currency  string       `json:"currency"`
	CreatedAt time.Time    `json:"created_at"`
}
