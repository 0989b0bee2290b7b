package deriv

import (
	"encoding/json"
	"strconv"
)

// request is implemented by every outbound message. The req_id is assigned
// by the connection just before the frame is written.
type request interface {
	setReqID(id int64)
}

type reqHeader struct {
	ReqID int64 `json:"req_id,omitempty"`
}

func (h *reqHeader) setReqID(id int64) { h.ReqID = id }

type authorizeRequest struct {
	Authorize string `json:"authorize"`
	reqHeader
}

type balanceRequest struct {
	Balance   int `json:"balance"`
	Subscribe int `json:"subscribe"`
	reqHeader
}

type proposalRequest struct {
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	reqHeader
}

type buyRequest struct {
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
	reqHeader
}

type forgetAllRequest struct {
	ForgetAll string `json:"forget_all"`
	reqHeader
}

type pingRequest struct {
	Ping int `json:"ping"`
	reqHeader
}

// APIError is the error object the broker attaches to a rejected request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope holds the routing fields common to every inbound frame.
type envelope struct {
	MsgType      string        `json:"msg_type"`
	ReqID        int64         `json:"req_id,omitempty"`
	Error        *APIError     `json:"error,omitempty"`
	Subscription *subscription `json:"subscription,omitempty"`
}

type subscription struct {
	ID string `json:"id"`
}

// frame is a decoded envelope plus the raw bytes it came from.
type frame struct {
	env envelope
	raw []byte
}

type authorizeResponse struct {
	Authorize struct {
		LoginID  string  `json:"loginid"`
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
		Email    string  `json:"email"`
	} `json:"authorize"`
}

type balanceResponse struct {
	Balance struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
		ID       string  `json:"id"`
		LoginID  string  `json:"loginid"`
	} `json:"balance"`
}

type proposalResponse struct {
	Proposal struct {
		ID       string  `json:"id"`
		AskPrice float64 `json:"ask_price"`
		Payout   float64 `json:"payout"`
		Longcode string  `json:"longcode"`
	} `json:"proposal"`
}

type buyResponse struct {
	Buy struct {
		ContractID    contractID `json:"contract_id"`
		BuyPrice      float64    `json:"buy_price"`
		BalanceAfter  *float64   `json:"balance_after"`
		Payout        float64    `json:"payout"`
		Longcode      string     `json:"longcode"`
		TransactionID contractID `json:"transaction_id"`
	} `json:"buy"`
}

// contractID accepts both numeric and string ids; the broker sends numbers.
type contractID string

func (c *contractID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = contractID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*c = contractID(strconv.FormatInt(i, 10))
		return nil
	}
	*c = contractID(n.String())
	return nil
}
