package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a digit contract.
type Direction string

const (
	DirectionEven Direction = "EVEN"
	DirectionOdd  Direction = "ODD"
)

// ParseDirection accepts EVEN or ODD (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionEven:
		return DirectionEven, nil
	case DirectionOdd:
		return DirectionOdd, nil
	}
	return "", InvalidArgument("Invalid signal")
}

// Valid reports whether d is one of the tradable directions.
func (d Direction) Valid() bool {
	return d == DirectionEven || d == DirectionOdd
}

// ContractType maps a direction to the broker contract type.
func (d Direction) ContractType() string {
	switch d {
	case DirectionEven:
		return "DIGITEVEN"
	case DirectionOdd:
		return "DIGITODD"
	}
	return ""
}

// ContractParams are the parameters of a price proposal.
type ContractParams struct {
	Symbol       string
	ContractType string
	Amount       decimal.Decimal
	Basis        string
	Currency     string
	Duration     int
	DurationUnit string
}

// Proposal is a quoted, not yet accepted contract price.
type Proposal struct {
	ID       string
	AskPrice decimal.Decimal
	Payout   decimal.Decimal
	Longcode string
	Params   ContractParams
}

// Purchase is the result of buying a proposal.
//
// Settled is only true for simulated purchases; real contracts are not
// followed to settlement, so Won and Profit are meaningless for them.
type Purchase struct {
	ContractID   string
	BuyPrice     decimal.Decimal
	Payout       decimal.Decimal
	BalanceAfter decimal.Decimal
	HasBalance   bool
	Longcode     string
	Direction    Direction
	Simulated    bool
	Settled      bool
	Won          bool
	Profit       decimal.Decimal
}

// Summary renders the purchase the way the dashboard shows it.
func (p Purchase) Summary() string {
	if p.Settled {
		if p.Won {
			return fmt.Sprintf("WON +$%s", p.Profit.StringFixed(2))
		}
		return fmt.Sprintf("LOST -$%s", p.Profit.Abs().StringFixed(2))
	}
	return fmt.Sprintf("Bought %s contract - ID: %s", p.Direction, p.ContractID)
}

// TradeRecord is a purchase as persisted in the trade journal.
type TradeRecord struct {
	ID         int64           `json:"id,omitempty"`
	SessionID  string          `json:"session_id"`
	ContractID string          `json:"contract_id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Stake      decimal.Decimal `json:"stake"`
	BuyPrice   decimal.Decimal `json:"buy_price"`
	Payout     decimal.Decimal `json:"payout"`
	Simulated  bool            `json:"simulated"`
	Settled    bool            `json:"settled"`
	Won        bool            `json:"won"`
	Profit     decimal.Decimal `json:"profit"`
	CreatedAt  time.Time       `json:"created_at"`
}
