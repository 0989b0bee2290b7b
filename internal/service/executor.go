package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// Broker is the part of a session the trade executor needs.
// *session.Session implements it.
type Broker interface {
	Proposal(ctx context.Context, p domain.ContractParams) (domain.Proposal, error)
	Buy(ctx context.Context, proposalID string, price decimal.Decimal) (domain.Purchase, error)
}

// TradeExecutor quotes and buys a digit contract. It either returns a
// purchase with a non-empty contract id or a tagged error, never both.
type TradeExecutor interface {
	ProposeAndBuy(ctx context.Context, broker Broker, instrument string, dir domain.Direction, stake decimal.Decimal) (domain.Purchase, error)
}

// TradePolicy holds the fixed contract terms every proposal is sent with.
type TradePolicy struct {
	Currency     string
	Duration     int
	DurationUnit string
	Basis        string
}

// DefaultTradePolicy is five ticks, stake basis, USD.
func DefaultTradePolicy() TradePolicy {
	return TradePolicy{
		Currency:     "USD",
		Duration:     5,
		DurationUnit: "t",
		Basis:        "stake",
	}
}

// ValidateOrder checks direction and stake. It is the only check performed
// before a network call, so an invalid order never reaches the broker.
func ValidateOrder(dir domain.Direction, stake decimal.Decimal) error {
	if !dir.Valid() {
		return domain.InvalidArgument("Invalid signal")
	}
	if !stake.IsPositive() {
		return domain.InvalidArgument("Invalid amount")
	}
	return nil
}

// LiveExecutor trades against the real broker: one proposal, then an
// immediate buy at the quoted ask price.
type LiveExecutor struct {
	policy TradePolicy
	logger *slog.Logger
}

// NewLiveExecutor creates a LiveExecutor.
func NewLiveExecutor(policy TradePolicy, logger *slog.Logger) *LiveExecutor {
	return &LiveExecutor{
		policy: policy,
		logger: logger.With(slog.String("component", "live_executor")),
	}
}

// ProposeAndBuy implements TradeExecutor. Broker rejections come back tagged
// with domain.ErrProposal or domain.ErrPurchase and keep the broker's text.
func (e *LiveExecutor) ProposeAndBuy(ctx context.Context, broker Broker, instrument string, dir domain.Direction, stake decimal.Decimal) (domain.Purchase, error) {
	if err := ValidateOrder(dir, stake); err != nil {
		return domain.Purchase{}, err
	}
	if instrument == "" {
		return domain.Purchase{}, domain.InvalidArgument("Invalid symbol")
	}
	if broker == nil {
		return domain.Purchase{}, domain.NotConnected()
	}

	params := domain.ContractParams{
		Symbol:       instrument,
		ContractType: dir.ContractType(),
		Amount:       stake,
		Basis:        e.policy.Basis,
		Currency:     e.policy.Currency,
		Duration:     e.policy.Duration,
		DurationUnit: e.policy.DurationUnit,
	}

	prop, err := broker.Proposal(ctx, params)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("executor: proposal: %w", err)
	}
	if prop.ID == "" {
		return domain.Purchase{}, domain.NewBrokerError(domain.ErrProposal, "", "Proposal returned no id")
	}

	e.logger.DebugContext(ctx, "proposal quoted",
		slog.String("proposal_id", prop.ID),
		slog.String("contract_type", params.ContractType),
		slog.String("ask_price", prop.AskPrice.String()),
	)

	p, err := broker.Buy(ctx, prop.ID, prop.AskPrice)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("executor: buy: %w", err)
	}
	if p.ContractID == "" {
		return domain.Purchase{}, domain.NewBrokerError(domain.ErrPurchase, "", "Purchase returned no contract id")
	}

	p.Direction = dir
	if p.BuyPrice.IsZero() {
		p.BuyPrice = prop.AskPrice
	}
	if p.Payout.IsZero() {
		p.Payout = prop.Payout
	}

	e.logger.InfoContext(ctx, "contract bought",
		slog.String("contract_id", p.ContractID),
		slog.String("direction", string(dir)),
		slog.String("buy_price", p.BuyPrice.String()),
	)
	return p, nil
}

var _ TradeExecutor = (*LiveExecutor)(nil)
