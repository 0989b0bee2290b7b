package service

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// SimConfig configures the simulated executor.
type SimConfig struct {
	StartingBalance decimal.Decimal
	PayoutRatio     decimal.Decimal
	WinProbability  float64
	Currency        string
}

// DefaultSimConfig starts at 1000 USD, pays 80% of stake on a win and wins
// half the time.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		StartingBalance: decimal.NewFromInt(1000),
		PayoutRatio:     decimal.NewFromFloat(0.8),
		WinProbability:  0.5,
		Currency:        "USD",
	}
}

// SimulatedExecutor settles every trade instantly against a local balance
// using a random draw. It never talks to the broker.
type SimulatedExecutor struct {
	cfg    SimConfig
	logger *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	balance decimal.Decimal
}

// NewSimulatedExecutor creates a SimulatedExecutor drawing from src.
func NewSimulatedExecutor(cfg SimConfig, src rand.Source, logger *slog.Logger) *SimulatedExecutor {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &SimulatedExecutor{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "sim_executor")),
		rng:     rand.New(src),
		balance: cfg.StartingBalance,
	}
}

// Balance returns the simulated account balance.
func (e *SimulatedExecutor) Balance() domain.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.Balance{Amount: e.balance, Currency: e.cfg.Currency}
}

// ProposeAndBuy implements TradeExecutor. broker is ignored.
func (e *SimulatedExecutor) ProposeAndBuy(ctx context.Context, _ Broker, instrument string, dir domain.Direction, stake decimal.Decimal) (domain.Purchase, error) {
	if err := ValidateOrder(dir, stake); err != nil {
		return domain.Purchase{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if stake.GreaterThan(e.balance) {
		return domain.Purchase{}, domain.InvalidArgument("Insufficient balance")
	}

	won := e.rng.Float64() < e.cfg.WinProbability
	gain := stake.Mul(e.cfg.PayoutRatio).Round(2)

	var profit decimal.Decimal
	if won {
		profit = gain
	} else {
		profit = stake.Neg()
	}
	e.balance = e.balance.Add(profit)

	p := domain.Purchase{
		ContractID:   "SIM-" + uuid.NewString(),
		BuyPrice:     stake,
		Payout:       stake.Add(gain),
		BalanceAfter: e.balance,
		HasBalance:   true,
		Direction:    dir,
		Simulated:    true,
		Settled:      true,
		Won:          won,
		Profit:       profit,
	}

	e.logger.InfoContext(ctx, "simulated trade settled",
		slog.String("symbol", instrument),
		slog.String("direction", string(dir)),
		slog.String("stake", stake.String()),
		slog.Bool("won", won),
		slog.String("balance", e.balance.String()),
	)
	return p, nil
}

var _ TradeExecutor = (*SimulatedExecutor)(nil)
