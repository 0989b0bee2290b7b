package service

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

func TestLiveExecutorRejectsInvalidOrdersWithoutCalls(t *testing.T) {
	cases := []struct {
		name  string
		dir   domain.Direction
		stake decimal.Decimal
		msg   string
	}{
		{"zero stake", domain.DirectionEven, decimal.Zero, "Invalid amount"},
		{"negative stake", domain.DirectionOdd, decimal.NewFromInt(-5), "Invalid amount"},
		{"unknown direction", domain.Direction("HIGHER"), decimal.NewFromInt(10), "Invalid signal"},
		{"empty direction", domain.Direction(""), decimal.NewFromInt(10), "Invalid signal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBroker{}
			e := NewLiveExecutor(DefaultTradePolicy(), testLogger())

			p, err := e.ProposeAndBuy(context.Background(), b, "R_100", tc.dir, tc.stake)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Equal(t, tc.msg, domain.UserMessage(err))
			assert.Equal(t, domain.Purchase{}, p)
			assert.Zero(t, b.calls())
		})
	}
}

func TestLiveExecutorProposesThenBuysAtAskPrice(t *testing.T) {
	b := &fakeBroker{}
	e := NewLiveExecutor(DefaultTradePolicy(), testLogger())

	p, err := e.ProposeAndBuy(context.Background(), b, "R_100", domain.DirectionOdd, decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.Equal(t, "123456", p.ContractID)
	assert.True(t, p.BuyPrice.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, domain.DirectionOdd, p.Direction)
	assert.False(t, p.Settled)
	assert.Equal(t, "Bought ODD contract - ID: 123456", p.Summary())

	assert.Equal(t, domain.ContractParams{
		Symbol:       "R_100",
		ContractType: "DIGITODD",
		Amount:       decimal.NewFromInt(10),
		Basis:        "stake",
		Currency:     "USD",
		Duration:     5,
		DurationUnit: "t",
	}, b.lastReq)
	assert.EqualValues(t, 1, b.proposals.Load())
	assert.EqualValues(t, 1, b.buys.Load())
}

func TestLiveExecutorPassesBrokerMessagesThrough(t *testing.T) {
	e := NewLiveExecutor(DefaultTradePolicy(), testLogger())

	b := &fakeBroker{propErr: domain.NewBrokerError(domain.ErrProposal, "OfferingsValidationError", "Trading is not offered for this asset.")}
	_, err := e.ProposeAndBuy(context.Background(), b, "R_100", domain.DirectionEven, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrProposal)
	assert.Equal(t, "Trading is not offered for this asset.", domain.UserMessage(err))
	assert.Zero(t, b.buys.Load())

	b = &fakeBroker{buyErr: domain.NewBrokerError(domain.ErrPurchase, "InsufficientBalance", "Your account balance is insufficient for this transaction.")}
	_, err = e.ProposeAndBuy(context.Background(), b, "R_100", domain.DirectionEven, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrPurchase)
	assert.Equal(t, "Your account balance is insufficient for this transaction.", domain.UserMessage(err))
}

func TestLiveExecutorWithoutBroker(t *testing.T) {
	e := NewLiveExecutor(DefaultTradePolicy(), testLogger())
	_, err := e.ProposeAndBuy(context.Background(), nil, "R_100", domain.DirectionEven, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSimulatedExecutorWin(t *testing.T) {
	e := NewSimulatedExecutor(DefaultSimConfig(), winSource, testLogger())

	p, err := e.ProposeAndBuy(context.Background(), nil, "R_100", domain.DirectionEven, decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.True(t, p.Won)
	assert.True(t, p.Settled)
	assert.True(t, p.Simulated)
	assert.True(t, strings.HasPrefix(p.ContractID, "SIM-"))
	assert.Equal(t, "WON +$8.00", p.Summary())
	assert.True(t, p.BalanceAfter.Equal(decimal.NewFromInt(1008)))
	assert.True(t, e.Balance().Amount.Equal(decimal.NewFromInt(1008)))
}

func TestSimulatedExecutorLoss(t *testing.T) {
	e := NewSimulatedExecutor(DefaultSimConfig(), lossSource, testLogger())

	p, err := e.ProposeAndBuy(context.Background(), nil, "R_100", domain.DirectionOdd, decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.False(t, p.Won)
	assert.Equal(t, "LOST -$10.00", p.Summary())
	assert.True(t, p.BalanceAfter.Equal(decimal.NewFromInt(990)))
}

func TestSimulatedExecutorRejectsOverdraw(t *testing.T) {
	e := NewSimulatedExecutor(DefaultSimConfig(), lossSource, testLogger())
	_, err := e.ProposeAndBuy(context.Background(), nil, "R_100", domain.DirectionOdd, decimal.NewFromInt(1001))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, "Insufficient balance", domain.UserMessage(err))
	assert.True(t, e.Balance().Amount.Equal(decimal.NewFromInt(1000)))
}

func TestEstimateThresholds(t *testing.T) {
	cases := []struct {
		p          int
		signal     domain.Signal
		confidence int
	}{
		{40, domain.SignalOdd, 15},
		{44, domain.SignalOdd, 11},
		{45, domain.SignalWait, 0},
		{50, domain.SignalWait, 0},
		{55, domain.SignalWait, 0},
		{56, domain.SignalEven, 16},
		{60, domain.SignalEven, 20},
	}
	for _, tc := range cases {
		est := estimateFromEvenPercent(tc.p)
		assert.Equal(t, tc.signal, est.Signal, "p=%d", tc.p)
		assert.Equal(t, tc.confidence, est.Confidence, "p=%d", tc.p)
		assert.Equal(t, tc.p, est.EvenPercent)
		assert.Contains(t, est.Reason, "SIMULATED")
	}
	assert.Equal(t, "Odd bias detected (58%) - SIMULATED", estimateFromEvenPercent(42).Reason)
}

func TestRandomEstimatorStaysInRange(t *testing.T) {
	e := NewRandomEstimator(fixedSource(0))
	for i := 0; i < 20; i++ {
		est, err := e.Estimate(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, est.EvenPercent, 40)
		assert.LessOrEqual(t, est.EvenPercent, 60)
		assert.GreaterOrEqual(t, est.Confidence, 0)
		assert.LessOrEqual(t, est.Confidence, 100)
	}
}
