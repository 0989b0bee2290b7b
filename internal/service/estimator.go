package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// SignalEstimator produces a trading recommendation. Implementations are
// swappable; the server only depends on this interface.
type SignalEstimator interface {
	Estimate(ctx context.Context) (domain.Estimate, error)
}

// RandomEstimator is a placeholder with no predictive value. It draws an
// "even percentage" uniformly from [40,60] and maps it to a signal.
type RandomEstimator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomEstimator creates a RandomEstimator drawing from src.
func NewRandomEstimator(src rand.Source) *RandomEstimator {
	return &RandomEstimator{rng: rand.New(src)}
}

// Estimate implements SignalEstimator.
func (e *RandomEstimator) Estimate(_ context.Context) (domain.Estimate, error) {
	e.mu.Lock()
	p := 40 + e.rng.Intn(21)
	e.mu.Unlock()
	return estimateFromEvenPercent(p), nil
}

func estimateFromEvenPercent(p int) domain.Estimate {
	switch {
	case p > 55:
		return domain.Estimate{
			Signal:      domain.SignalEven,
			Confidence:  min(85, p-40),
			Reason:      fmt.Sprintf("Even bias detected (%d%%) - SIMULATED", p),
			EvenPercent: p,
		}
	case p < 45:
		return domain.Estimate{
			Signal:      domain.SignalOdd,
			Confidence:  min(85, 55-p),
			Reason:      fmt.Sprintf("Odd bias detected (%d%%) - SIMULATED", 100-p),
			EvenPercent: p,
		}
	default:
		return domain.Estimate{
			Signal:      domain.SignalWait,
			Confidence:  0,
			Reason:      "Market balanced - SIMULATED",
			EvenPercent: p,
		}
	}
}

var _ SignalEstimator = (*RandomEstimator)(nil)
