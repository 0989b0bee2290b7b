package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

func TestEstimatorRegistry(t *testing.T) {
	r := NewEstimatorRegistry()
	r.Register("random", NewRandomEstimator(fixedSource(0)))
	r.Register("alt", NewRandomEstimator(fixedSource(0)))

	assert.Equal(t, []string{"alt", "random"}, r.List())

	e, err := r.Get("random")
	require.NoError(t, err)
	est, err := e.Estimate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SignalOdd, est.Signal)
	assert.Equal(t, 40, est.EvenPercent)

	_, err = r.Get("ticks")
	assert.ErrorContains(t, err, `estimator "ticks": not registered`)
}
