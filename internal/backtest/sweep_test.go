package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_MatchesSequentialRuns(t *testing.T) {
	rows := make([][3]float64, 250)
	for i := range rows {
		c := 50 + 6*math.Sin(float64(i)/8) + 2*math.Cos(float64(i)/3)
		rows[i] = [3]float64{c + 0.8, c - 0.8, c}
	}
	series := hlc(t, rows...)

	base := DefaultConfig()
	base.Strategy.RSIFallback = false
	configs := Grid(base, []int{3, 5, 8}, []int{10, 20, 5})
	// 5 vs 5 and 8 vs 5 are dropped.
	require.Len(t, configs, 7)

	results := Sweep(context.Background(), series, configs, 3)
	require.Len(t, results, len(configs))

	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, configs[i].Strategy.ShortPeriod, r.Config.Strategy.ShortPeriod)

		sim, err := New(configs[i])
		require.NoError(t, err)
		want, err := sim.Run(context.Background(), series)
		require.NoError(t, err)
		assert.Equal(t, want.Ledger, r.Result.Ledger, "config %d", i)
		assert.Equal(t, want.FinalEquity, r.Result.FinalEquity, "config %d", i)
	}
}

func TestSweep_ReportsPerRunErrors(t *testing.T) {
	series := hlc(t, [3]float64{1, 1, 1}, [3]float64{1, 1, 1}, [3]float64{1, 1, 1})
	bad := DefaultConfig()
	bad.InitialCapital = 0
	good := DefaultConfig()
	good.Strategy.ShortPeriod, good.Strategy.LongPeriod = 1, 2
	good.Strategy.RSIPeriod, good.Strategy.RSIFallback = 0, false
	good.Risk.StopBasis = "percent"

	results := Sweep(context.Background(), series, []Config{bad, good}, 0)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.True(t, results[1].Result.Completed)
}
