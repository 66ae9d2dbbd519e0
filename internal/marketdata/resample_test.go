package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/model"
)

func TestResampler_Push(t *testing.T) {
	r, err := NewResampler("4h")
	require.NoError(t, err)

	bars := hourly(9)
	var done []model.Bar
	for _, b := range bars {
		if out, ok := r.Push(b); ok {
			done = append(done, out)
		}
	}
	require.Len(t, done, 2)

	first := done[0]
	assert.Equal(t, t0, first.TS)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 104.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 103.0, first.Close)
	assert.Equal(t, 4.0, first.Volume)

	assert.Equal(t, t0.Add(4*time.Hour), done[1].TS)
	assert.Equal(t, 107.0, done[1].Close)

	forming, ok := r.Forming()
	require.True(t, ok)
	assert.Equal(t, t0.Add(8*time.Hour), forming.TS)
	assert.Equal(t, 108.0, forming.Close)

	flushed, ok := r.Flush()
	require.True(t, ok)
	assert.Equal(t, forming, flushed)
	_, ok = r.Forming()
	assert.False(t, ok)
}

func TestResampler_AlignsMidBucketStart(t *testing.T) {
	r, err := NewResampler("4h")
	require.NoError(t, err)

	// First bar at 02:00 still belongs to the 00:00 bucket.
	bars := hourly(6)[2:]
	var done []model.Bar
	for _, b := range bars {
		if out, ok := r.Push(b); ok {
			done = append(done, out)
		}
	}
	require.Len(t, done, 1)
	assert.Equal(t, t0, done[0].TS)
	assert.Equal(t, 102.0, done[0].Open)
	assert.Equal(t, 2.0, done[0].Volume)
}

func TestResampler_DropsStaleBars(t *testing.T) {
	r, err := NewResampler("4h")
	require.NoError(t, err)
	var stale []model.Bar
	r.OnStale = func(b model.Bar) { stale = append(stale, b) }

	bars := hourly(6)
	r.Push(bars[4])
	_, ok := r.Push(bars[1])
	assert.False(t, ok)
	require.Len(t, stale, 1)
	assert.Equal(t, bars[1].TS, stale[0].TS)

	forming, _ := r.Forming()
	assert.Equal(t, 104.0, forming.Close)
}

func TestNewResampler_BadTimeframe(t *testing.T) {
	_, err := NewResampler("7x")
	assert.Error(t, err)
}

func TestResampler_Run(t *testing.T) {
	r, err := NewResampler("2h")
	require.NoError(t, err)

	in := make(chan model.Bar)
	out := make(chan model.Bar, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := make(chan struct{})
	go func() {
		r.Run(ctx, in, out)
		close(finished)
	}()
	for _, b := range hourly(5) {
		in <- b
	}
	close(in)
	<-finished

	require.Len(t, out, 2)
	a, b := <-out, <-out
	assert.Equal(t, t0, a.TS)
	assert.Equal(t, t0.Add(2*time.Hour), b.TS)
}

func TestResample(t *testing.T) {
	series, err := model.NewPriceSeries("BTCUSDT", "1h", hourly(10))
	require.NoError(t, err)

	got, err := Resample(series, "4h")
	require.NoError(t, err)
	assert.Equal(t, "4h", got.Timeframe())
	assert.Equal(t, "BTCUSDT", got.Symbol())
	require.Equal(t, 3, got.Len())
	assert.Equal(t, 103.0, got.Bar(0).Close)
	assert.Equal(t, 109.0, got.Bar(2).Close)
	assert.Equal(t, 2.0, got.Bar(2).Volume)

	_, err = Resample(got, "1h")
	assert.Error(t, err)
}
