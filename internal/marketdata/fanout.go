package marketdata

import (
	"context"
	"log/slog"
	"sync"

	"tradebot/internal/model"
)

// FanOut broadcasts bars from a single input channel to N output channels.
// If an output channel is full, the bar is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Bar
	bufSize int

	// OnDrop is called when a bar is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// NewFanOut creates a FanOut with the given buffer size for output channels.
func NewFanOut(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut) Subscribe() <-chan model.Bar {
	ch := make(chan model.Bar, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Bar) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- bar:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						slog.Warn("fanout subscriber full, dropping bar", "subscriber", i, "ts", bar.TS)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}
