// Package clock estimates the offset between the exchange clock and the
// local clock, for stamping signed requests.
package clock

import (
	"context"
	"log/slog"
	"time"
)

// OffsetSource reports server time minus local time in milliseconds.
type OffsetSource interface {
	OffsetMillis(ctx context.Context) int64
}

// Static is a fixed offset.
type Static int64

func (s Static) OffsetMillis(context.Context) int64 { return int64(s) }

// TimeFetcher returns the remote clock. *exchange.Client implements it.
type TimeFetcher interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// ServerTime asks the exchange for its clock on each call. The local time
// is taken halfway through the round trip. Any failure yields 0 and is
// logged, never returned.
type ServerTime struct {
	Fetcher TimeFetcher
	Now     func() time.Time // defaults to time.Now
}

func (s *ServerTime) OffsetMillis(ctx context.Context) int64 {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	before := now()
	server, err := s.Fetcher.ServerTime(ctx)
	if err != nil {
		slog.Warn("server time unavailable, using zero offset", "error", err)
		return 0
	}
	after := now()
	local := before.Add(after.Sub(before) / 2)
	offset := server.Sub(local).Milliseconds()
	slog.Debug("clock offset", "offset_ms", offset)
	return offset
}
