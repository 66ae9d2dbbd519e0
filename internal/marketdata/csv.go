package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"tradebot/internal/model"
)

// CSVSource reads bars from a file with a header row containing at least
// timestamp, open, high, low and close (volume optional, any column order).
// Timestamps may be unix seconds, unix milliseconds or RFC 3339.
type CSVSource struct {
	Path string
}

func (s CSVSource) Fetch(ctx context.Context, q Query) (*model.PriceSeries, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open bars csv: %w", err)
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return Select(q, bars)
}

var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// ReadCSV parses bars in file order.
func ReadCSV(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "time" || name == "date" || name == "ts" {
			name = "timestamp"
		}
		idx[name] = i
	}
	for _, c := range csvColumns[:5] {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("csv header missing %q column", c)
		}
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		var b model.Bar
		if b.TS, err = parseTime(rec[idx["timestamp"]]); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		fields := []*float64{&b.Open, &b.High, &b.Low, &b.Close}
		for i, name := range csvColumns[1:5] {
			if *fields[i], err = strconv.ParseFloat(strings.TrimSpace(rec[idx[name]]), 64); err != nil {
				return nil, fmt.Errorf("csv line %d column %s: %w", line, name, err)
			}
		}
		if i, ok := idx["volume"]; ok && strings.TrimSpace(rec[i]) != "" {
			if b.Volume, err = strconv.ParseFloat(strings.TrimSpace(rec[i]), 64); err != nil {
				return nil, fmt.Errorf("csv line %d column volume: %w", line, err)
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// WriteCSV writes bars with the header ReadCSV expects, timestamps in unix ms.
func WriteCSV(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			strconv.FormatInt(b.TS.UnixMilli(), 10),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// parseTime treats integers above 1e11 as milliseconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
