package indicator

import (
	"math"
	"sort"

	"tradebot/internal/model"
)

// Column is one derived series in a Frame.
// Entries with index < WarmUp are undefined for trading purposes even when
// a number is present (EMA seeds from the first close).
type Column struct {
	Name   string
	WarmUp int
	Values []float64
}

// Frame is a PriceSeries plus named derived columns of the same length.
//
// Value is the single place that decides whether an indicator is usable at
// a bar: warm-up entries and NaN entries both report ok=false.
type Frame struct {
	series *model.PriceSeries
	cols   map[string]*Column
}

func newFrame(series *model.PriceSeries) *Frame {
	return &Frame{series: series, cols: make(map[string]*Column)}
}

func (f *Frame) Series() *model.PriceSeries { return f.series }
func (f *Frame) Len() int                   { return f.series.Len() }

// Has reports whether a column with this name was computed.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Value returns the column value at bar i and whether it is defined.
func (f *Frame) Value(name string, i int) (float64, bool) {
	c, ok := f.cols[name]
	if !ok || i < 0 || i >= len(c.Values) || i < c.WarmUp {
		return math.NaN(), false
	}
	v := c.Values[i]
	if !isFinite(v) {
		return v, false
	}
	return v, true
}

// Raw returns the stored number at bar i, ignoring warm-up.
func (f *Frame) Raw(name string, i int) float64 {
	c, ok := f.cols[name]
	if !ok || i < 0 || i >= len(c.Values) {
		return math.NaN()
	}
	return c.Values[i]
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) (Column, bool) {
	c, ok := f.cols[name]
	if !ok {
		return Column{}, false
	}
	vals := make([]float64, len(c.Values))
	copy(vals, c.Values)
	return Column{Name: c.Name, WarmUp: c.WarmUp, Values: vals}, true
}

// Names returns the column names in sorted order.
func (f *Frame) Names() []string {
	out := make([]string, 0, len(f.cols))
	for n := range f.cols {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NewFrame assembles a Frame from precomputed columns. Every column must
// have one value per bar.
func NewFrame(series *model.PriceSeries, cols ...Column) (*Frame, error) {
	if series == nil || series.Len() == 0 {
		return nil, &model.DataIntegrityError{Index: -1, Reason: "empty series"}
	}
	f := newFrame(series)
	for _, c := range cols {
		if len(c.Values) != series.Len() {
			return nil, &ConfigurationError{
				Indicator: c.Name, Param: "values", Value: model.Itoa(len(c.Values)),
				Reason: "column length differs from series length " + model.Itoa(series.Len()),
			}
		}
		vals := make([]float64, len(c.Values))
		copy(vals, c.Values)
		f.cols[c.Name] = &Column{Name: c.Name, WarmUp: c.WarmUp, Values: vals}
	}
	return f, nil
}
