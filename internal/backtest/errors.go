package backtest

import "fmt"

// Components named in a SimulationAbort.
const (
	ComponentIndicator = "indicator"
	ComponentSignal    = "signal"
	ComponentRisk      = "risk"
	ComponentSimulator = "simulator"
)

// SimulationAbort stops a run. The ledger accumulated up to LastGoodIndex is
// still returned with the Result for diagnostics, but the run is not
// complete and must not be reported as a success.
type SimulationAbort struct {
	Index         int    // bar being processed when the failure happened
	LastGoodIndex int    // last bar whose equity was recorded, -1 if none
	Component     string // indicator, signal, risk or simulator
	Err           error
}

func (e *SimulationAbort) Error() string {
	return fmt.Sprintf("backtest aborted at bar %d (last good bar %d) in %s: %v", e.Index, e.LastGoodIndex, e.Component, e.Err)
}

func (e *SimulationAbort) Unwrap() error { return e.Err }
