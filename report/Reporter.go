// Package report implements reporters, which collect structured
// per-step training records and flush them at epoch boundaries
package report

// Record is a structured log entry emitted by a trainer every
// reporting step. Records are observational only: emitting one must
// never affect training numerics.
type Record struct {
	TDLoss             float64
	LoggedActions      []int
	LoggedPropensities []float64
	LoggedRewards      []float64

	// ModelValues holds the model's state-action values in row-major
	// (batch, action) order
	ModelValues     []float64
	ModelActionIdxs []int
}

// FlushFunc flushes buffered records for a completed epoch
type FlushFunc func(epoch int)

// Interface Reporter accepts structured per-step records from a
// trainer and flushes them at epoch boundaries. Flush calls must not
// be re-entrant: flushing during an active Log call is undefined.
type Reporter interface {
	Log(Record)
	Flush(epoch int)
}

// Noop is a Reporter that discards all records
type Noop struct{}

func (Noop) Log(Record)     {}
func (Noop) Flush(epoch int) {}
