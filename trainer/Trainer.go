// Package trainer implements the lifecycle contract between trainers
// and the generic training-loop driver, and the multi-stage trainer
// that sequences several sub-trainers across epochs behind that
// single contract.
package trainer

import (
	"github.com/samuelfneumann/gorl/data"
	"github.com/samuelfneumann/gorl/optimize"
	"github.com/samuelfneumann/gorl/report"
)

// Driver is the handle a training-loop driver passes to trainers when
// a fit or test loop starts. The driver invokes lifecycle hooks
// synchronously, one at a time: fit-start, then repeated epochs of
// training steps, optimizer steps, and validation steps, then
// fit-end. Testing runs separately between test-start and test-end.
type Driver interface {
	// CurrentEpoch returns the driver's epoch counter, a
	// monotonically non-decreasing integer
	CurrentEpoch() int

	// LogEveryNSteps returns the cadence, in batches, at which
	// trainers should emit reports
	LogEveryNSteps() int
}

// Trainer is the contract a training algorithm exposes to the
// training-loop driver. All methods are called from a single
// goroutine in the lifecycle order documented on Driver; trainers
// hold no locks.
type Trainer interface {
	// OnFitStart is called once before the first training step
	OnFitStart(Driver)

	// OnFitEnd is called once after the last training step
	OnFitEnd()

	OnTestStart(Driver)
	OnTestEnd()

	// ConfigureOptimizers returns the trainer's optimizers in a fixed
	// order. The driver steps optimizers in this order on every
	// batch, calling TrainingStep with the matching optimizer index
	// before each step.
	ConfigureOptimizers() ([]*optimize.Optimizer, error)

	// NumOptimizers returns the length of the slice that
	// ConfigureOptimizers returns, without forcing optimizer
	// construction
	NumOptimizers() int

	// TrainingStep computes the loss and gradients for one
	// optimization phase of one batch. The returned loss is the
	// scalar loss of that phase.
	TrainingStep(b *data.Batch, batchIdx, optimizerIdx int) (float64, error)

	// OptimizerStep applies the optimizer after a TrainingStep with
	// the same optimizer index. The closure re-runs the training
	// computation when the optimizer requires it.
	OptimizerStep(epoch, batchIdx int, opt *optimize.Optimizer,
		optimizerIdx int, closure func() error) error

	TrainingEpochEnd()

	ValidationStep(b *data.Batch, batchIdx int) (float64, error)
	ValidationEpochEnd()

	TestStep(b *data.Batch, batchIdx int) (float64, error)
	TestEpochEnd()

	// SetReporter injects the reporter the trainer logs structured
	// records to
	SetReporter(report.Reporter) error
}
