package trainer

import (
	"fmt"
	"sort"

	"github.com/samuelfneumann/gorl/data"
	"github.com/samuelfneumann/gorl/optimize"
	"github.com/samuelfneumann/gorl/report"
)

// AssignReportersFunc assigns components of a reporter to the
// sub-trainers of a MultiStage trainer
type AssignReportersFunc func([]Trainer, report.Reporter) error

// FlushReporterFunc flushes the MultiStage trainer's reporter at an
// epoch boundary
type FlushReporterFunc func(m *MultiStage, rep report.Reporter, epoch int)

// stageOffset locates the owner of a global optimizer index: the
// sub-trainer index and the global index of that sub-trainer's first
// optimizer.
type stageOffset struct {
	stage  int
	offset int
}

// MultiStage multiplexes several independently-optimized sub-trainers
// behind the single Trainer contract. A schedule assigns each
// sub-trainer a contiguous block of epochs; every lifecycle hook is
// routed to the sub-trainer whose block contains the current epoch,
// cycling through the schedule modulo its total duration.
//
// Training several algorithm phases back-to-back inside one run, for
// example pretraining world models and then planning over them, can
// then reuse a single generic training-loop driver instead of running
// several independent processes.
type MultiStage struct {
	trainers []Trainer

	// boundaries holds the cumulative sum of scheduled epochs:
	// boundaries[i] is the first scheduled epoch of sub-trainer i and
	// boundaries[len(trainers)] is the schedule's total duration
	boundaries []int

	assignReporters AssignReportersFunc
	flushReporter   FlushReporterFunc
	reporter        report.Reporter

	driver        Driver
	startEpoch    int
	inTestingLoop bool

	// Memoized once all sub-trainers are known; the sub-trainer set
	// cannot change after construction
	optOwner   map[int]stageOffset
	optimizers []*optimize.Optimizer
}

// MultiStageOption configures a MultiStage trainer
type MultiStageOption func(*MultiStage)

// WithAssignReporters overrides how sub-reporters are assigned to
// sub-trainers when SetReporter is called. By default the reporter
// must be a *report.Compound with exactly one sub-reporter per
// sub-trainer, paired in registration order.
func WithAssignReporters(f AssignReportersFunc) MultiStageOption {
	return func(m *MultiStage) {
		m.assignReporters = f
	}
}

// WithFlushReporter overrides how the reporter is flushed at epoch
// boundaries while a fit or test loop is running
func WithFlushReporter(f FlushReporterFunc) MultiStageOption {
	return func(m *MultiStage) {
		m.flushReporter = f
	}
}

// NewMultiStage returns a new MultiStage trainer multiplexing the
// argument sub-trainers. For index i, the schedule runs trainers[i]
// for epochs[i] consecutive epochs before moving to the next stage,
// cycling back to the first stage once every stage has run.
func NewMultiStage(trainers []Trainer, epochs []int,
	opts ...MultiStageOption) (*MultiStage, error) {
	if len(trainers) == 0 {
		return nil, fmt.Errorf("newmultistage: no sub-trainers")
	}
	if len(trainers) != len(epochs) {
		return nil, fmt.Errorf("newmultistage: invalid number of "+
			"epochs\n\twant(%d)\n\thave(%d)", len(trainers), len(epochs))
	}

	// Cumulative sum of the number of epochs up to each stage
	boundaries := make([]int, len(epochs)+1)
	for i, duration := range epochs {
		if duration <= 0 {
			return nil, fmt.Errorf("newmultistage: stage %d has "+
				"non-positive duration %d", i, duration)
		}
		boundaries[i+1] = boundaries[i] + duration
	}

	m := &MultiStage{
		trainers:   trainers,
		boundaries: boundaries,
	}
	m.flushReporter = (*MultiStage).defaultFlushReporter

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NumStages returns the number of sub-trainers
func (m *MultiStage) NumStages() int {
	return len(m.trainers)
}

// activeStage returns the index of the sub-trainer scheduled for the
// argument epoch. The computation is pure: calling it twice in the
// same epoch yields the same answer.
func (m *MultiStage) activeStage(epoch int) int {
	total := m.boundaries[len(m.boundaries)-1]
	relative := (epoch - m.startEpoch) % total

	// Rightmost boundary <= relative
	return sort.SearchInts(m.boundaries, relative+1) - 1
}

// ownerOf returns the sub-trainer owning the global optimizer index.
// The index map is built once, on first access, by concatenating each
// sub-trainer's declared optimizer count in registration order.
func (m *MultiStage) ownerOf(optimizerIdx int) (stage, offset int) {
	if m.optOwner == nil {
		m.optOwner = make(map[int]stageOffset)
		offset := 0
		for i, t := range m.trainers {
			for j := 0; j < t.NumOptimizers(); j++ {
				m.optOwner[offset+j] = stageOffset{stage: i, offset: offset}
			}
			offset += t.NumOptimizers()
		}
	}

	owner, ok := m.optOwner[optimizerIdx]
	if !ok {
		panic(fmt.Sprintf("multistage: no stage owns optimizer index %d",
			optimizerIdx))
	}
	return owner.stage, owner.offset
}

// SetReporter assigns the reporter and distributes its components to
// the sub-trainers
func (m *MultiStage) SetReporter(rep report.Reporter) error {
	m.reporter = rep

	if m.assignReporters != nil {
		return m.assignReporters(m.trainers, rep)
	}

	// By default, assume a Compound reporter with the same number of
	// sub-reporters as sub-trainers
	compound, ok := rep.(*report.Compound)
	if !ok {
		return fmt.Errorf("setreporter: default assignment requires a "+
			"*report.Compound but got %T", rep)
	}
	if len(m.trainers) != len(compound.Reporters()) {
		return fmt.Errorf("setreporter: %d != %d", len(m.trainers),
			len(compound.Reporters()))
	}
	for i, t := range m.trainers {
		if err := t.SetReporter(compound.Reporters()[i]); err != nil {
			return err
		}
	}
	return nil
}

// defaultFlushReporter flushes only the active stage's sub-reporter
// while training, and every sub-reporter while testing
func (m *MultiStage) defaultFlushReporter(rep report.Reporter, epoch int) {
	compound, ok := rep.(*report.Compound)
	if !ok {
		rep.Flush(epoch)
		return
	}

	if !m.inTestingLoop {
		compound.Reporters()[m.activeStage(epoch)].Flush(epoch)
		return
	}
	for _, sub := range compound.Reporters() {
		sub.Flush(epoch)
	}
}

// OnFitStart records the starting epoch and attaches every
// sub-trainer. All sub-trainers are attached regardless of schedule
// because parameter and optimizer state must exist for the full run
// even during inactive epochs.
func (m *MultiStage) OnFitStart(d Driver) {
	m.driver = d
	m.startEpoch = d.CurrentEpoch()

	for _, t := range m.trainers {
		t.OnFitStart(d)
	}

	if compound, ok := m.reporter.(*report.Compound); ok {
		compound.SetFlushFunc(func(epoch int) {
			m.flushReporter(m, m.reporter, epoch)
		})
	}
}

// OnFitEnd detaches every sub-trainer
func (m *MultiStage) OnFitEnd() {
	for _, t := range m.trainers {
		t.OnFitEnd()
	}

	if compound, ok := m.reporter.(*report.Compound); ok {
		compound.SetFlushFunc(nil)
	}
	m.driver = nil
}

// OnTestStart is forwarded to every sub-trainer. Testing flushes all
// sub-reporters each epoch, since evaluation covers every stage.
func (m *MultiStage) OnTestStart(d Driver) {
	m.driver = d
	m.startEpoch = d.CurrentEpoch()
	m.inTestingLoop = true

	for _, t := range m.trainers {
		t.OnTestStart(d)
	}
}

// OnTestEnd is forwarded to every sub-trainer
func (m *MultiStage) OnTestEnd() {
	m.inTestingLoop = false
	for _, t := range m.trainers {
		t.OnTestEnd()
	}
}

// ConfigureOptimizers returns the concatenation, in registration
// order, of every sub-trainer's optimizers. The global index of an
// optimizer maps back to its owning sub-trainer through the memoized
// optimizer index map.
func (m *MultiStage) ConfigureOptimizers() ([]*optimize.Optimizer, error) {
	if m.optimizers != nil {
		return m.optimizers, nil
	}

	optimizers := make([]*optimize.Optimizer, 0, m.NumOptimizers())
	for i, t := range m.trainers {
		opts, err := t.ConfigureOptimizers()
		if err != nil {
			return nil, fmt.Errorf("configureoptimizers: stage %d: %v",
				i, err)
		}
		optimizers = append(optimizers, opts...)
	}
	m.optimizers = optimizers
	return optimizers, nil
}

// NumOptimizers returns the total number of optimizers across all
// sub-trainers
func (m *MultiStage) NumOptimizers() int {
	n := 0
	for _, t := range m.trainers {
		n += t.NumOptimizers()
	}
	return n
}

// TrainingStep routes the step to the sub-trainer owning the global
// optimizer index, rebasing the index to the owner's local numbering.
// The owner must agree with the epoch-derived active stage; a
// mismatch is a contract violation by the driver and panics.
func (m *MultiStage) TrainingStep(b *data.Batch, batchIdx,
	optimizerIdx int) (float64, error) {
	stage, offset := m.ownerOf(optimizerIdx)
	epochStage := m.activeStage(m.driver.CurrentEpoch())
	if stage != epochStage {
		panic(fmt.Sprintf("trainingstep: got stage %d; expected %d",
			stage, epochStage))
	}
	return m.trainers[stage].TrainingStep(b, batchIdx, optimizerIdx-offset)
}

// TrainingEpochEnd is delegated to the active sub-trainer only
func (m *MultiStage) TrainingEpochEnd() {
	m.trainers[m.activeStage(m.driver.CurrentEpoch())].TrainingEpochEnd()
}

// ValidationStep is delegated to the active sub-trainer only
func (m *MultiStage) ValidationStep(b *data.Batch,
	batchIdx int) (float64, error) {
	stage := m.activeStage(m.driver.CurrentEpoch())
	return m.trainers[stage].ValidationStep(b, batchIdx)
}

// ValidationEpochEnd is delegated to the active sub-trainer only
func (m *MultiStage) ValidationEpochEnd() {
	m.trainers[m.activeStage(m.driver.CurrentEpoch())].ValidationEpochEnd()
}

// TestStep runs every sub-trainer's test step regardless of schedule,
// because evaluation must cover every stage's trainer at the end of
// the run. The mean of the sub-trainer losses is returned.
func (m *MultiStage) TestStep(b *data.Batch, batchIdx int) (float64,
	error) {
	total := 0.0
	for i, t := range m.trainers {
		loss, err := t.TestStep(b, batchIdx)
		if err != nil {
			return 0, fmt.Errorf("teststep: stage %d: %v", i, err)
		}
		total += loss
	}
	return total / float64(len(m.trainers)), nil
}

// TestEpochEnd is forwarded to every sub-trainer
func (m *MultiStage) TestEpochEnd() {
	for _, t := range m.trainers {
		t.TestEpochEnd()
	}
}

// OptimizerStep steps the optimizer only when its owning stage is the
// epoch-derived active stage. An optimizer belonging to an inactive
// stage is intentionally skipped without error, since the generic
// driver steps every configured optimizer on every batch.
//
// The epoch forwarded to the owning sub-trainer is the driver's
// global epoch count, including epochs the sub-trainer was inactive
// for; sub-trainers needing a stage-local count must derive it from
// their own fit-start epoch.
func (m *MultiStage) OptimizerStep(epoch, batchIdx int,
	opt *optimize.Optimizer, optimizerIdx int, closure func() error) error {
	stage, offset := m.ownerOf(optimizerIdx)
	if stage != m.activeStage(epoch) {
		return nil
	}
	return m.trainers[stage].OptimizerStep(epoch, batchIdx, opt,
		optimizerIdx-offset, closure)
}
