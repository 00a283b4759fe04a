package trainer

import (
	"testing"

	"github.com/samuelfneumann/gorl/data"
	"github.com/samuelfneumann/gorl/optimize"
	"github.com/samuelfneumann/gorl/report"
)

// mockDriver is a Driver with a settable epoch counter
type mockDriver struct {
	epoch int
}

func (m *mockDriver) CurrentEpoch() int   { return m.epoch }
func (m *mockDriver) LogEveryNSteps() int { return 1 }

// stepCall records the arguments of one TrainingStep or OptimizerStep
// call on a mock sub-trainer
type stepCall struct {
	batchIdx     int
	optimizerIdx int
}

// mockTrainer is a Trainer that records its lifecycle calls
type mockTrainer struct {
	numOptimizers int
	testLoss      float64

	reporter       report.Reporter
	trainingSteps  []stepCall
	optimizerSteps []stepCall
	epochEnds      int
}

func (m *mockTrainer) OnFitStart(Driver)  {}
func (m *mockTrainer) OnFitEnd()          {}
func (m *mockTrainer) OnTestStart(Driver) {}
func (m *mockTrainer) OnTestEnd()         {}

func (m *mockTrainer) ConfigureOptimizers() ([]*optimize.Optimizer, error) {
	return make([]*optimize.Optimizer, m.numOptimizers), nil
}

func (m *mockTrainer) NumOptimizers() int { return m.numOptimizers }

func (m *mockTrainer) TrainingStep(b *data.Batch, batchIdx,
	optimizerIdx int) (float64, error) {
	m.trainingSteps = append(m.trainingSteps, stepCall{batchIdx,
		optimizerIdx})
	return 0, nil
}

func (m *mockTrainer) OptimizerStep(epoch, batchIdx int,
	opt *optimize.Optimizer, optimizerIdx int, closure func() error) error {
	m.optimizerSteps = append(m.optimizerSteps, stepCall{batchIdx,
		optimizerIdx})
	return nil
}

func (m *mockTrainer) TrainingEpochEnd() { m.epochEnds++ }

func (m *mockTrainer) ValidationStep(b *data.Batch, batchIdx int) (float64,
	error) {
	return 0, nil
}
func (m *mockTrainer) ValidationEpochEnd() {}

func (m *mockTrainer) TestStep(b *data.Batch, batchIdx int) (float64,
	error) {
	return m.testLoss, nil
}
func (m *mockTrainer) TestEpochEnd() {}

func (m *mockTrainer) SetReporter(r report.Reporter) error {
	m.reporter = r
	return nil
}

func TestNewMultiStageValidation(t *testing.T) {
	sub := &mockTrainer{numOptimizers: 1}

	if _, err := NewMultiStage(nil, nil); err == nil {
		t.Error("expected error for no sub-trainers")
	}
	if _, err := NewMultiStage([]Trainer{sub}, []int{1, 2}); err == nil {
		t.Error("expected error for mismatched schedule length")
	}
	if _, err := NewMultiStage([]Trainer{sub}, []int{0}); err == nil {
		t.Error("expected error for zero-duration stage")
	}
}

// TestActiveStageCycles checks the epoch schedule: with durations
// [2, 3], the active stage over ten epochs should be
// 0 0 1 1 1 0 0 1 1 1, and the cycle should rebase on the fit-start
// epoch
func TestActiveStageCycles(t *testing.T) {
	subs := []Trainer{
		&mockTrainer{numOptimizers: 1},
		&mockTrainer{numOptimizers: 1},
	}
	m, err := NewMultiStage(subs, []int{2, 3})
	if err != nil {
		t.Fatalf("could not create multi-stage trainer: %v", err)
	}

	driver := &mockDriver{}
	m.OnFitStart(driver)

	expected := []int{0, 0, 1, 1, 1, 0, 0, 1, 1, 1}
	for epoch, want := range expected {
		if got := m.activeStage(epoch); got != want {
			t.Errorf("epoch %v: got stage %v; expected %v", epoch, got,
				want)
		}
	}

	// Restarting at a later epoch shifts the whole schedule
	driver.epoch = 4
	m.OnFitStart(driver)
	for offset, want := range expected {
		if got := m.activeStage(4 + offset); got != want {
			t.Errorf("epoch %v: got stage %v; expected %v", 4+offset,
				got, want)
		}
	}
}

// TestOptimizerIndexMap checks that global optimizer indices map to
// their owning sub-trainer with the sub-trainer's base offset: with
// optimizer counts [1, 2], index 0 belongs to stage 0 and indices 1
// and 2 to stage 1
func TestOptimizerIndexMap(t *testing.T) {
	subs := []Trainer{
		&mockTrainer{numOptimizers: 1},
		&mockTrainer{numOptimizers: 2},
	}
	m, err := NewMultiStage(subs, []int{1, 1})
	if err != nil {
		t.Fatalf("could not create multi-stage trainer: %v", err)
	}

	if n := m.NumOptimizers(); n != 3 {
		t.Fatalf("got %v optimizers; expected 3", n)
	}

	expected := []stageOffset{
		{stage: 0, offset: 0},
		{stage: 1, offset: 1},
		{stage: 1, offset: 1},
	}
	for idx, want := range expected {
		stage, offset := m.ownerOf(idx)
		if stage != want.stage || offset != want.offset {
			t.Errorf("optimizer %v: got stage %v offset %v; expected "+
				"stage %v offset %v", idx, stage, offset, want.stage,
				want.offset)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for unowned optimizer index")
		}
	}()
	m.ownerOf(3)
}

// TestTrainingStepRouting checks that training steps reach the active
// sub-trainer with a rebased optimizer index, and that a step whose
// optimizer belongs to an inactive stage panics
func TestTrainingStepRouting(t *testing.T) {
	first := &mockTrainer{numOptimizers: 1}
	second := &mockTrainer{numOptimizers: 2}
	m, err := NewMultiStage([]Trainer{first, second}, []int{1, 1})
	if err != nil {
		t.Fatalf("could not create multi-stage trainer: %v", err)
	}

	driver := &mockDriver{epoch: 0}
	m.OnFitStart(driver)
	driver.epoch = 1 // stage 1 active

	// Global optimizer index 2 is the second stage's local index 1
	if _, err := m.TrainingStep(nil, 7, 2); err != nil {
		t.Fatalf("could not run training step: %v", err)
	}
	if len(second.trainingSteps) != 1 {
		t.Fatalf("second stage saw %v training steps; expected 1",
			len(second.trainingSteps))
	}
	call := second.trainingSteps[0]
	if call.batchIdx != 7 || call.optimizerIdx != 1 {
		t.Errorf("got call %+v; expected batch 7 local optimizer 1", call)
	}
	if len(first.trainingSteps) != 0 {
		t.Errorf("inactive stage saw %v training steps; expected 0",
			len(first.trainingSteps))
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for a step on an inactive stage's " +
				"optimizer")
		}
	}()
	m.TrainingStep(nil, 0, 0) // stage 0's optimizer while stage 1 active
}

// TestOptimizerStepSkipsInactive checks that stepping an inactive
// stage's optimizer is a silent no-op while the active stage's
// optimizer steps with a rebased index
func TestOptimizerStepSkipsInactive(t *testing.T) {
	first := &mockTrainer{numOptimizers: 1}
	second := &mockTrainer{numOptimizers: 2}
	m, err := NewMultiStage([]Trainer{first, second}, []int{1, 1})
	if err != nil {
		t.Fatalf("could not create multi-stage trainer: %v", err)
	}
	m.OnFitStart(&mockDriver{})

	// Epoch 0: stage 0 active; stage 1's optimizers are skipped
	if err := m.OptimizerStep(0, 0, nil, 1, nil); err != nil {
		t.Fatalf("inactive optimizer step errored: %v", err)
	}
	if err := m.OptimizerStep(0, 0, nil, 2, nil); err != nil {
		t.Fatalf("inactive optimizer step errored: %v", err)
	}
	if len(second.optimizerSteps) != 0 {
		t.Errorf("inactive stage stepped %v times; expected 0",
			len(second.optimizerSteps))
	}

	if err := m.OptimizerStep(0, 3, nil, 0, nil); err != nil {
		t.Fatalf("active optimizer step errored: %v", err)
	}
	if len(first.optimizerSteps) != 1 {
		t.Fatalf("active stage stepped %v times; expected 1",
			len(first.optimizerSteps))
	}

	// Epoch 1: stage 1 active; its global index 2 rebases to local 1
	if err := m.OptimizerStep(1, 0, nil, 2, nil); err != nil {
		t.Fatalf("active optimizer step errored: %v", err)
	}
	if len(second.optimizerSteps) != 1 ||
		second.optimizerSteps[0].optimizerIdx != 1 {
		t.Errorf("got steps %+v; expected one step with local optimizer 1",
			second.optimizerSteps)
	}
}

// TestSetReporterDefault checks the default reporter assignment: a
// Compound with one sub-reporter per sub-trainer is split up in
// registration order, and anything else is an error
func TestSetReporterDefault(t *testing.T) {
	first := &mockTrainer{numOptimizers: 1}
	second := &mockTrainer{numOptimizers: 1}
	m, err := NewMultiStage([]Trainer{first, second}, []int{1, 1})
	if err != nil {
		t.Fatalf("could not create multi-stage trainer: %v", err)
	}

	if err := m.SetReporter(report.Noop{}); err == nil {
		t.Error("expected error for a non-compound reporter")
	}

	short := report.NewCompound(report.NewBuffered())
	if err := m.SetReporter(short); err == nil {
		t.Error("expected error for a compound with too few sub-reporters")
	}

	subReporters := []report.Reporter{
		report.NewBuffered(),
		report.NewBuffered(),
	}
	compound := report.NewCompound(subReporters...)
	if err := m.SetReporter(compound); err != nil {
		t.Fatalf("could not set reporter: %v", err)
	}
	if first.reporter != subReporters[0] {
		t.Error("first sub-trainer did not receive the first sub-reporter")
	}
	if second.reporter != subReporters[1] {
		t.Error("second sub-trainer did not receive the second " +
			"sub-reporter")
	}
}

// TestTestStepAveragesStages checks that testing runs every stage and
// averages their losses
func TestTestStepAveragesStages(t *testing.T) {
	first := &mockTrainer{numOptimizers: 1, testLoss: 1}
	second := &mockTrainer{numOptimizers: 1, testLoss: 3}
	m, err := NewMultiStage([]Trainer{first, second}, []int{1, 1})
	if err != nil {
		t.Fatalf("could not create multi-stage trainer: %v", err)
	}
	m.OnTestStart(&mockDriver{})

	loss, err := m.TestStep(nil, 0)
	if err != nil {
		t.Fatalf("could not run test step: %v", err)
	}
	if loss != 2 {
		t.Errorf("got mean test loss %v; expected 2", loss)
	}
}
