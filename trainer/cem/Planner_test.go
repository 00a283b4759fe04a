package cem

import (
	"math"
	"testing"

	"github.com/samuelfneumann/gorl/data"
	"github.com/samuelfneumann/gorl/optimize"
	"github.com/samuelfneumann/gorl/report"
	"github.com/samuelfneumann/gorl/trainer"
)

// quadraticModel rewards actions near a target point and never
// terminates
type quadraticModel struct {
	target float64
}

func (m quadraticModel) Predict(state, action []float64) ([]float64,
	float64, float64, error) {
	diff := action[0] - m.target
	return append([]float64(nil), state...), -diff * diff, 1, nil
}

// bestActionModel rewards exactly one discrete action
type bestActionModel struct {
	best int
}

func (m bestActionModel) Predict(state, action []float64) ([]float64,
	float64, float64, error) {
	reward := 0.0
	if action[m.best] == 1 {
		reward = 1
	}
	return append([]float64(nil), state...), reward, 1, nil
}

// terminalModel gives one reward and then terminates
type terminalModel struct{}

func (terminalModel) Predict(state, action []float64) ([]float64,
	float64, float64, error) {
	return append([]float64(nil), state...), 1, 0, nil
}

func continuousConfig() PlannerConfig {
	return PlannerConfig{
		NumIterations:     10,
		PopulationSize:    100,
		NumElites:         10,
		PlanHorizon:       1,
		StateDims:         2,
		ActionDims:        1,
		Gamma:             0.99,
		Alpha:             0.1,
		Epsilon:           1e-6,
		ActionLowerBounds: []float64{-1},
		ActionUpperBounds: []float64{1},
		Seed:              42,
	}
}

func TestPlannerConfigValidate(t *testing.T) {
	valid := continuousConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config failed validation: %v", err)
	}

	badElites := continuousConfig()
	badElites.NumElites = 200
	if err := badElites.Validate(); err == nil {
		t.Error("expected error for more elites than candidates")
	}

	badBounds := continuousConfig()
	badBounds.ActionUpperBounds = []float64{-2}
	if err := badBounds.Validate(); err == nil {
		t.Error("expected error for empty action bounds")
	}

	badAlpha := continuousConfig()
	badAlpha.Alpha = 1
	if err := badAlpha.Validate(); err == nil {
		t.Error("expected error for alpha outside [0, 1)")
	}
}

func TestNewPlannerNetwork(t *testing.T) {
	if _, err := NewPlannerNetwork(continuousConfig(), nil); err == nil {
		t.Error("expected error for empty ensemble")
	}
}

// TestPlanContinuous checks that CEM refinement finds the reward
// peak of a quadratic toy model, improving well past the search
// distribution's initial mean
func TestPlanContinuous(t *testing.T) {
	const target = 0.7

	planner, err := NewPlannerNetwork(continuousConfig(),
		[]Model{quadraticModel{target: target}})
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	action, err := planner.Plan([]float64{0, 0})
	if err != nil {
		t.Fatalf("could not plan: %v", err)
	}
	if len(action) != 1 {
		t.Fatalf("got %v action dimensions; expected 1", len(action))
	}

	// The initial mean sits at 0, a distance of 0.7 from the peak;
	// refinement should at least halve that
	if math.Abs(action[0]-target) > 0.35 {
		t.Errorf("planned action %v is not near the reward peak %v",
			action[0], target)
	}
}

// TestPlanDiscrete checks that discrete planning returns the one-hot
// encoding of the best first action alongside every action's value
func TestPlanDiscrete(t *testing.T) {
	config := continuousConfig()
	config.DiscreteActions = true
	config.ActionDims = 3
	config.ActionLowerBounds = nil
	config.ActionUpperBounds = nil

	planner, err := NewPlannerNetwork(config,
		[]Model{bestActionModel{best: 2}})
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	values, oneHot, err := planner.PlanDiscrete([]float64{0, 0})
	if err != nil {
		t.Fatalf("could not plan: %v", err)
	}

	if values[2] != 1 || values[0] != 0 || values[1] != 0 {
		t.Errorf("got action values %v; expected [0 0 1]", values)
	}
	expected := []float64{0, 0, 1}
	for i := range expected {
		if oneHot[i] != expected[i] {
			t.Fatalf("got one-hot %v; expected %v", oneHot, expected)
		}
	}

	// Plan dispatches to discrete planning
	planned, err := planner.Plan([]float64{0, 0})
	if err != nil {
		t.Fatalf("could not plan: %v", err)
	}
	if planned[2] != 1 {
		t.Errorf("got planned action %v; expected one-hot index 2",
			planned)
	}
}

// TestRolloutTerminal checks that a terminal prediction stops reward
// accumulation when the planner is terminal-effective
func TestRolloutTerminal(t *testing.T) {
	config := continuousConfig()
	config.PlanHorizon = 5
	config.TerminalEffective = true

	planner, err := NewPlannerNetwork(config, []Model{terminalModel{}})
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	actions := make([][]float64, 5)
	for i := range actions {
		actions[i] = []float64{0}
	}
	value, err := planner.rollout(terminalModel{}, []float64{0, 0},
		actions)
	if err != nil {
		t.Fatalf("could not roll out: %v", err)
	}
	if value != 1 {
		t.Errorf("got return %v; expected 1 from a single step before "+
			"termination", value)
	}
}

func TestTopIndices(t *testing.T) {
	top := topIndices([]float64{0.1, 5, -3, 2}, 2)
	if top[0] != 1 || top[1] != 3 {
		t.Errorf("got elite indices %v; expected [1 3]", top)
	}
}

// stubTrainer is a minimal world-model sub-trainer
type stubTrainer struct{}

func (stubTrainer) OnFitStart(trainer.Driver)  {}
func (stubTrainer) OnFitEnd()                  {}
func (stubTrainer) OnTestStart(trainer.Driver) {}
func (stubTrainer) OnTestEnd()                 {}
func (stubTrainer) ConfigureOptimizers() ([]*optimize.Optimizer, error) {
	return make([]*optimize.Optimizer, 1), nil
}
func (stubTrainer) NumOptimizers() int { return 1 }
func (stubTrainer) TrainingStep(*data.Batch, int, int) (float64, error) {
	return 0, nil
}
func (stubTrainer) OptimizerStep(int, int, *optimize.Optimizer, int,
	func() error) error {
	return nil
}
func (stubTrainer) TrainingEpochEnd() {}
func (stubTrainer) ValidationStep(*data.Batch, int) (float64, error) {
	return 0, nil
}
func (stubTrainer) ValidationEpochEnd() {}
func (stubTrainer) TestStep(*data.Batch, int) (float64, error) {
	return 0, nil
}
func (stubTrainer) TestEpochEnd()                     {}
func (stubTrainer) SetReporter(report.Reporter) error { return nil }

// TestNewTrainer checks construction and that the trainer behaves as
// a multi-stage trainer over the world-model sub-trainers
func TestNewTrainer(t *testing.T) {
	planner, err := NewPlannerNetwork(continuousConfig(),
		[]Model{quadraticModel{target: 0}})
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	subs := []trainer.Trainer{stubTrainer{}, stubTrainer{}}
	cemTrainer, err := NewTrainer(planner, subs, []int{2, 3})
	if err != nil {
		t.Fatalf("could not create trainer: %v", err)
	}

	if cemTrainer.NumStages() != 2 {
		t.Errorf("got %v stages; expected 2", cemTrainer.NumStages())
	}
	if cemTrainer.NumOptimizers() != 2 {
		t.Errorf("got %v optimizers; expected 2",
			cemTrainer.NumOptimizers())
	}
	if cemTrainer.Planner() != planner {
		t.Error("trainer does not expose its planner")
	}

	if _, err := NewTrainer(nil, subs, []int{2, 3}); err == nil {
		t.Error("expected error for nil planner")
	}
	if _, err := NewTrainer(planner, subs, []int{2}); err == nil {
		t.Error("expected error for mismatched schedule")
	}
}
