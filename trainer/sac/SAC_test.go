package sac

import (
	"math"
	"testing"

	"github.com/samuelfneumann/gorl/data"
	"github.com/samuelfneumann/gorl/initwfn"
	"github.com/samuelfneumann/gorl/network"
	"github.com/samuelfneumann/gorl/optimize"
	"gorgonia.org/tensor"
)

var testInit, _ = initwfn.NewGlorotN(1.0)

func testConfig() Config {
	return Config{
		Features:          3,
		ActionDims:        2,
		BatchSize:         4,
		PolicyLayers:      []int{8},
		PolicyBiases:      []bool{true},
		PolicyActivations: []*network.Activation{network.ReLU()},
		CriticLayers:      []int{8},
		CriticBiases:      []bool{true},
		CriticActivations: []*network.Activation{network.ReLU()},
		InitWFn:           testInit,
		PolicySolver: optimize.AdamConfig{
			StepSize: 0.001,
			Epsilon:  1e-8,
			Beta1:    0.9,
			Beta2:    0.999,
			Batch:    4,
		},
		CriticSolver: optimize.AdamConfig{
			StepSize: 0.001,
			Epsilon:  1e-8,
			Beta1:    0.9,
			Beta2:    0.999,
			Batch:    4,
		},
		Gamma: 0.99,
		Tau:   0.05,
		Alpha: 0.2,
		Seed:  42,
	}
}

// matrix returns a (rows, cols) dense matrix with deterministic
// entries
func matrix(rows, cols int, offset float64) *tensor.Dense {
	backing := make([]float64, rows*cols)
	for i := range backing {
		backing[i] = offset + float64(i)*0.1
	}
	return tensor.NewDense(tensor.Float64, []int{rows, cols},
		tensor.WithBacking(backing))
}

func testBatch() *data.Batch {
	return &data.Batch{
		State:             matrix(4, 3, 0),
		Action:            matrix(4, 2, -0.5),
		Reward:            data.Column([]float64{1, -1, 0.5, 0}),
		NextState:         matrix(4, 3, 0.05),
		NextAction:        matrix(4, 2, -0.45),
		NotTerminal:       data.Column([]float64{1, 1, 0, 1}),
		ActionProbability: data.Column([]float64{0.5, 0.5, 0.9, 0.1}),
	}
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config failed validation: %v", err)
	}

	badActor := testConfig()
	badActor.PolicyBiases = []bool{true, false}
	if err := badActor.Validate(); err == nil {
		t.Error("expected error for mismatched actor biases")
	}

	badTau := testConfig()
	badTau.Tau = -0.1
	if err := badTau.Validate(); err == nil {
		t.Error("expected error for negative tau")
	}

	badAlpha := testConfig()
	badAlpha.Alpha = -1
	if err := badAlpha.Validate(); err == nil {
		t.Error("expected error for negative alpha")
	}
}

// TestNumOptimizers checks that NumOptimizers agrees with the
// configured optimizer slice across every network combination
func TestNumOptimizers(t *testing.T) {
	cases := []struct {
		name     string
		twinQ    bool
		valueNet bool
		expected int
	}{
		{"single critic", false, false, 3},
		{"twin critics", true, false, 5},
		{"value network", false, true, 4},
		{"twin critics and value network", true, true, 5},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			config := testConfig()
			config.TwinQ = c.twinQ
			config.UseValueNetwork = c.valueNet

			trainer, err := New(config)
			if err != nil {
				t.Fatalf("could not create trainer: %v", err)
			}
			if n := trainer.NumOptimizers(); n != c.expected {
				t.Errorf("NumOptimizers reported %v; expected %v", n,
					c.expected)
			}

			optimizers, err := trainer.ConfigureOptimizers()
			if err != nil {
				t.Fatalf("could not configure optimizers: %v", err)
			}
			if len(optimizers) != c.expected {
				t.Errorf("got %v optimizers; expected %v",
					len(optimizers), c.expected)
			}
		})
	}
}

// TestTrainingStep runs a full pass over every optimization phase with
// twin critics and checks that the losses are finite and that
// stepping changes the online weights
func TestTrainingStep(t *testing.T) {
	config := testConfig()
	config.TwinQ = true

	trainer, err := New(config)
	if err != nil {
		t.Fatalf("could not create trainer: %v", err)
	}
	optimizers, err := trainer.ConfigureOptimizers()
	if err != nil {
		t.Fatalf("could not configure optimizers: %v", err)
	}

	batch := testBatch()
	before := append([]float64(nil),
		trainer.actor.Learnables()[0].Value().Data().([]float64)...)

	for idx, opt := range optimizers {
		loss, err := trainer.TrainingStep(batch, 0, idx)
		if err != nil {
			t.Fatalf("phase %v: could not run training step: %v", idx,
				err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.Fatalf("phase %v: got non-finite loss %v", idx, loss)
		}
		if err := trainer.OptimizerStep(0, 0, opt, idx, nil); err != nil {
			t.Fatalf("phase %v: could not run optimizer step: %v", idx,
				err)
		}
	}

	after := trainer.actor.Learnables()[0].Value().Data().([]float64)
	changed := false
	for i := range before {
		if after[i] != before[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("optimizer steps did not change actor weights")
	}
}

// TestTrainingStepValueNetwork runs a full pass with the state-value
// network enabled
func TestTrainingStepValueNetwork(t *testing.T) {
	config := testConfig()
	config.UseValueNetwork = true

	trainer, err := New(config)
	if err != nil {
		t.Fatalf("could not create trainer: %v", err)
	}
	optimizers, err := trainer.ConfigureOptimizers()
	if err != nil {
		t.Fatalf("could not configure optimizers: %v", err)
	}

	batch := testBatch()
	for idx, opt := range optimizers {
		loss, err := trainer.TrainingStep(batch, 0, idx)
		if err != nil {
			t.Fatalf("phase %v: could not run training step: %v", idx,
				err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.Fatalf("phase %v: got non-finite loss %v", idx, loss)
		}
		if err := trainer.OptimizerStep(0, 0, opt, idx, nil); err != nil {
			t.Fatalf("phase %v: could not run optimizer step: %v", idx,
				err)
		}
	}
}

// TestValidationStep checks that validation leaves no optimizer state
// behind and reports a finite loss
func TestValidationStep(t *testing.T) {
	trainer, err := New(testConfig())
	if err != nil {
		t.Fatalf("could not create trainer: %v", err)
	}

	loss, err := trainer.ValidationStep(testBatch(), 0)
	if err != nil {
		t.Fatalf("could not run validation step: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Errorf("got non-finite validation loss %v", loss)
	}
}

func TestConcat(t *testing.T) {
	states := []float64{1, 2, 3, 4}    // 2 rows, 2 features
	actions := []float64{10, 20}       // 2 rows, 1 dim
	out := concat(states, actions, 2, 1, 2)
	expected := []float64{1, 2, 10, 3, 4, 20}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("got %v; expected %v", out, expected)
		}
	}
}
