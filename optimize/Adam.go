package optimize

import (
	G "gorgonia.org/gorgonia"
)

// AdamConfig describes a configuration of the Adam optimizer
type AdamConfig struct {
	StepSize float64
	Epsilon  float64 // Smoothing factor
	Beta1    float64
	Beta2    float64
	Batch    int
}

// NewDefaultAdam returns a new Adam Optimizer with default
// hyperparameters, bound to model
func NewDefaultAdam(stepSize float64, batchSize int,
	model []G.ValueGrad) (*Optimizer, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999, batchSize, model)
}

// NewAdam returns a new Adam Optimizer bound to model
func NewAdam(stepSize, epsilon, beta1, beta2 float64, batchSize int,
	model []G.ValueGrad) (*Optimizer, error) {
	adam := AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
		Batch:    batchSize,
	}

	return newOptimizer(Adam, adam, model)
}

// Create returns a new Gorgonia Adam Solver as described by the
// AdamConfig
func (a AdamConfig) Create() G.Solver {
	return G.NewAdamSolver(
		G.WithLearnRate(a.StepSize),
		G.WithEps(a.Epsilon),
		G.WithBeta1(a.Beta1),
		G.WithBeta2(a.Beta2),
		G.WithBatchSize(float64(a.Batch)),
	)
}

// Type returns the type of optimizer the AdamConfig creates
func (a AdamConfig) Type() Type {
	return Adam
}

// ValidType returns if the given optimizer type is a valid type to be
// created with this config
func (a AdamConfig) ValidType(t Type) bool {
	return t == Adam
}
