package optimize

import (
	G "gorgonia.org/gorgonia"
)

// VanillaConfig describes a configuration of the vanilla gradient
// descent optimizer
type VanillaConfig struct {
	StepSize float64
	Batch    int
	Clip     float64 // <= 0 if no clipping
}

// NewVanilla returns a new vanilla gradient descent Optimizer bound
// to model
func NewVanilla(stepSize float64, batchSize int, clip float64,
	model []G.ValueGrad) (*Optimizer, error) {
	vanilla := VanillaConfig{
		StepSize: stepSize,
		Batch:    batchSize,
		Clip:     clip,
	}

	return newOptimizer(Vanilla, vanilla, model)
}

// Create returns a Gorgonia Vanilla Solver as described by the
// VanillaConfig
func (v VanillaConfig) Create() G.Solver {
	if v.Clip <= 0 {
		return G.NewVanillaSolver(
			G.WithLearnRate(v.StepSize),
			G.WithBatchSize(float64(v.Batch)),
		)
	}
	return G.NewVanillaSolver(
		G.WithLearnRate(v.StepSize),
		G.WithBatchSize(float64(v.Batch)),
		G.WithClip(v.Clip),
	)
}

// Type returns the type of optimizer the VanillaConfig creates
func (v VanillaConfig) Type() Type {
	return Vanilla
}

// ValidType returns if the given optimizer type is a valid type to be
// created with this config
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}
