// Package data implements the batch structures consumed by trainers
package data

import (
	"gorgonia.org/tensor"
)

// Batch packages together a single minibatch of transitions sampled
// from logged experience. A Batch is produced by an external data
// pipeline and is treated as read-only by every trainer: trainers
// assume well-formed shapes and never re-validate them.
//
// Shapes use B for the batch size, A for the number of discrete
// actions, and F for the number of state features.
type Batch struct {
	State     *tensor.Dense // (B, F)
	Action    *tensor.Dense // (B, A) one-hot, exactly one action hot per row
	Reward    *tensor.Dense // (B, 1)
	NextState *tensor.Dense // (B, F)

	// NextAction is the logged action taken in NextState, one-hot
	NextAction *tensor.Dense // (B, A)

	// NotTerminal is 1 where NextState is not terminal, else 0
	NotTerminal *tensor.Dense // (B, 1)

	PossibleActionsMask     *tensor.Dense // (B, A)
	PossibleNextActionsMask *tensor.Dense // (B, A)

	// TimeDiff holds the difference in sequence numbers between the
	// state and next state. Only consulted when a trainer is
	// configured to use sequence numbers as time differences.
	TimeDiff *tensor.Dense // (B, 1)

	// Step holds the number of environment steps each transition
	// spans. Only consulted by multi-step trainers.
	Step *tensor.Dense // (B, 1)

	// ActionProbability is the logged propensity of the logged action
	ActionProbability *tensor.Dense // (B, 1)
}

// Size returns the number of transitions in the Batch
func (b *Batch) Size() int {
	return b.State.Shape()[0]
}

// NumActions returns the number of discrete actions in the Batch
func (b *Batch) NumActions() int {
	return b.Action.Shape()[1]
}

// Features returns the number of state features in the Batch
func (b *Batch) Features() int {
	return b.State.Shape()[1]
}

// OneHot returns a (len(indices), numActions) one-hot matrix with
// row i hot at indices[i]
func OneHot(indices []int, numActions int) *tensor.Dense {
	backing := make([]float64, len(indices)*numActions)
	for i, index := range indices {
		backing[i*numActions+index] = 1.0
	}
	return tensor.NewDense(
		tensor.Float64,
		[]int{len(indices), numActions},
		tensor.WithBacking(backing),
	)
}

// Column returns a (len(values), 1) column matrix holding values
func Column(values []float64) *tensor.Dense {
	backing := make([]float64, len(values))
	copy(backing, values)
	return tensor.NewDense(
		tensor.Float64,
		[]int{len(values), 1},
		tensor.WithBacking(backing),
	)
}

// Ones returns a (rows, cols) matrix of ones, useful for
// possible-action masks where every action is legal
func Ones(rows, cols int) *tensor.Dense {
	backing := make([]float64, rows*cols)
	for i := range backing {
		backing[i] = 1.0
	}
	return tensor.NewDense(
		tensor.Float64,
		[]int{rows, cols},
		tensor.WithBacking(backing),
	)
}
