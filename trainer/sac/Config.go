// Package sac implements the soft actor-critic trainer.
//
// See https://arxiv.org/abs/1801.01290 for details.
package sac

import (
	"fmt"

	"github.com/samuelfneumann/gorl/initwfn"
	"github.com/samuelfneumann/gorl/network"
	"github.com/samuelfneumann/gorl/optimize"
)

// Config implements a configuration for a SAC trainer
type Config struct {
	// Features is the number of state features
	Features int

	// ActionDims is the number of continuous action dimensions
	ActionDims int

	// BatchSize is the number of transitions per training batch
	BatchSize int

	// Actor network architecture
	PolicyLayers      []int
	PolicyBiases      []bool
	PolicyActivations []*network.Activation

	// Critic network architecture, shared by the Q networks and the
	// state-value network
	CriticLayers      []int
	CriticBiases      []bool
	CriticActivations []*network.Activation

	InitWFn *initwfn.InitWFn

	// Solvers for the actor and critic weights. The critic solver
	// configuration is shared by every critic network.
	PolicySolver optimize.Config
	CriticSolver optimize.Config

	// TwinQ enables a second Q network; Bellman targets then use the
	// minimum of the two Q values
	TwinQ bool

	// UseValueNetwork enables a separate state-value network. Bellman
	// targets then bootstrap off a soft-updated copy of the value
	// network instead of soft-updated copies of the Q networks.
	UseValueNetwork bool

	// RL hyperparameters
	Gamma float64
	Tau   float64 // Polyak averaging constant
	Alpha float64 // Fixed entropy temperature

	// Seed seeds the noise source used to sample actions
	Seed uint64
}

// Validate checks a Config to ensure it is a valid configuration of a
// SAC trainer
func (c Config) Validate() error {
	if c.Features <= 0 {
		return fmt.Errorf("new: non-positive number of features %v",
			c.Features)
	}
	if c.ActionDims <= 0 {
		return fmt.Errorf("new: non-positive number of action "+
			"dimensions %v", c.ActionDims)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("new: non-positive batch size %v", c.BatchSize)
	}

	if len(c.PolicyLayers) != len(c.PolicyBiases) ||
		len(c.PolicyLayers) != len(c.PolicyActivations) {
		return fmt.Errorf("new: invalid actor architecture: need one "+
			"bias and one activation per layer but got %v layers, %v "+
			"biases, %v activations", len(c.PolicyLayers),
			len(c.PolicyBiases), len(c.PolicyActivations))
	}
	if len(c.CriticLayers) != len(c.CriticBiases) ||
		len(c.CriticLayers) != len(c.CriticActivations) {
		return fmt.Errorf("new: invalid critic architecture: need one "+
			"bias and one activation per layer but got %v layers, %v "+
			"biases, %v activations", len(c.CriticLayers),
			len(c.CriticBiases), len(c.CriticActivations))
	}

	if c.InitWFn == nil {
		return fmt.Errorf("new: no weight initializer")
	}

	if c.Tau < 0 || c.Tau > 1 {
		return fmt.Errorf("new: tau must be in [0, 1] but got %v", c.Tau)
	}
	if c.Alpha < 0 {
		return fmt.Errorf("new: negative entropy temperature %v", c.Alpha)
	}

	return nil
}
