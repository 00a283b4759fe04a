package c51

import (
	"fmt"

	"github.com/samuelfneumann/gorl/initwfn"
	"github.com/samuelfneumann/gorl/network"
	"github.com/samuelfneumann/gorl/optimize"
)

// Config implements a configuration for a C51 trainer
type Config struct {
	// Actions is the ordered list of the agent's action names. The
	// position of a name is the action's index in one-hot encodings.
	Actions []string

	// Features is the number of state features
	Features int

	// BatchSize is the number of transitions per training batch
	BatchSize int

	// Distribution support
	NumAtoms int
	QMin     float64
	QMax     float64

	// Q network architecture
	PolicyLayers []int                 // Layer sizes in neural net
	Biases       []bool                // Whether each layer should have a bias
	Activations  []*network.Activation // Activation of each layer
	InitWFn      *initwfn.InitWFn

	// Solver configuration for learning the Q network weights
	Solver optimize.Config

	// RL hyperparameters
	Gamma           float64
	Tau             float64 // Polyak averaging constant
	DoubleQLearning bool
	MaxQLearning    bool

	// MultiSteps selects the multi-step Bellman target: the per-row
	// discount becomes Gamma^step using the batch's Step field
	MultiSteps bool

	// UseSeqNumDiffAsTimeDiff makes the per-row discount
	// Gamma^timeDiff using the batch's TimeDiff field. Mutually
	// exclusive with MultiSteps.
	UseSeqNumDiffAsTimeDiff bool

	// RewardBoost maps action names to an additive reward bonus
	// applied every step the action was logged
	RewardBoost map[string]float64
}

// Validate checks a Config to ensure it is a valid configuration of a
// C51 trainer
func (c Config) Validate() error {
	if len(c.Actions) == 0 {
		return fmt.Errorf("new: no actions")
	}
	if c.Features <= 0 {
		return fmt.Errorf("new: non-positive number of features %v",
			c.Features)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("new: non-positive batch size %v", c.BatchSize)
	}

	if len(c.PolicyLayers) != len(c.Biases) {
		return fmt.Errorf("new: invalid number of biases\n\twant(%v)"+
			"\n\thave(%v)", len(c.PolicyLayers), len(c.Biases))
	}
	if len(c.PolicyLayers) != len(c.Activations) {
		return fmt.Errorf("new: invalid number of activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.PolicyLayers),
			len(c.Activations))
	}

	if c.InitWFn == nil {
		return fmt.Errorf("new: no weight initializer")
	}

	if c.MultiSteps && c.UseSeqNumDiffAsTimeDiff {
		return fmt.Errorf("new: MultiSteps and UseSeqNumDiffAsTimeDiff " +
			"are mutually exclusive")
	}

	if c.Tau < 0 || c.Tau > 1 {
		return fmt.Errorf("new: tau must be in [0, 1] but got %v", c.Tau)
	}

	return nil
}

// rewardBoosts converts the named reward boost mapping into a
// per-action bonus vector, erroring on names absent from Actions
func (c Config) rewardBoosts() ([]float64, error) {
	boosts := make([]float64, len(c.Actions))
	for name, boost := range c.RewardBoost {
		index := -1
		for i, action := range c.Actions {
			if action == name {
				index = i
				break
			}
		}
		if index < 0 {
			return nil, fmt.Errorf("new: reward boost action %q is not "+
				"in the action list", name)
		}
		boosts[index] = boost
	}
	return boosts, nil
}
