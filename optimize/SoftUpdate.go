package optimize

import (
	"fmt"

	"github.com/samuelfneumann/gorl/network"
)

// NewSoftUpdate returns a pseudo-optimizer that, when stepped, sets
// the target network's weights to a polyak average between its
// current weights and those of the source network:
//
//	target <- (1 - tau) * target + tau * source
//
// No gradients are involved. The returned Optimizer satisfies the
// same stepping contract as a gradient-based Optimizer, so the
// generic training-loop driver can step it like any other.
func NewSoftUpdate(target, source network.NeuralNet,
	tau float64) (*Optimizer, error) {
	if tau < 0 || tau > 1 {
		return nil, fmt.Errorf("newsoftupdate: tau must be in [0, 1] "+
			"but got %v", tau)
	}

	return &Optimizer{
		typ: SoftUpdate,
		step: func() error {
			return target.Polyak(source, tau)
		},
	}, nil
}
