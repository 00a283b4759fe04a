package cem

import (
	"fmt"

	"github.com/samuelfneumann/gorl/trainer"
)

// Trainer trains the planner's world-model ensemble. It is a
// multi-stage trainer over the ensemble's sub-trainers: each world
// model gets its own scheduled block of epochs, and the planner reads
// the models as they improve. The planner itself holds no learnable
// parameters, so no stage trains it.
type Trainer struct {
	*trainer.MultiStage
	planner *PlannerNetwork
}

// NewTrainer returns a new Trainer scheduling the argument world-model
// sub-trainers. For index i, worldModelTrainers[i] trains for
// epochs[i] consecutive epochs before the next stage begins.
func NewTrainer(planner *PlannerNetwork,
	worldModelTrainers []trainer.Trainer, epochs []int,
	opts ...trainer.MultiStageOption) (*Trainer, error) {
	if planner == nil {
		return nil, fmt.Errorf("newtrainer: no planner network")
	}

	multiStage, err := trainer.NewMultiStage(worldModelTrainers, epochs,
		opts...)
	if err != nil {
		return nil, fmt.Errorf("newtrainer: %v", err)
	}

	return &Trainer{
		MultiStage: multiStage,
		planner:    planner,
	}, nil
}

// Planner returns the planner network reading the trainer's ensemble
func (t *Trainer) Planner() *PlannerNetwork {
	return t.planner
}
