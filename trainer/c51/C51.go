package c51

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gorl/data"
	"github.com/samuelfneumann/gorl/network"
	"github.com/samuelfneumann/gorl/optimize"
	"github.com/samuelfneumann/gorl/report"
	"github.com/samuelfneumann/gorl/trainer"
	"github.com/samuelfneumann/gorl/utils/floatutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// actionNotPossibleVal is the value assigned to illegal actions before
// an argmax so that no legal action can lose to an illegal one. It is
// a reserved sentinel: state-action values are assumed to never reach
// it.
const actionNotPossibleVal float64 = -1e9

// C51 implements the categorical DQN trainer of Bellemare, Dabney, and
// Munos. Instead of a scalar value per action, the Q network predicts
// a categorical distribution over a fixed Support of returns, and the
// training target is the projection of the Bellman-shifted next-state
// distribution back onto that Support. The loss is the cross entropy
// between the projected target and the predicted distribution of the
// logged action.
//
// A C51 trains on batches of logged transitions and holds two
// optimizers: the first steps the Q network weights on the cross
// entropy gradient, the second Polyak-averages those weights into the
// target network.
type C51 struct {
	config  Config
	support *Support

	// trainNet holds the learnable weights. Its graph also holds the
	// loss and the gradient of the loss with respect to the weights.
	trainNet   network.DistQNet
	trainVM    G.VM
	targetMass *G.Node // (B*A, NumAtoms) placeholder, target input
	lossVal    G.Value

	// targetNet evaluates next-state distributions for the Bellman
	// target. It trails trainNet through Polyak averaging.
	targetNet network.DistQNet
	targetVM  G.VM

	// selectNet is a copy of trainNet used to select the next action
	// under double Q-learning. It is synced to trainNet after every
	// optimizer step.
	selectNet network.DistQNet
	selectVM  G.VM

	rewardBoosts []float64

	optimizers []*optimize.Optimizer

	reporter report.Reporter
	driver   trainer.Driver

	lastLoss float64
}

// New creates and returns a new C51 trainer
func New(c Config) (*C51, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	boosts, err := c.rewardBoosts()
	if err != nil {
		return nil, err
	}

	support, err := NewSupport(c.QMin, c.QMax, c.NumAtoms)
	if err != nil {
		return nil, fmt.Errorf("new: could not create support: %v", err)
	}

	numActions := len(c.Actions)
	g := G.NewGraph()
	trainNet, err := network.NewDistMLP(c.Features, c.BatchSize,
		numActions, c.NumAtoms, g, c.PolicyLayers, c.Biases,
		c.InitWFn.InitWFn(),
		c.Activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create training network: %v",
			err)
	}

	t := &C51{
		config:       c,
		support:      support,
		trainNet:     trainNet,
		rewardBoosts: boosts,
		reporter:     report.Noop{},
	}

	// Cross entropy between the projected target distribution and the
	// predicted log-distribution of the taken action. The target mass
	// is zero on rows of actions that were not taken, so those rows
	// contribute nothing to the loss or its gradient.
	t.targetMass = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(c.BatchSize*numActions, c.NumAtoms),
		G.WithName("targetMass"),
	)
	batchSize := G.NewScalar(g, tensor.Float64, G.WithName("batchSize"),
		G.WithValue(float64(c.BatchSize)))
	crossEntropy := G.Must(G.HadamardProd(t.targetMass, trainNet.LogDist()))
	loss := G.Must(G.Neg(
		G.Must(G.Div(G.Must(G.Sum(crossEntropy)), batchSize)),
	))
	G.Read(loss, &t.lossVal)

	if _, err := G.Grad(loss, trainNet.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not compute gradient: %v", err)
	}
	t.trainVM = G.NewTapeMachine(g,
		G.BindDualValues(trainNet.Learnables()...))

	// Target network in its own graph
	target, err := trainNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: could not create target network: %v",
			err)
	}
	t.targetNet = target.(network.DistQNet)
	t.targetVM = G.NewTapeMachine(t.targetNet.Graph())

	if c.DoubleQLearning {
		sel, err := trainNet.Clone()
		if err != nil {
			return nil, fmt.Errorf("new: could not create selection "+
				"network: %v", err)
		}
		t.selectNet = sel.(network.DistQNet)
		t.selectVM = G.NewTapeMachine(t.selectNet.Graph())
	}

	return t, nil
}

// OnFitStart is called once before the first training step
func (c *C51) OnFitStart(d trainer.Driver) {
	c.driver = d
}

// OnFitEnd is called once after the last training step
func (c *C51) OnFitEnd() {}

// OnTestStart is called once before the first test step
func (c *C51) OnTestStart(d trainer.Driver) {
	c.driver = d
}

// OnTestEnd is called once after the last test step
func (c *C51) OnTestEnd() {}

// ConfigureOptimizers returns the trainer's optimizers: the Q network
// solver followed by the target network soft updater
func (c *C51) ConfigureOptimizers() ([]*optimize.Optimizer, error) {
	if c.optimizers != nil {
		return c.optimizers, nil
	}

	solver, err := optimize.FromConfig(c.config.Solver, c.trainNet.Model())
	if err != nil {
		return nil, fmt.Errorf("configureoptimizers: could not create "+
			"solver: %v", err)
	}

	softUpdate, err := optimize.NewSoftUpdate(c.targetNet, c.trainNet,
		c.config.Tau)
	if err != nil {
		return nil, fmt.Errorf("configureoptimizers: could not create "+
			"soft update: %v", err)
	}

	c.optimizers = []*optimize.Optimizer{solver, softUpdate}
	return c.optimizers, nil
}

// NumOptimizers returns the number of optimizers the trainer holds
func (c *C51) NumOptimizers() int {
	return 2
}

// TrainingStep computes the cross entropy loss and its gradient on a
// batch. Only the first optimization phase computes anything: the soft
// update phase needs no gradients, so the step reports the loss of the
// first phase again.
func (c *C51) TrainingStep(b *data.Batch, batchIdx,
	optimizerIdx int) (float64, error) {
	if optimizerIdx != 0 {
		return c.lastLoss, nil
	}

	loss, err := c.computeLoss(b)
	if err != nil {
		return 0, fmt.Errorf("trainingstep: %v", err)
	}
	c.lastLoss = loss

	if c.driver != nil && c.driver.LogEveryNSteps() > 0 &&
		batchIdx%c.driver.LogEveryNSteps() == 0 {
		c.report(b, loss)
	}

	return loss, nil
}

// OptimizerStep applies the optimizer matching the last TrainingStep.
// After the solver steps the Q network weights, the selection network
// is re-synced to them. The closure is ignored: neither optimizer
// needs to re-run the training computation.
func (c *C51) OptimizerStep(epoch, batchIdx int, opt *optimize.Optimizer,
	optimizerIdx int, closure func() error) error {
	if err := opt.Step(); err != nil {
		return fmt.Errorf("optimizerstep: could not step optimizer %v: %v",
			optimizerIdx, err)
	}

	if optimizerIdx == 0 {
		c.trainVM.Reset()
		if c.selectNet != nil {
			if err := c.selectNet.Set(c.trainNet); err != nil {
				return fmt.Errorf("optimizerstep: could not sync "+
					"selection network: %v", err)
			}
		}
	}
	return nil
}

// TrainingEpochEnd flushes the trainer's reporter for the completed
// epoch
func (c *C51) TrainingEpochEnd() {
	if c.driver != nil {
		c.reporter.Flush(c.driver.CurrentEpoch())
	}
}

// ValidationStep computes the cross entropy loss on a held-out batch
// without stepping any optimizer
func (c *C51) ValidationStep(b *data.Batch, batchIdx int) (float64, error) {
	loss, err := c.computeLoss(b)
	if err != nil {
		return 0, fmt.Errorf("validationstep: %v", err)
	}
	c.trainVM.Reset()
	return loss, nil
}

// ValidationEpochEnd is called after the last validation step of an
// epoch
func (c *C51) ValidationEpochEnd() {}

// TestStep computes the cross entropy loss on a test batch without
// stepping any optimizer
func (c *C51) TestStep(b *data.Batch, batchIdx int) (float64, error) {
	loss, err := c.computeLoss(b)
	if err != nil {
		return 0, fmt.Errorf("teststep: %v", err)
	}
	c.trainVM.Reset()
	return loss, nil
}

// TestEpochEnd is called after the last test step
func (c *C51) TestEpochEnd() {}

// SetReporter injects the reporter the trainer logs to
func (c *C51) SetReporter(r report.Reporter) error {
	c.reporter = r
	return nil
}

// Support returns the return support of the trainer's distributions
func (c *C51) Support() *Support {
	return c.support
}

// computeLoss runs the full target computation and the training graph
// on a batch, leaving gradients bound in the training graph. The
// caller owns resetting the training VM.
func (c *C51) computeLoss(b *data.Batch) (float64, error) {
	mass, err := c.targetDistribution(b)
	if err != nil {
		return 0, err
	}

	if err := G.Let(c.targetMass, mass); err != nil {
		return 0, fmt.Errorf("could not set target mass: %v", err)
	}
	if err := c.trainNet.SetInput(b.State.Data().([]float64)); err != nil {
		return 0, fmt.Errorf("could not set training input: %v", err)
	}
	if err := c.trainVM.RunAll(); err != nil {
		return 0, fmt.Errorf("could not run training network: %v", err)
	}

	return c.lossVal.Data().(float64), nil
}

// targetDistribution computes the projected Bellman target of a batch
// as a (B*A, NumAtoms) mass matrix: row i*A + a holds the projected
// distribution when a is the logged action of transition i and is zero
// otherwise.
func (c *C51) targetDistribution(b *data.Batch) (*tensor.Dense, error) {
	rows := b.Size()
	numActions := b.NumActions()
	numAtoms := c.support.NumAtoms()

	// Next-state distributions under the target network
	if err := c.targetNet.SetInput(
		b.NextState.Data().([]float64)); err != nil {
		return nil, fmt.Errorf("could not set target network input: %v",
			err)
	}
	if err := c.targetVM.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run target network: %v", err)
	}
	targetProbs := expOf(c.targetNet.LogDistVal().Data().([]float64))
	c.targetVM.Reset()

	nextActions, err := c.nextActions(b, targetProbs)
	if err != nil {
		return nil, err
	}

	// Distribution of the chosen next action per transition
	nextDist := make([]float64, rows*numAtoms)
	for i := 0; i < rows; i++ {
		row := (i*numActions + nextActions[i]) * numAtoms
		copy(nextDist[i*numAtoms:(i+1)*numAtoms],
			targetProbs[row:row+numAtoms])
	}

	rewards := c.boostedRewards(b)
	projected, err := c.support.Project(
		rewards,
		c.discounts(b),
		b.NotTerminal.Data().([]float64),
		tensor.NewDense(tensor.Float64, []int{rows, numAtoms},
			tensor.WithBacking(nextDist)),
	)
	if err != nil {
		return nil, err
	}

	// Scatter each projected row into the taken action's row of the
	// (B*A, NumAtoms) mass matrix
	taken := takenActions(b.Action.Data().([]float64), numActions)
	projectedData := projected.Data().([]float64)
	mass := make([]float64, rows*numActions*numAtoms)
	for i := 0; i < rows; i++ {
		row := (i*numActions + taken[i]) * numAtoms
		copy(mass[row:row+numAtoms],
			projectedData[i*numAtoms:(i+1)*numAtoms])
	}

	return tensor.NewDense(
		tensor.Float64,
		[]int{rows * numActions, numAtoms},
		tensor.WithBacking(mass),
	), nil
}

// nextActions returns the next action of each transition used to form
// the Bellman target. Under max Q-learning the action maximizes the
// expected value over the legal next actions, selecting with the
// current weights under double Q-learning and with the target weights
// otherwise. Without max Q-learning the logged next action is used.
func (c *C51) nextActions(b *data.Batch, targetProbs []float64) ([]int,
	error) {
	rows := b.Size()
	numActions := b.NumActions()

	if !c.config.MaxQLearning {
		return takenActions(b.NextAction.Data().([]float64),
			numActions), nil
	}

	selectionProbs := targetProbs
	if c.config.DoubleQLearning {
		if err := c.selectNet.SetInput(
			b.NextState.Data().([]float64)); err != nil {
			return nil, fmt.Errorf("could not set selection network "+
				"input: %v", err)
		}
		if err := c.selectVM.RunAll(); err != nil {
			return nil, fmt.Errorf("could not run selection network: %v",
				err)
		}
		selectionProbs = expOf(c.selectNet.LogDistVal().Data().([]float64))
		c.selectVM.Reset()
	}

	mask := b.PossibleNextActionsMask.Data().([]float64)
	actions := make([]int, rows)
	values := make([]float64, numActions)
	for i := 0; i < rows; i++ {
		for a := 0; a < numActions; a++ {
			if mask[i*numActions+a] == 0 {
				values[a] = actionNotPossibleVal
				continue
			}
			row := (i*numActions + a) * c.support.NumAtoms()
			values[a] = c.support.ExpectedValue(
				selectionProbs[row : row+c.support.NumAtoms()])
		}
		actions[i] = floatutils.ArgMax(values...)
	}
	return actions, nil
}

// boostedRewards returns the batch's rewards with each transition's
// reward boost added
func (c *C51) boostedRewards(b *data.Batch) []float64 {
	numActions := b.NumActions()
	taken := takenActions(b.Action.Data().([]float64), numActions)

	rewardData := b.Reward.Data().([]float64)
	rewards := make([]float64, len(rewardData))
	for i, r := range rewardData {
		rewards[i] = r + c.rewardBoosts[taken[i]]
	}
	return rewards
}

// discounts returns the per-transition discount of a batch
func (c *C51) discounts(b *data.Batch) []float64 {
	rows := b.Size()
	discounts := make([]float64, rows)

	switch {
	case c.config.MultiSteps:
		steps := b.Step.Data().([]float64)
		for i := range discounts {
			discounts[i] = math.Pow(c.config.Gamma, steps[i])
		}

	case c.config.UseSeqNumDiffAsTimeDiff:
		diffs := b.TimeDiff.Data().([]float64)
		for i := range discounts {
			discounts[i] = math.Pow(c.config.Gamma, diffs[i])
		}

	default:
		for i := range discounts {
			discounts[i] = c.config.Gamma
		}
	}
	return discounts
}

// report emits a structured record of the last training step
func (c *C51) report(b *data.Batch, loss float64) {
	rows := b.Size()
	numActions := b.NumActions()
	numAtoms := c.support.NumAtoms()

	// Expected state-action values of the training network on the
	// batch's states, read from the graph run of the last loss
	// computation
	probs := expOf(c.trainNet.LogDistVal().Data().([]float64))
	modelValues := make([]float64, rows*numActions)
	for i := range modelValues {
		modelValues[i] = c.support.ExpectedValue(
			probs[i*numAtoms : (i+1)*numAtoms])
	}

	// The greedy model action only ranges over all legal actions
	// under max Q-learning; otherwise it is the logged action
	mask := b.PossibleActionsMask.Data().([]float64)
	if !c.config.MaxQLearning {
		mask = b.Action.Data().([]float64)
	}
	modelActions := make([]int, rows)
	values := make([]float64, numActions)
	for i := 0; i < rows; i++ {
		for a := 0; a < numActions; a++ {
			if mask[i*numActions+a] == 0 {
				values[a] = actionNotPossibleVal
			} else {
				values[a] = modelValues[i*numActions+a]
			}
		}
		modelActions[i] = floatutils.ArgMax(values...)
	}

	c.reporter.Log(report.Record{
		TDLoss:             loss,
		LoggedActions:      takenActions(b.Action.Data().([]float64), numActions),
		LoggedPropensities: append([]float64(nil), b.ActionProbability.Data().([]float64)...),
		LoggedRewards:      c.boostedRewards(b),
		ModelValues:        modelValues,
		ModelActionIdxs:    modelActions,
	})
}

// takenActions returns the hot index of each row of a flattened
// (rows, numActions) one-hot matrix
func takenActions(oneHot []float64, numActions int) []int {
	actions := make([]int, len(oneHot)/numActions)
	for i := range actions {
		actions[i] = floatutils.ArgMax(
			oneHot[i*numActions : (i+1)*numActions]...)
	}
	return actions
}

// expOf returns the element-wise exponential of a slice
func expOf(logProbs []float64) []float64 {
	probs := make([]float64, len(logProbs))
	for i, lp := range logProbs {
		probs[i] = math.Exp(lp)
	}
	return probs
}
