package sac

import (
	"fmt"

	"github.com/samuelfneumann/gorl/data"
	"github.com/samuelfneumann/gorl/network"
	"github.com/samuelfneumann/gorl/optimize"
	"github.com/samuelfneumann/gorl/report"
	"github.com/samuelfneumann/gorl/trainer"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
)

// phase identifies what kind of update each optimizer index performs
type phase int

const (
	phaseQ1 phase = iota
	phaseQ2
	phaseActor
	phaseValue
	phaseSoft
)

// SAC implements the soft actor-critic trainer of Haarnoja et al. A
// Gaussian actor maximizes the entropy-regularized value of its
// sampled actions under a parametric Q critic, while the critics
// regress onto soft Bellman targets. With TwinQ, targets use the
// minimum of two critics; with UseValueNetwork, targets bootstrap off
// a soft-updated state-value network instead of soft-updated critics.
//
// Unlike the discrete-action trainers, SAC reads the batch's Action
// and NextAction fields as (B, ActionDims) matrices of continuous
// actions rather than one-hot rows.
type SAC struct {
	config Config

	// Actor graph. It embeds a copy of the first critic wired to the
	// actor's sampled action node, so the actor loss differentiates
	// through the critic's value. The copy's weights are synced to the
	// first critic after every critic update.
	actor        network.GaussianActor
	actorQ       network.NeuralNet
	actorVM      G.VM
	actorLossVal G.Value

	q1    *critic
	q2    *critic // nil unless TwinQ
	value *critic // nil unless UseValueNetwork

	// Evaluation copies, used to compute numeric targets without
	// touching the gradient graphs
	actorEval *actorSampler
	q1Eval    *evalNet
	q2Eval    *evalNet

	// Bootstrap networks: either a soft-updated value network or
	// soft-updated critics
	targetValue *evalNet
	targetQ1    *evalNet
	targetQ2    *evalNet

	noise distuv.Normal

	optimizers []*optimize.Optimizer
	phases     []phase
	lastLosses []float64

	reporter report.Reporter
	driver   trainer.Driver
}

// New creates and returns a new SAC trainer
func New(c Config) (*SAC, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &SAC{
		config:   c,
		reporter: report.Noop{},
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(c.Seed),
		},
	}

	var err error
	s.q1, err = newQCritic(c)
	if err != nil {
		return nil, fmt.Errorf("new: could not create first critic: %v",
			err)
	}
	if c.TwinQ {
		s.q2, err = newQCritic(c)
		if err != nil {
			return nil, fmt.Errorf("new: could not create second "+
				"critic: %v", err)
		}
	}

	if err := s.buildActor(c); err != nil {
		return nil, err
	}

	// Evaluation copies
	actorEvalNet, err := s.actor.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: could not clone actor: %v", err)
	}
	s.actorEval = newActorSampler(actorEvalNet.(network.GaussianActor))

	s.q1Eval, err = newEvalNet(s.q1.net)
	if err != nil {
		return nil, fmt.Errorf("new: could not clone first critic: %v",
			err)
	}
	if c.TwinQ {
		s.q2Eval, err = newEvalNet(s.q2.net)
		if err != nil {
			return nil, fmt.Errorf("new: could not clone second "+
				"critic: %v", err)
		}
	}

	// Bootstrap networks
	if c.UseValueNetwork {
		s.value, err = newValueCritic(c)
		if err != nil {
			return nil, fmt.Errorf("new: could not create value "+
				"network: %v", err)
		}
		s.targetValue, err = newEvalNet(s.value.net)
		if err != nil {
			return nil, fmt.Errorf("new: could not create target value "+
				"network: %v", err)
		}
	} else {
		s.targetQ1, err = newEvalNet(s.q1.net)
		if err != nil {
			return nil, fmt.Errorf("new: could not create first target "+
				"critic: %v", err)
		}
		if c.TwinQ {
			s.targetQ2, err = newEvalNet(s.q2.net)
			if err != nil {
				return nil, fmt.Errorf("new: could not create second "+
					"target critic: %v", err)
			}
		}
	}

	s.lastLosses = make([]float64, s.NumOptimizers())
	return s, nil
}

// buildActor constructs the actor network, embeds a copy of the first
// critic reading the actor's sampled actions, and adds the actor loss
// alpha*logProb - Q(s, a) to the actor's graph
func (s *SAC) buildActor(c Config) error {
	g := G.NewGraph()

	actor, err := network.NewGaussianActor(c.Features, c.BatchSize,
		c.ActionDims, g, c.PolicyLayers, c.PolicyBiases,
		c.InitWFn.InitWFn(), c.PolicyActivations)
	if err != nil {
		return fmt.Errorf("new: could not create actor: %v", err)
	}
	s.actor = actor

	s.actorQ, err = network.CloneWithInputsTo(s.q1.net,
		[]*G.Node{actor.StateNode(), actor.Action()}, g)
	if err != nil {
		return fmt.Errorf("new: could not embed critic in actor "+
			"graph: %v", err)
	}

	alpha := G.NewConstant(c.Alpha)
	entropy := G.Must(G.Mean(actor.LogProb()))
	qValue := G.Must(G.Mean(s.actorQ.Prediction()))
	loss := G.Must(G.Sub(G.Must(G.Mul(alpha, entropy)), qValue))
	G.Read(loss, &s.actorLossVal)

	if _, err := G.Grad(loss, actor.Learnables()...); err != nil {
		return fmt.Errorf("new: could not compute actor gradient: %v",
			err)
	}
	s.actorVM = G.NewTapeMachine(g,
		G.BindDualValues(actor.Learnables()...))
	return nil
}

// OnFitStart is called once before the first training step
func (s *SAC) OnFitStart(d trainer.Driver) {
	s.driver = d
}

// OnFitEnd is called once after the last training step
func (s *SAC) OnFitEnd() {}

// OnTestStart is called once before the first test step
func (s *SAC) OnTestStart(d trainer.Driver) {
	s.driver = d
}

// OnTestEnd is called once after the last test step
func (s *SAC) OnTestEnd() {}

// ConfigureOptimizers returns the trainer's optimizers: one per critic
// in construction order, then the actor's, then the value network's
// when present, then the soft updaters of the bootstrap networks
func (s *SAC) ConfigureOptimizers() ([]*optimize.Optimizer, error) {
	if s.optimizers != nil {
		return s.optimizers, nil
	}

	var optimizers []*optimize.Optimizer
	var phases []phase

	add := func(o *optimize.Optimizer, p phase, err error) error {
		if err != nil {
			return err
		}
		optimizers = append(optimizers, o)
		phases = append(phases, p)
		return nil
	}

	opt, err := optimize.FromConfig(s.config.CriticSolver,
		s.q1.net.Model())
	if err := add(opt, phaseQ1, err); err != nil {
		return nil, fmt.Errorf("configureoptimizers: first critic: %v",
			err)
	}
	if s.q2 != nil {
		opt, err := optimize.FromConfig(s.config.CriticSolver,
			s.q2.net.Model())
		if err := add(opt, phaseQ2, err); err != nil {
			return nil, fmt.Errorf("configureoptimizers: second "+
				"critic: %v", err)
		}
	}

	opt, err = optimize.FromConfig(s.config.PolicySolver, s.actor.Model())
	if err := add(opt, phaseActor, err); err != nil {
		return nil, fmt.Errorf("configureoptimizers: actor: %v", err)
	}

	if s.value != nil {
		opt, err := optimize.FromConfig(s.config.CriticSolver,
			s.value.net.Model())
		if err := add(opt, phaseValue, err); err != nil {
			return nil, fmt.Errorf("configureoptimizers: value "+
				"network: %v", err)
		}

		soft, err := optimize.NewSoftUpdate(s.targetValue.net,
			s.value.net, s.config.Tau)
		if err := add(soft, phaseSoft, err); err != nil {
			return nil, fmt.Errorf("configureoptimizers: value soft "+
				"update: %v", err)
		}
	} else {
		soft, err := optimize.NewSoftUpdate(s.targetQ1.net, s.q1.net,
			s.config.Tau)
		if err := add(soft, phaseSoft, err); err != nil {
			return nil, fmt.Errorf("configureoptimizers: first critic "+
				"soft update: %v", err)
		}
		if s.q2 != nil {
			soft, err := optimize.NewSoftUpdate(s.targetQ2.net, s.q2.net,
				s.config.Tau)
			if err := add(soft, phaseSoft, err); err != nil {
				return nil, fmt.Errorf("configureoptimizers: second "+
					"critic soft update: %v", err)
			}
		}
	}

	s.optimizers = optimizers
	s.phases = phases
	return optimizers, nil
}

// NumOptimizers returns the number of optimizers the trainer holds
func (s *SAC) NumOptimizers() int {
	n := 2 // first critic and actor
	if s.config.TwinQ {
		n++ // second critic
	}
	if s.config.UseValueNetwork {
		n += 2 // value network and its soft update
	} else {
		n++ // first critic's soft update
		if s.config.TwinQ {
			n++ // second critic's soft update
		}
	}
	return n
}

// TrainingStep computes the losses and gradients of every network on
// the first optimization phase; later phases report their cached
// losses. The soft update phases report the first critic's loss.
func (s *SAC) TrainingStep(b *data.Batch, batchIdx,
	optimizerIdx int) (float64, error) {
	if optimizerIdx != 0 {
		return s.lastLosses[optimizerIdx], nil
	}

	if err := s.computeLosses(b); err != nil {
		return 0, fmt.Errorf("trainingstep: %v", err)
	}

	if s.driver != nil && s.driver.LogEveryNSteps() > 0 &&
		batchIdx%s.driver.LogEveryNSteps() == 0 {
		s.report(b)
	}

	return s.lastLosses[0], nil
}

// OptimizerStep applies the optimizer matching the last TrainingStep
// phase with the same index, then re-syncs the evaluation copy of the
// network it updated. The closure is ignored: no phase needs to re-run
// the training computation.
func (s *SAC) OptimizerStep(epoch, batchIdx int, opt *optimize.Optimizer,
	optimizerIdx int, closure func() error) error {
	if err := opt.Step(); err != nil {
		return fmt.Errorf("optimizerstep: could not step optimizer %v: %v",
			optimizerIdx, err)
	}
	if s.phases == nil {
		return fmt.Errorf("optimizerstep: optimizers not configured")
	}

	switch s.phases[optimizerIdx] {
	case phaseQ1:
		s.q1.vm.Reset()
		if err := s.q1Eval.net.Set(s.q1.net); err != nil {
			return fmt.Errorf("optimizerstep: could not sync first "+
				"critic copy: %v", err)
		}
		if err := s.actorQ.Set(s.q1.net); err != nil {
			return fmt.Errorf("optimizerstep: could not sync actor's "+
				"critic copy: %v", err)
		}

	case phaseQ2:
		s.q2.vm.Reset()
		if err := s.q2Eval.net.Set(s.q2.net); err != nil {
			return fmt.Errorf("optimizerstep: could not sync second "+
				"critic copy: %v", err)
		}

	case phaseActor:
		s.actorVM.Reset()
		if err := s.actorEval.actor.Set(s.actor); err != nil {
			return fmt.Errorf("optimizerstep: could not sync actor "+
				"copy: %v", err)
		}

	case phaseValue:
		s.value.vm.Reset()
	}
	return nil
}

// TrainingEpochEnd flushes the trainer's reporter for the completed
// epoch
func (s *SAC) TrainingEpochEnd() {
	if s.driver != nil {
		s.reporter.Flush(s.driver.CurrentEpoch())
	}
}

// ValidationStep computes the first critic's Bellman loss on a
// held-out batch without stepping any optimizer
func (s *SAC) ValidationStep(b *data.Batch, batchIdx int) (float64,
	error) {
	loss, err := s.criticLoss(b)
	if err != nil {
		return 0, fmt.Errorf("validationstep: %v", err)
	}
	return loss, nil
}

// ValidationEpochEnd is called after the last validation step of an
// epoch
func (s *SAC) ValidationEpochEnd() {}

// TestStep computes the first critic's Bellman loss on a test batch
// without stepping any optimizer
func (s *SAC) TestStep(b *data.Batch, batchIdx int) (float64, error) {
	loss, err := s.criticLoss(b)
	if err != nil {
		return 0, fmt.Errorf("teststep: %v", err)
	}
	return loss, nil
}

// TestEpochEnd is called after the last test step
func (s *SAC) TestEpochEnd() {}

// SetReporter injects the reporter the trainer logs to
func (s *SAC) SetReporter(r report.Reporter) error {
	s.reporter = r
	return nil
}

// computeLosses runs the target computation and every network's
// training graph on a batch, leaving gradients bound in each graph.
// OptimizerStep owns resetting the VMs.
func (s *SAC) computeLosses(b *data.Batch) error {
	states := b.State.Data().([]float64)
	actions := b.Action.Data().([]float64)

	qTargets, err := s.qTargets(b)
	if err != nil {
		return err
	}

	phaseIdx := 0
	loss, err := s.q1.run(states, actions, qTargets)
	if err != nil {
		return fmt.Errorf("first critic: %v", err)
	}
	s.lastLosses[phaseIdx] = loss
	phaseIdx++

	if s.q2 != nil {
		loss, err := s.q2.run(states, actions, qTargets)
		if err != nil {
			return fmt.Errorf("second critic: %v", err)
		}
		s.lastLosses[phaseIdx] = loss
		phaseIdx++
	}

	// Actor loss, differentiating through the embedded critic copy
	if err := s.actor.SetInput(states); err != nil {
		return fmt.Errorf("actor: %v", err)
	}
	if err := s.actor.SetNoise(s.sampleNoise()); err != nil {
		return fmt.Errorf("actor: %v", err)
	}
	if err := s.actorVM.RunAll(); err != nil {
		return fmt.Errorf("actor: %v", err)
	}
	s.lastLosses[phaseIdx] = s.actorLossVal.Data().(float64)
	phaseIdx++

	if s.value != nil {
		vTargets, err := s.valueTargets(b)
		if err != nil {
			return fmt.Errorf("value network: %v", err)
		}
		loss, err := s.value.run(states, nil, vTargets)
		if err != nil {
			return fmt.Errorf("value network: %v", err)
		}
		s.lastLosses[phaseIdx] = loss
		phaseIdx++
	}

	// Soft update phases report the first critic's loss
	for ; phaseIdx < len(s.lastLosses); phaseIdx++ {
		s.lastLosses[phaseIdx] = s.lastLosses[0]
	}
	return nil
}

// qTargets computes the soft Bellman target of each transition:
// r + gamma * notTerminal * bootstrap, where the bootstrap is the
// target value network's prediction when one exists and the
// entropy-adjusted minimum target critic value otherwise
func (s *SAC) qTargets(b *data.Batch) ([]float64, error) {
	rows := b.Size()
	nextStates := b.NextState.Data().([]float64)
	rewards := b.Reward.Data().([]float64)
	notTerminal := b.NotTerminal.Data().([]float64)

	var bootstrap []float64
	if s.targetValue != nil {
		values, err := s.targetValue.eval(nextStates)
		if err != nil {
			return nil, fmt.Errorf("could not evaluate target value "+
				"network: %v", err)
		}
		bootstrap = values
	} else {
		nextActions, nextLogProbs, err := s.actorEval.sample(nextStates,
			s.sampleNoise())
		if err != nil {
			return nil, fmt.Errorf("could not sample next actions: %v",
				err)
		}

		inputs := concat(nextStates, nextActions, s.config.Features,
			s.config.ActionDims, rows)
		bootstrap, err = s.minTargetQ(inputs)
		if err != nil {
			return nil, err
		}
		for i := range bootstrap {
			bootstrap[i] -= s.config.Alpha * nextLogProbs[i]
		}
	}

	targets := make([]float64, rows)
	for i := range targets {
		targets[i] = rewards[i] +
			s.config.Gamma*notTerminal[i]*bootstrap[i]
	}
	return targets, nil
}

// minTargetQ evaluates the target critics on the argument inputs and
// returns their element-wise minimum
func (s *SAC) minTargetQ(inputs []float64) ([]float64, error) {
	values, err := s.targetQ1.eval(inputs)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate first target "+
			"critic: %v", err)
	}
	if s.targetQ2 == nil {
		return values, nil
	}

	second, err := s.targetQ2.eval(inputs)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate second target "+
			"critic: %v", err)
	}
	for i := range values {
		if second[i] < values[i] {
			values[i] = second[i]
		}
	}
	return values, nil
}

// valueTargets computes the state-value regression target of each
// transition: the entropy-adjusted minimum online critic value of a
// freshly sampled action
func (s *SAC) valueTargets(b *data.Batch) ([]float64, error) {
	rows := b.Size()
	states := b.State.Data().([]float64)

	sampled, logProbs, err := s.actorEval.sample(states, s.sampleNoise())
	if err != nil {
		return nil, fmt.Errorf("could not sample actions: %v", err)
	}

	inputs := concat(states, sampled, s.config.Features,
		s.config.ActionDims, rows)
	values, err := s.q1Eval.eval(inputs)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate first critic "+
			"copy: %v", err)
	}
	if s.q2Eval != nil {
		second, err := s.q2Eval.eval(inputs)
		if err != nil {
			return nil, fmt.Errorf("could not evaluate second critic "+
				"copy: %v", err)
		}
		for i := range values {
			if second[i] < values[i] {
				values[i] = second[i]
			}
		}
	}

	for i := range values {
		values[i] -= s.config.Alpha * logProbs[i]
	}
	return values, nil
}

// criticLoss computes the first critic's Bellman loss on a batch and
// resets its VM, leaving no gradients bound
func (s *SAC) criticLoss(b *data.Batch) (float64, error) {
	targets, err := s.qTargets(b)
	if err != nil {
		return 0, err
	}

	loss, err := s.q1.run(b.State.Data().([]float64),
		b.Action.Data().([]float64), targets)
	if err != nil {
		return 0, fmt.Errorf("first critic: %v", err)
	}
	s.q1.vm.Reset()
	return loss, nil
}

// report emits a structured record of the last training step
func (s *SAC) report(b *data.Batch) {
	s.reporter.Log(report.Record{
		TDLoss:             s.lastLosses[0],
		LoggedPropensities: append([]float64(nil), b.ActionProbability.Data().([]float64)...),
		LoggedRewards:      append([]float64(nil), b.Reward.Data().([]float64)...),
		ModelValues:        append([]float64(nil), s.q1.net.Output().Data().([]float64)...),
	})
}

// sampleNoise returns a fresh (BatchSize, ActionDims) matrix of
// standard normal noise, flattened row-major
func (s *SAC) sampleNoise() []float64 {
	noise := make([]float64, s.config.BatchSize*s.config.ActionDims)
	for i := range noise {
		noise[i] = s.noise.Rand()
	}
	return noise
}

// concat returns the row-wise concatenation [states | actions],
// flattened row-major, for feeding evaluation copies of the critics
func concat(states, actions []float64, features, actionDims,
	rows int) []float64 {
	width := features + actionDims
	out := make([]float64, rows*width)
	for i := 0; i < rows; i++ {
		copy(out[i*width:], states[i*features:(i+1)*features])
		copy(out[i*width+features:], actions[i*actionDims:(i+1)*actionDims])
	}
	return out
}
