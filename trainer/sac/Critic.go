package sac

import (
	"fmt"

	"github.com/samuelfneumann/gorl/network"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// critic is a network regressing onto numeric targets: its graph holds
// the network's forward pass, a target placeholder, the mean squared
// error between them, and the error's gradient
type critic struct {
	net network.NeuralNet

	state  *G.Node
	action *G.Node // nil for state-value critics
	target *G.Node

	vm      G.VM
	lossVal G.Value
}

// newQCritic returns a critic predicting the value of a state-action
// pair
func newQCritic(c Config) (*critic, error) {
	g := G.NewGraph()
	state := G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, c.Features), G.WithName("state"),
		G.WithInit(G.Zeroes()))
	action := G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, c.ActionDims), G.WithName("action"),
		G.WithInit(G.Zeroes()))

	net, err := network.NewMLPFromInputs([]*G.Node{state, action}, 1, g,
		c.CriticLayers, c.CriticBiases, c.InitWFn.InitWFn(),
		c.CriticActivations, "critic")
	if err != nil {
		return nil, err
	}

	return newCritic(net, state, action, c.BatchSize)
}

// newValueCritic returns a critic predicting the value of a state
func newValueCritic(c Config) (*critic, error) {
	g := G.NewGraph()
	state := G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, c.Features), G.WithName("state"),
		G.WithInit(G.Zeroes()))

	net, err := network.NewMLPFromInputs([]*G.Node{state}, 1, g,
		c.CriticLayers, c.CriticBiases, c.InitWFn.InitWFn(),
		c.CriticActivations, "value")
	if err != nil {
		return nil, err
	}

	return newCritic(net, state, nil, c.BatchSize)
}

// newCritic adds the regression loss and gradient to the network's
// graph
func newCritic(net network.NeuralNet, state, action *G.Node,
	batch int) (*critic, error) {
	g := net.Graph()

	target := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1),
		G.WithName("target"), G.WithInit(G.Zeroes()))
	diff := G.Must(G.Sub(net.Prediction(), target))
	loss := G.Must(G.Mean(G.Must(G.Square(diff))))

	c := &critic{
		net:    net,
		state:  state,
		action: action,
		target: target,
	}
	G.Read(loss, &c.lossVal)

	if _, err := G.Grad(loss, net.Learnables()...); err != nil {
		return nil, fmt.Errorf("newcritic: could not compute "+
			"gradient: %v", err)
	}
	c.vm = G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))

	return c, nil
}

// run feeds the critic's placeholders and runs its graph, leaving
// gradients bound, and returns the loss. The caller owns resetting the
// VM. The actions argument is ignored by state-value critics.
func (c *critic) run(states, actions, targets []float64) (float64,
	error) {
	if err := G.Let(c.state, tensor.New(
		tensor.WithBacking(states),
		tensor.WithShape(c.state.Shape()...),
	)); err != nil {
		return 0, fmt.Errorf("run: could not set states: %v", err)
	}

	if c.action != nil {
		if err := G.Let(c.action, tensor.New(
			tensor.WithBacking(actions),
			tensor.WithShape(c.action.Shape()...),
		)); err != nil {
			return 0, fmt.Errorf("run: could not set actions: %v", err)
		}
	}

	if err := G.Let(c.target, tensor.New(
		tensor.WithBacking(targets),
		tensor.WithShape(c.target.Shape()...),
	)); err != nil {
		return 0, fmt.Errorf("run: could not set targets: %v", err)
	}

	if err := c.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("run: could not run graph: %v", err)
	}
	return c.lossVal.Data().(float64), nil
}

// evalNet is a gradient-free clone of a network that evaluates it on
// numeric inputs. A clone of a multi-input network reads its inputs
// concatenated along the feature dimension.
type evalNet struct {
	net network.NeuralNet
	vm  G.VM
}

// newEvalNet clones the source network into a fresh evaluation copy
// with the source's current weights
func newEvalNet(source network.NeuralNet) (*evalNet, error) {
	clone, err := source.Clone()
	if err != nil {
		return nil, err
	}
	return &evalNet{
		net: clone,
		vm:  G.NewTapeMachine(clone.Graph()),
	}, nil
}

// eval runs the network on the argument inputs and returns a copy of
// its outputs
func (e *evalNet) eval(inputs []float64) ([]float64, error) {
	if err := e.net.SetInput(inputs); err != nil {
		return nil, err
	}
	if err := e.vm.RunAll(); err != nil {
		return nil, err
	}
	out := append([]float64(nil),
		e.net.Output().Data().([]float64)...)
	e.vm.Reset()
	return out, nil
}

// actorSampler is a gradient-free copy of the actor that samples
// actions and their log-densities on numeric inputs
type actorSampler struct {
	actor network.GaussianActor
	vm    G.VM
}

func newActorSampler(actor network.GaussianActor) *actorSampler {
	return &actorSampler{
		actor: actor,
		vm:    G.NewTapeMachine(actor.Graph()),
	}
}

// sample runs the actor on the argument states and noise and returns
// copies of the sampled actions and their log-densities
func (a *actorSampler) sample(states, noise []float64) ([]float64,
	[]float64, error) {
	if err := a.actor.SetInput(states); err != nil {
		return nil, nil, err
	}
	if err := a.actor.SetNoise(noise); err != nil {
		return nil, nil, err
	}
	if err := a.vm.RunAll(); err != nil {
		return nil, nil, err
	}

	actions := append([]float64(nil),
		a.actor.ActionVal().Data().([]float64)...)
	logProbs := append([]float64(nil),
		a.actor.LogProbVal().Data().([]float64)...)
	a.vm.Reset()

	return actions, logProbs, nil
}
