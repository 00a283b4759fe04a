package network

import (
	"fmt"

	"github.com/samuelfneumann/gorl/utils/op"
	"github.com/samuelfneumann/gorl/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// For stability, the standard deviation of the Gaussian distribution
// should be offset from 0.
const stdOffset float64 = 1e-3

// GaussianActor is an actor network parameterizing a diagonal
// Gaussian policy over continuous actions. Actions are selected with
// the reparameterization trick: the caller feeds standard normal
// noise ɛ through SetNoise, and the network computes
// action := μ + σ ⊙ ɛ in-graph so that gradients flow through the
// sampled action.
type GaussianActor interface {
	NeuralNet
	ActionDims() int

	// StateNode returns the placeholder node holding the input states
	StateNode() *G.Node

	// SetNoise sets the standard normal noise used to sample actions.
	// The noise is a flattened (BatchSize, ActionDims) matrix.
	SetNoise([]float64) error

	// Action returns the node holding the sampled actions (B, A)
	Action() *G.Node
	ActionVal() G.Value

	// LogProb returns the node holding the log-density of the sampled
	// actions under the policy (B,)
	LogProb() *G.Node
	LogProbVal() G.Value
}

// gaussianMLP implements a GaussianActor as an MLP trunk predicting
// the mean and log standard deviation of each action dimension
type gaussianMLP struct {
	NeuralNet
	actionDims int

	state *G.Node
	noise *G.Node

	action    *G.Node
	actionVal G.Value

	logProb    *G.Node
	logProbVal G.Value

	meanVal   G.Value
	stddevVal G.Value
}

// NewGaussianActor creates and returns a new Gaussian actor over
// actionDims continuous action dimensions. The architecture
// parameters describe the MLP trunk and follow the conventions of
// NewMLP; the trunk predicts 2*actionDims values per state, the first
// actionDims being the mean and the rest the log standard deviation.
func NewGaussianActor(features, batch, actionDims int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (GaussianActor, error) {

	if actionDims < 1 {
		return nil, fmt.Errorf("newgaussianactor: need at least 1 "+
			"action dimension but got %v", actionDims)
	}

	state := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("state"), G.WithInit(G.Zeroes()))

	trunk, err := NewMLPFromInputs([]*G.Node{state}, 2*actionDims, g,
		hiddenSizes, biases, init, activations, "actor")
	if err != nil {
		return nil, fmt.Errorf("newgaussianactor: could not create "+
			"trunk: %v", err)
	}

	return newGaussianHead(trunk, state, actionDims)
}

// newGaussianHead adds the sampling and log-density nodes to the
// trunk's graph
func newGaussianHead(trunk NeuralNet, state *G.Node,
	actionDims int) (GaussianActor, error) {
	g := trunk.Graph()
	batch := trunk.BatchSize()
	pred := trunk.Prediction() // (B, 2A)

	mean := G.Must(G.Slice(pred, nil,
		tensorutils.NewSlice(0, actionDims, 1)))
	logStd := G.Must(G.Slice(pred, nil,
		tensorutils.NewSlice(actionDims, 2*actionDims, 1)))

	// Offset the standard deviation for numerical stability
	offset := G.NewConstant(stdOffset)
	std := G.Must(G.Exp(logStd))
	std = G.Must(G.Add(offset, std))

	noise := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, actionDims), G.WithName("noise"),
		G.WithInit(G.Zeroes()))

	action := G.Must(G.HadamardProd(std, noise))
	action = G.Must(G.Add(mean, action))

	logProb := op.GaussianLogPdf(mean, std, action)

	actor := &gaussianMLP{
		NeuralNet:  trunk,
		actionDims: actionDims,
		state:      state,
		noise:      noise,
		action:     action,
		logProb:    logProb,
	}
	G.Read(mean, &actor.meanVal)
	G.Read(std, &actor.stddevVal)
	G.Read(actor.action, &actor.actionVal)
	G.Read(actor.logProb, &actor.logProbVal)

	return actor, nil
}

// Clone clones the actor into a fresh graph
func (a *gaussianMLP) Clone() (NeuralNet, error) {
	return a.CloneWithBatch(a.BatchSize())
}

// CloneWithBatch clones the actor into a fresh graph with a new input
// batch size, rebuilding the sampling head on the cloned trunk
func (a *gaussianMLP) CloneWithBatch(batch int) (NeuralNet, error) {
	graph := G.NewGraph()

	state := G.NewMatrix(graph, tensor.Float64,
		G.WithShape(batch, a.Features()), G.WithName("state"),
		G.WithInit(G.Zeroes()))

	trunk, err := a.NeuralNet.(*mlp).cloneWithInputTo([]*G.Node{state},
		graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone "+
			"trunk: %v", err)
	}
	return newGaussianHead(trunk, state, a.actionDims)
}

// ActionDims returns the number of action dimensions
func (a *gaussianMLP) ActionDims() int {
	return a.actionDims
}

// StateNode returns the placeholder node holding the input states
func (a *gaussianMLP) StateNode() *G.Node {
	return a.state
}

// SetInput sets the value of the actor's state node
func (a *gaussianMLP) SetInput(input []float64) error {
	if len(input) != a.Features()*a.BatchSize() {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", a.Features()*a.BatchSize(),
			len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(a.state.Shape()...),
	)
	return G.Let(a.state, inputTensor)
}

// SetNoise sets the standard normal noise used to sample actions
func (a *gaussianMLP) SetNoise(noise []float64) error {
	if len(noise) != a.actionDims*a.BatchSize() {
		return fmt.Errorf("setnoise: invalid number of noise values"+
			"\n\twant(%v)\n\thave(%v)", a.actionDims*a.BatchSize(),
			len(noise))
	}
	noiseTensor := tensor.New(
		tensor.WithBacking(noise),
		tensor.WithShape(a.noise.Shape()...),
	)
	return G.Let(a.noise, noiseTensor)
}

// Action returns the node holding the sampled actions
func (a *gaussianMLP) Action() *G.Node {
	return a.action
}

// ActionVal returns the sampled actions after the graph has run
func (a *gaussianMLP) ActionVal() G.Value {
	return a.actionVal
}

// LogProb returns the node holding the log-density of the sampled
// actions
func (a *gaussianMLP) LogProb() *G.Node {
	return a.logProb
}

// LogProbVal returns the log-densities after the graph has run
func (a *gaussianMLP) LogProbVal() G.Value {
	return a.logProbVal
}
