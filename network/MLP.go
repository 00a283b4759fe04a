package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// mlp implements a multi-layered perceptron with a configurable
// number of output units. It is the workhorse network behind value
// networks, parametric Q networks, and the trunks of the
// distributional and actor networks.
type mlp struct {
	g      *G.ExprGraph
	layers []Layer

	// inputs are the placeholder nodes the network reads from. When
	// more than one input exists, inputs are concatenated along the
	// feature dimension before the first layer.
	inputs []*G.Node
	input  *G.Node // concatenation of inputs

	numOutputs int
	numInputs  int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation
	init        G.InitWFn

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMLP creates and returns a new multi-layered perceptron with
// outputs output units, adding its nodes to the graph g. A final
// linear layer with a bias unit and no activation is always appended
// so that the network predicts exactly outputs values.
//
// For index i, hiddenSizes[i] is the number of units in hidden layer
// i, biases[i] is whether hidden layer i has a bias unit, and
// activations[i] is the activation of hidden layer i. The init
// parameter determines the weight initialization scheme.
func NewMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	return NewMLPFromInputs([]*G.Node{input}, outputs, g, hiddenSizes,
		biases, init, activations, "")
}

// NewMLPFromInputs creates a new multi-layered perceptron whose input
// is the concatenation, along the feature dimension, of the argument
// input nodes. This is how parametric Q networks consume a state node
// and an action node in a single graph.
func NewMLPFromInputs(inputs []*G.Node, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string) (NeuralNet, error) {

	// Ensure one activation and one bias flag per hidden layer
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newmlp: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("newmlp: invalid number of biases"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(biases))
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("newmlp: no input nodes")
	}

	var input *G.Node
	if len(inputs) > 1 {
		input = G.Must(G.Concat(1, inputs...))
	} else {
		input = inputs[0]
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("newmlp: input must be a matrix")
	}

	batch := input.Shape()[0]
	features := input.Shape()[1]

	// Final linear layer predicting the output heads
	sizes := append(append([]int{}, hiddenSizes...), outputs)
	layerBiases := append(append([]bool{}, biases...), true)
	layerActivations := append(append([]*Activation{}, activations...),
		Identity())

	layers := addfcLayers(g, sizes, layerBiases, layerActivations, init,
		features, prefix)

	net := &mlp{
		g:           g,
		layers:      layers,
		inputs:      inputs,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: sizes,
		biases:      layerBiases,
		activations: layerActivations,
		init:        init,
	}
	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newmlp: could not compute forward "+
			"pass: %v", err)
	}

	return net, nil
}

// CloneWithInputsTo clones a network into the argument graph, wiring
// its forward pass to the argument input nodes. An actor-critic
// trainer uses this to embed a copy of a critic in its actor's graph,
// reading the actor's sampled action node, so that the actor loss can
// differentiate through the critic's value.
//
// Only networks with an MLP trunk support this; anything else errors.
func CloneWithInputsTo(net NeuralNet, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	m, ok := net.(*mlp)
	if !ok {
		return nil, fmt.Errorf("clonewithinputsto: cannot clone a %T "+
			"to new inputs", net)
	}
	return m.cloneWithInputTo(inputs, graph)
}

// Graph returns the computational graph of the network
func (m *mlp) Graph() *G.ExprGraph {
	return m.g
}

// Clone clones the network into a fresh graph
func (m *mlp) Clone() (NeuralNet, error) {
	return m.CloneWithBatch(m.batchSize)
}

// CloneWithBatch clones the network into a fresh graph with a new
// input batch size. Weight values are preserved.
func (m *mlp) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, m.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	return m.cloneWithInputTo([]*G.Node{input}, graph)
}

// cloneWithInputTo clones the network to a specific computational
// graph with specified input nodes
func (m *mlp) cloneWithInputTo(inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	for _, input := range inputs {
		if input.Graph() != graph {
			return nil, fmt.Errorf("clonewithinputto: not all inputs " +
				"have the same graph")
		}
	}

	var input *G.Node
	if len(inputs) > 1 {
		input = G.Must(G.Concat(1, inputs...))
	} else {
		input = inputs[0]
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputto: input must be a " +
			"matrix node")
	}

	layers := make([]Layer, len(m.layers))
	for i := range m.layers {
		layers[i] = m.layers[i].CloneTo(graph)
	}

	net := &mlp{
		g:           graph,
		layers:      layers,
		inputs:      inputs,
		input:       input,
		numOutputs:  m.numOutputs,
		numInputs:   m.numInputs,
		batchSize:   input.Shape()[0],
		hiddenSizes: m.hiddenSizes,
		biases:      m.biases,
		activations: m.activations,
		init:        m.init,
	}
	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not compute "+
			"forward pass: %v", err)
	}

	return net, nil
}

// BatchSize returns the batch size of inputs to the network
func (m *mlp) BatchSize() int {
	return m.batchSize
}

// Features returns the number of features in a single input vector
func (m *mlp) Features() int {
	return m.numInputs
}

// Outputs returns the number of outputs from the network
func (m *mlp) Outputs() int {
	return m.numOutputs
}

// SetInput sets the value of the network's first input node
func (m *mlp) SetInput(input []float64) error {
	features := m.inputs[0].Shape()[1]
	if len(input) != features*m.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", features*m.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(m.inputs[0].Shape()...),
	)
	return G.Let(m.inputs[0], inputTensor)
}

// Set sets the weights of the network to be equal to the weights of
// another network of identical architecture
func (dest *mlp) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of the network to be a polyak average
// between its existing weights and the weights of the source network
func (dest *mlp) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		newWeights, err := weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes of the network
func (m *mlp) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(m.layers))
		for i := range m.layers {
			learnables = append(learnables, m.layers[i].Weights())
			if bias := m.layers[i].Bias(); bias != nil {
				learnables = append(learnables, bias)
			}
		}
		m.learnables = G.Nodes(learnables)
	}
	return m.learnables
}

// Model returns the learnable nodes with their gradients
func (m *mlp) Model() []G.ValueGrad {
	// Lazy instantiation
	if m.model == nil {
		model := make([]G.ValueGrad, 0, len(m.Learnables()))
		for _, node := range m.Learnables() {
			model = append(model, node)
		}
		m.model = model
	}
	return m.model
}

// fwd adds the forward pass of the network to its graph
func (m *mlp) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, layer := range m.layers {
		if pred, err = layer.fwd(pred); err != nil {
			return nil, fmt.Errorf("fwd: could not compute forward "+
				"pass of layer %v: %v", i, err)
		}
	}

	m.prediction = pred
	G.Read(m.prediction, &m.predVal)

	return pred, nil
}

// Output returns the output of the network after its graph has run
func (m *mlp) Output() G.Value {
	return m.predVal
}

// Prediction returns the node holding the network's output
func (m *mlp) Prediction() *G.Node {
	return m.prediction
}
