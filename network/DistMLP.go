package network

import (
	"fmt"

	"github.com/samuelfneumann/gorl/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DistQNet is a value network that predicts, for every action, a
// categorical distribution over a fixed support of returns rather
// than a scalar value.
type DistQNet interface {
	NeuralNet
	NumActions() int
	NumAtoms() int

	// LogDist returns the node holding the log-probabilities over the
	// support. The node has shape (BatchSize*NumActions, NumAtoms):
	// row a + i*NumActions holds the distribution of action a in the
	// i'th state of the batch.
	LogDist() *G.Node

	// LogDistVal returns the value of the LogDist node after the
	// network's graph has been run
	LogDistVal() G.Value
}

// distMLP implements a DistQNet as an MLP trunk predicting
// NumActions*NumAtoms logits followed by a log-softmax over the atom
// dimension of each action head.
type distMLP struct {
	NeuralNet
	numActions int
	numAtoms   int

	logDist    *G.Node
	logDistVal G.Value
}

// NewDistMLP creates and returns a new distributional Q network over
// numActions actions, each predicting a categorical distribution with
// numAtoms atoms. The architecture parameters describe the MLP trunk
// and follow the conventions of NewMLP.
func NewDistMLP(features, batch, numActions, numAtoms int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (DistQNet, error) {

	if numAtoms < 2 {
		return nil, fmt.Errorf("newdistmlp: need at least 2 atoms but "+
			"got %v", numAtoms)
	}

	trunk, err := NewMLP(features, batch, numActions*numAtoms, g,
		hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newdistmlp: could not create trunk: %v",
			err)
	}

	return newDistHead(trunk, numActions, numAtoms)
}

// newDistHead adds the log-softmax head to the trunk's graph
func newDistHead(trunk NeuralNet, numActions, numAtoms int) (DistQNet,
	error) {
	logits := trunk.Prediction() // (B, A*N)

	perAction, err := G.Reshape(logits,
		tensor.Shape{trunk.BatchSize() * numActions, numAtoms})
	if err != nil {
		return nil, fmt.Errorf("newdisthead: could not reshape logits: %v",
			err)
	}

	// Log-softmax over the atom dimension of each action head
	lse := op.LogSumExp(perAction, 1)
	logDist := G.Must(G.BroadcastSub(perAction, lse, nil, []byte{1}))

	net := &distMLP{
		NeuralNet:  trunk,
		numActions: numActions,
		numAtoms:   numAtoms,
		logDist:    logDist,
	}
	G.Read(net.logDist, &net.logDistVal)

	return net, nil
}

// Clone clones the network into a fresh graph
func (d *distMLP) Clone() (NeuralNet, error) {
	return d.CloneWithBatch(d.BatchSize())
}

// CloneWithBatch clones the network into a fresh graph with a new
// input batch size, rebuilding the log-softmax head on the cloned
// trunk
func (d *distMLP) CloneWithBatch(batch int) (NeuralNet, error) {
	trunk, err := d.NeuralNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone "+
			"trunk: %v", err)
	}
	return newDistHead(trunk, d.numActions, d.numAtoms)
}

// NumActions returns the number of action heads of the network
func (d *distMLP) NumActions() int {
	return d.numActions
}

// NumAtoms returns the number of atoms in each head's distribution
func (d *distMLP) NumAtoms() int {
	return d.numAtoms
}

// LogDist returns the node holding the log-probabilities
func (d *distMLP) LogDist() *G.Node {
	return d.logDist
}

// LogDistVal returns the log-probabilities after the graph has run
func (d *distMLP) LogDistVal() G.Value {
	return d.logDistVal
}
