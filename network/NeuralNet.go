// Package network implements the neural networks consumed by trainers
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is the boundary contract between trainers and network
// modules. Trainers never look inside a network: they set inputs, run
// the network's graph through a VM, read predictions, and hand the
// network's model to an optimizer.
type NeuralNet interface {
	// Graph returns the computational graph the network was built in
	Graph() *G.ExprGraph

	// Clone clones the network into a fresh graph, preserving the
	// current weight values
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network into a fresh graph with a new
	// input batch size
	CloneWithBatch(int) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the network's input node. The input
	// is a flattened (BatchSize, Features) matrix in row-major order.
	SetInput([]float64) error

	// Set copies the weight values of another network of identical
	// architecture into the receiver
	Set(NeuralNet) error

	// Polyak sets the receiver's weights to an exponential moving
	// average between its weights and those of the source network
	Polyak(NeuralNet, float64) error

	// Learnables returns the nodes holding the learnable weights
	Learnables() G.Nodes

	// Model returns the learnable nodes paired with their gradients,
	// in the form a Gorgonia solver steps on
	Model() []G.ValueGrad

	// Prediction returns the node holding the network's output
	Prediction() *G.Node

	// Output returns the value of the prediction node after the
	// network's graph has been run
	Output() G.Value
}
