// Package op provides extended Gorgonia graph operations.
//
// Adapted from aunum/G.ld on GitHub
package op

import (
	"math"

	"github.com/samuelfneumann/gorl/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{byte(along)}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// Prod calculates the product of a Node along an axis
func Prod(input *G.Node, along int) *G.Node {
	shape := input.Shape()

	// Calculate the first columns along the axis along
	dims := make([]tensor.Slice, len(shape))
	for i := 0; i < len(shape); i++ {
		if i == along {
			dims[i] = tensorutils.NewSlice(0, 1, 1)
		}
	}
	prod := G.Must(G.Slice(input, dims...))

	for i := 1; i < input.Shape()[along]; i++ {
		// Calculate the column that should be multiplied next
		for j := 0; j < len(shape); j++ {
			if j == along {
				dims[j] = tensorutils.NewSlice(i, i+1, 1)
			}
		}

		s := G.Must(G.Slice(input, dims...))
		prod = G.Must(G.HadamardProd(prod, s))
	}
	return prod
}

// GaussianLogPdf calculates the log of the probability density
// function of actions drawn from a diagonal Gaussian distribution
// with mean mean and standard deviation std.
//
// All arguments should be two-dimensional and of the same size m x n.
// The rows (m) denote the samples in the batch. For the mean and std,
// the columns (n) denote the main diagonal of the mean or standard
// deviation respectively of the diagonal Gaussian. For the actions
// parameter, the columns denote each dimension of the actions.
func GaussianLogPdf(mean, std, actions *G.Node) *G.Node {
	graph := mean.Graph()
	if graph != std.Graph() || graph != actions.Graph() {
		panic("gaussianLogPdf: all nodes must share the same graph")
	}

	negativeHalf := G.NewConstant(-0.5)

	if std.Shape()[1] != 1 {
		// Multi-dimensional actions
		variance := G.Must(G.Square(std))
		dims := float64(mean.Shape()[1])
		term1 := G.NewConstant((-dims / 2.0) * math.Log(2*math.Pi))

		det := Prod(variance, 1)
		term2 := G.Must(G.Log(det))
		term2 = G.Must(G.HadamardProd(term2, negativeHalf))

		// Calculate (-1/2) * (A - μ)^T σ^(-1) (A - μ). Since
		// everything is stored as a vector, this boils down to a
		// bunch of Hadamard products, sums, and differences.
		diff := G.Must(G.Sub(actions, mean))
		exponent := G.Must(G.HadamardDiv(diff, variance))
		exponent = G.Must(G.HadamardProd(exponent, diff))
		exponent = G.Must(G.Sum(exponent, 1))
		exponent = G.Must(G.HadamardProd(exponent, negativeHalf))

		terms := G.Must(G.Add(term1, term2))
		logProb := G.Must(G.Add(exponent, terms))

		return logProb
	}

	// Single-dimensional actions allow cutting a few corners
	two := G.NewConstant(2.0)
	exponent := G.Must(G.Sub(actions, mean))
	exponent = G.Must(G.HadamardDiv(exponent, std))
	exponent = G.Must(G.Pow(exponent, two))
	exponent = G.Must(G.HadamardProd(negativeHalf, exponent))

	term2 := G.Must(G.Log(std))
	term3 := G.NewConstant(math.Log(math.Pow(2*math.Pi, 0.5)))

	terms := G.Must(G.Add(term2, term3))
	logProb := G.Must(G.Sub(exponent, terms))
	logProb = G.Must(G.Ravel(logProb))

	return logProb
}
