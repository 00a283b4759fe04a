// Package c51 implements the C51 categorical DQN trainer.
//
// See https://arxiv.org/abs/1707.06887 for details.
package c51

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gorl/utils/floatutils"
	"gorgonia.org/tensor"
)

// Support is the fixed discrete support of returns that categorical
// value distributions are defined over: NumAtoms evenly spaced values
// spanning [QMin, QMax]. A Support is immutable once constructed.
type Support struct {
	atoms []float64
	qmin  float64
	qmax  float64
	scale float64
}

// NewSupport returns a new Support of numAtoms evenly spaced atoms
// spanning [qmin, qmax]
func NewSupport(qmin, qmax float64, numAtoms int) (*Support, error) {
	if numAtoms < 2 {
		return nil, fmt.Errorf("newsupport: need at least 2 atoms but "+
			"got %v", numAtoms)
	}
	if qmax <= qmin {
		return nil, fmt.Errorf("newsupport: qmax must exceed qmin "+
			"\n\tqmin(%v)\n\tqmax(%v)", qmin, qmax)
	}

	scale := (qmax - qmin) / float64(numAtoms-1)
	atoms := make([]float64, numAtoms)
	for i := range atoms {
		atoms[i] = qmin + float64(i)*scale
	}

	return &Support{
		atoms: atoms,
		qmin:  qmin,
		qmax:  qmax,
		scale: scale,
	}, nil
}

// NumAtoms returns the number of atoms in the Support
func (s *Support) NumAtoms() int {
	return len(s.atoms)
}

// Atoms returns the atom values of the Support. The returned slice
// must not be modified.
func (s *Support) Atoms() []float64 {
	return s.atoms
}

// Scale returns the spacing between adjacent atoms
func (s *Support) Scale() float64 {
	return s.scale
}

// QMin returns the smallest atom of the Support
func (s *Support) QMin() float64 {
	return s.qmin
}

// QMax returns the largest atom of the Support
func (s *Support) QMax() float64 {
	return s.qmax
}

// ExpectedValue returns the expectation of a single categorical
// distribution dist over the Support
func (s *Support) ExpectedValue(dist []float64) float64 {
	value := 0.0
	for i, p := range dist {
		value += p * s.atoms[i]
	}
	return value
}

// Project computes the categorical-Bellman-update projection of the
// next-state distributions onto the Support.
//
// For each row i of nextDist, the atoms are shifted to
// rewards[i] + discounts[i] * notTerminal[i] * z and clamped to
// [QMin, QMax], then each shifted atom's mass is split between the
// two grid points bracketing it by linear interpolation. The argument
// nextDist is a (B, NumAtoms) matrix whose rows sum to 1; the result
// has the same shape and also sums to 1 per row.
//
// Shifted atoms landing exactly on a grid point would bracket
// themselves, splitting their mass between two equal indices and
// accumulating it twice. The two index corrections below avoid this;
// their order is load-bearing. The first rule pushes the lower index
// down whenever possible, so that after it runs the only remaining
// coincidence is at the lower boundary, which the second rule
// resolves by pushing the upper index up.
func (s *Support) Project(rewards, discounts, notTerminal []float64,
	nextDist *tensor.Dense) (*tensor.Dense, error) {
	numAtoms := len(s.atoms)
	rows := nextDist.Shape()[0]
	if nextDist.Shape()[1] != numAtoms {
		return nil, fmt.Errorf("project: distribution has %v atoms but "+
			"support has %v", nextDist.Shape()[1], numAtoms)
	}
	if len(rewards) != rows || len(discounts) != rows ||
		len(notTerminal) != rows {
		return nil, fmt.Errorf("project: per-row inputs must have %v "+
			"rows", rows)
	}

	src := nextDist.Data().([]float64)
	projected := make([]float64, rows*numAtoms)

	for i := 0; i < rows; i++ {
		for j := 0; j < numAtoms; j++ {
			// Bellman-shifted atom, clamped to the support's range
			tz := rewards[i] + discounts[i]*notTerminal[i]*s.atoms[j]
			tz = floatutils.Clip(tz, s.qmin, s.qmax)

			// Fractional index of the shifted atom on the grid
			b := (tz - s.qmin) / s.scale
			lo := int(math.Floor(b))
			up := int(math.Ceil(b))

			// Index corrections for atoms landing exactly on a grid
			// point; see the doc comment for why the order matters
			if lo == up && up > 0 {
				lo--
			}
			if lo == up && lo < numAtoms-1 {
				up++
			}

			// Accumulate rather than overwrite: several source atoms
			// can map to the same target index
			p := src[i*numAtoms+j]
			projected[i*numAtoms+lo] += p * (float64(up) - b)
			projected[i*numAtoms+up] += p * (b - float64(lo))
		}
	}

	return tensor.NewDense(
		tensor.Float64,
		[]int{rows, numAtoms},
		tensor.WithBacking(projected),
	), nil
}
