package c51

import (
	"math"
	"testing"

	"gorgonia.org/tensor"
)

const tolerance float64 = 1e-12

// TestSupportAtoms ensures the atom grid spans [QMin, QMax] with even
// spacing
func TestSupportAtoms(t *testing.T) {
	support, err := NewSupport(-10, 10, 5)
	if err != nil {
		t.Fatalf("could not create support: %v", err)
	}

	expected := []float64{-10, -5, 0, 5, 10}
	atoms := support.Atoms()
	if len(atoms) != len(expected) {
		t.Fatalf("got %v atoms; expected %v", len(atoms), len(expected))
	}
	for i := range expected {
		if math.Abs(atoms[i]-expected[i]) > tolerance {
			t.Errorf("atom %v: got %v; expected %v", i, atoms[i],
				expected[i])
		}
	}
	if support.Scale() != 5 {
		t.Errorf("got scale %v; expected 5", support.Scale())
	}
}

func TestSupportInvalid(t *testing.T) {
	if _, err := NewSupport(-10, 10, 1); err == nil {
		t.Error("expected error for a single atom")
	}
	if _, err := NewSupport(10, 10, 5); err == nil {
		t.Error("expected error for qmax == qmin")
	}
	if _, err := NewSupport(10, -10, 5); err == nil {
		t.Error("expected error for qmax < qmin")
	}
}

// TestProjectConservesMass ensures every projected row still sums to 1
// when the source rows do, including rows whose shifted atoms clip at
// the support's boundary
func TestProjectConservesMass(t *testing.T) {
	support, err := NewSupport(-10, 10, 11)
	if err != nil {
		t.Fatalf("could not create support: %v", err)
	}

	nextDist := tensor.NewDense(
		tensor.Float64,
		[]int{3, 11},
		tensor.WithBacking([]float64{
			0.5, 0.5, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0.1, 0.2, 0.3, 0.2, 0.1, 0.1,
			0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
		}),
	)

	// The third row's reward pushes every shifted atom past QMax
	rewards := []float64{1.3, -2.7, 50}
	discounts := []float64{0.9, 0.9, 0.9}
	notTerminal := []float64{1, 1, 1}

	projected, err := support.Project(rewards, discounts, notTerminal,
		nextDist)
	if err != nil {
		t.Fatalf("could not project: %v", err)
	}

	data := projected.Data().([]float64)
	for i := 0; i < 3; i++ {
		sum := 0.0
		for j := 0; j < 11; j++ {
			sum += data[i*11+j]
		}
		if math.Abs(sum-1.0) > tolerance {
			t.Errorf("row %v: projected mass sums to %v; expected 1", i,
				sum)
		}
	}

	// The clipped row's mass should all sit on the last atom
	for j := 0; j < 10; j++ {
		if data[2*11+j] != 0 {
			t.Errorf("clipped row: atom %v has mass %v; expected 0", j,
				data[2*11+j])
		}
	}
	if math.Abs(data[2*11+10]-1.0) > tolerance {
		t.Errorf("clipped row: last atom has mass %v; expected 1",
			data[2*11+10])
	}
}

// TestProjectExactGridPoint ensures a shifted atom landing exactly on
// a grid point keeps its full mass on that point rather than doubling
// it through a degenerate interpolation
func TestProjectExactGridPoint(t *testing.T) {
	support, err := NewSupport(0, 10, 11)
	if err != nil {
		t.Fatalf("could not create support: %v", err)
	}

	// All mass on atom 4 (value 4); reward 3 with discount 1 shifts it
	// exactly onto atom 7
	backing := make([]float64, 11)
	backing[4] = 1.0
	nextDist := tensor.NewDense(tensor.Float64, []int{1, 11},
		tensor.WithBacking(backing))

	projected, err := support.Project([]float64{3}, []float64{1},
		[]float64{1}, nextDist)
	if err != nil {
		t.Fatalf("could not project: %v", err)
	}

	data := projected.Data().([]float64)
	for j := 0; j < 11; j++ {
		expected := 0.0
		if j == 7 {
			expected = 1.0
		}
		if math.Abs(data[j]-expected) > tolerance {
			t.Errorf("atom %v: got mass %v; expected %v", j, data[j],
				expected)
		}
	}
}

// TestProjectBoundaryGridPoints covers the exact-grid-point case at
// both ends of the support, where only one of the two index
// corrections can fire
func TestProjectBoundaryGridPoints(t *testing.T) {
	support, err := NewSupport(0, 10, 11)
	if err != nil {
		t.Fatalf("could not create support: %v", err)
	}

	backing := []float64{
		1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // lands on atom 0
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, // lands on atom 10
	}
	nextDist := tensor.NewDense(tensor.Float64, []int{2, 11},
		tensor.WithBacking(backing))

	projected, err := support.Project([]float64{0, 0}, []float64{1, 1},
		[]float64{1, 1}, nextDist)
	if err != nil {
		t.Fatalf("could not project: %v", err)
	}

	data := projected.Data().([]float64)
	if math.Abs(data[0]-1.0) > tolerance {
		t.Errorf("lower boundary: got mass %v on atom 0; expected 1",
			data[0])
	}
	if math.Abs(data[11+10]-1.0) > tolerance {
		t.Errorf("upper boundary: got mass %v on atom 10; expected 1",
			data[11+10])
	}
	for _, row := range []int{0, 1} {
		sum := 0.0
		for j := 0; j < 11; j++ {
			sum += data[row*11+j]
		}
		if math.Abs(sum-1.0) > tolerance {
			t.Errorf("row %v: projected mass sums to %v; expected 1",
				row, sum)
		}
	}
}

// TestProjectTerminal ensures terminal transitions collapse the target
// onto the reward alone
func TestProjectTerminal(t *testing.T) {
	support, err := NewSupport(0, 10, 11)
	if err != nil {
		t.Fatalf("could not create support: %v", err)
	}

	// Uniform next distribution, but the transition is terminal with
	// reward 2.5, so the target splits evenly between atoms 2 and 3
	backing := make([]float64, 11)
	for i := range backing {
		backing[i] = 1.0 / 11.0
	}
	nextDist := tensor.NewDense(tensor.Float64, []int{1, 11},
		tensor.WithBacking(backing))

	projected, err := support.Project([]float64{2.5}, []float64{0.9},
		[]float64{0}, nextDist)
	if err != nil {
		t.Fatalf("could not project: %v", err)
	}

	data := projected.Data().([]float64)
	for j := 0; j < 11; j++ {
		expected := 0.0
		if j == 2 || j == 3 {
			expected = 0.5
		}
		if math.Abs(data[j]-expected) > tolerance {
			t.Errorf("atom %v: got mass %v; expected %v", j, data[j],
				expected)
		}
	}
}

// TestProjectShapeMismatch ensures mismatched inputs error instead of
// silently computing garbage
func TestProjectShapeMismatch(t *testing.T) {
	support, err := NewSupport(0, 10, 11)
	if err != nil {
		t.Fatalf("could not create support: %v", err)
	}

	nextDist := tensor.NewDense(tensor.Float64, []int{1, 5},
		tensor.WithBacking(make([]float64, 5)))
	if _, err := support.Project([]float64{0}, []float64{1},
		[]float64{1}, nextDist); err == nil {
		t.Error("expected error for wrong atom count")
	}

	nextDist = tensor.NewDense(tensor.Float64, []int{2, 11},
		tensor.WithBacking(make([]float64, 22)))
	if _, err := support.Project([]float64{0}, []float64{1, 1},
		[]float64{1, 1}, nextDist); err == nil {
		t.Error("expected error for mismatched row inputs")
	}
}

func TestExpectedValue(t *testing.T) {
	support, err := NewSupport(-1, 1, 3)
	if err != nil {
		t.Fatalf("could not create support: %v", err)
	}

	value := support.ExpectedValue([]float64{0.25, 0.25, 0.5})
	if math.Abs(value-0.25) > tolerance {
		t.Errorf("got expected value %v; expected 0.25", value)
	}
}
