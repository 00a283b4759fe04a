package gridworld

import (
	"math"
	"testing"
)

// newTestWorld returns a 3x3 gridworld with the goal in the top-right
// corner
func newTestWorld(t *testing.T) *GridWorld {
	g, err := New(3, 3, []int{2}, []int{2}, 0, 1, 0.9, 42)
	if err != nil {
		t.Fatalf("could not create gridworld: %v", err)
	}
	return g
}

func TestNewValidation(t *testing.T) {
	if _, err := New(0, 3, []int{0}, []int{0}, 0, 1, 0.9, 0); err == nil {
		t.Error("expected error for zero rows")
	}
	if _, err := New(3, 3, []int{5}, []int{0}, 0, 1, 0.9, 0); err == nil {
		t.Error("expected error for out-of-bounds goal")
	}
	if _, err := New(3, 3, []int{0}, []int{0, 1}, 0, 1, 0.9, 0); err == nil {
		t.Error("expected error for mismatched goal coordinates")
	}
	if _, err := New(3, 3, nil, nil, 0, 1, 0.9, 0); err == nil {
		t.Error("expected error for no goals")
	}
	if _, err := New(3, 3, []int{0}, []int{0}, 0, 1, 1.0, 0); err == nil {
		t.Error("expected error for gamma outside [0, 1)")
	}
}

// TestNextState checks the movement dynamics, including wall clamping
func TestNextState(t *testing.T) {
	g := newTestWorld(t)

	// From the centre cell (1, 1) = state 4
	cases := []struct {
		action   int
		expected int
	}{
		{Left, 3},
		{Right, 5},
		{Up, 7},
		{Down, 1},
	}
	for _, c := range cases {
		if next := g.NextState(4, c.action); next != c.expected {
			t.Errorf("action %v from state 4: got %v; expected %v",
				c.action, next, c.expected)
		}
	}

	// Walls clamp: moving left from the left edge stays put
	if next := g.NextState(3, Left); next != 3 {
		t.Errorf("moving into a wall moved the agent to %v", next)
	}
	if next := g.NextState(0, Down); next != 0 {
		t.Errorf("moving into a wall moved the agent to %v", next)
	}
}

// TestTransition checks rewards and termination at the goal
func TestTransition(t *testing.T) {
	g := newTestWorld(t)

	// State 7 = (1, 2); moving right enters the goal at (2, 2)
	next, reward, terminal := g.Transition(7, Right)
	if next != 8 || reward != 1 || !terminal {
		t.Errorf("got (%v, %v, %v); expected terminal transition to 8 "+
			"with reward 1", next, reward, terminal)
	}

	next, reward, terminal = g.Transition(0, Right)
	if next != 1 || reward != 0 || terminal {
		t.Errorf("got (%v, %v, %v); expected non-terminal transition "+
			"to 1 with reward 0", next, reward, terminal)
	}
}

// TestSampleBatch checks the layout invariants of sampled batches:
// one-hot rows, rewards and terminal flags matching the dynamics, and
// no transitions starting in the goal
func TestSampleBatch(t *testing.T) {
	g := newTestWorld(t)
	batch := g.SampleBatch(32)

	if batch.Size() != 32 {
		t.Fatalf("got batch size %v; expected 32", batch.Size())
	}
	if batch.Features() != 9 || batch.NumActions() != NumActions {
		t.Fatalf("got (%v features, %v actions); expected (9, %v)",
			batch.Features(), batch.NumActions(), NumActions)
	}

	states := batch.State.Data().([]float64)
	actions := batch.Action.Data().([]float64)
	rewards := batch.Reward.Data().([]float64)
	notTerminal := batch.NotTerminal.Data().([]float64)

	for i := 0; i < batch.Size(); i++ {
		state, action := -1, -1
		for j := 0; j < 9; j++ {
			if states[i*9+j] == 1 {
				state = j
			}
		}
		for j := 0; j < NumActions; j++ {
			if actions[i*NumActions+j] == 1 {
				action = j
			}
		}
		if state < 0 || action < 0 {
			t.Fatalf("transition %v: state or action row is not one-hot",
				i)
		}
		if g.IsGoal(state) {
			t.Errorf("transition %v starts in the goal", i)
		}

		_, reward, terminal := g.Transition(state, action)
		if rewards[i] != reward {
			t.Errorf("transition %v: got reward %v; expected %v", i,
				rewards[i], reward)
		}
		if terminal == (notTerminal[i] == 1) {
			t.Errorf("transition %v: terminal flag disagrees with "+
				"dynamics", i)
		}
	}
}

// TestOptimalValues checks value iteration against hand-computed
// returns: the optimal return of a state d steps from the goal is
// gamma^(d-1) * goalReward with zero step rewards
func TestOptimalValues(t *testing.T) {
	g := newTestWorld(t)
	values := g.OptimalValues(1e-10)

	// Manhattan distance to the goal at (2, 2) decides the value
	expected := map[int]float64{
		8: 0,                  // goal
		7: 1,                  // one step away
		5: 1,                  // one step away
		4: 0.9,                // two steps
		0: 0.9 * 0.9 * 0.9,    // four steps
	}
	for state, want := range expected {
		if math.Abs(values[state]-want) > 1e-9 {
			t.Errorf("state %v: got value %v; expected %v", state,
				values[state], want)
		}
	}
}
