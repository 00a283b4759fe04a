// Package gridworld implements a small deterministic 2D gridworld
// that produces training batches of logged transitions and true
// discounted returns, for exercising trainers against a known
// environment.
package gridworld

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gorl/data"
	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// Directions an agent can move in. Moving into a wall leaves the
// position unchanged.
const (
	Left int = iota
	Right
	Up
	Down

	NumActions
)

// GridWorld is a deterministic gridworld over a rows x cols grid.
// States are observed as one-hot vectors of length rows*cols, indexed
// row-major. Transitions into a goal cell are terminal and yield the
// goal reward; everything else yields the step reward.
type GridWorld struct {
	rows, cols int
	goals      map[int]bool

	stepReward float64
	goalReward float64
	gamma      float64

	rng *rand.Rand
}

// New returns a new GridWorld with goal cells at coordinates
// (goalX[i], goalY[i])
func New(rows, cols int, goalX, goalY []int, stepReward, goalReward,
	gamma float64, seed uint64) (*GridWorld, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("new: non-positive grid dimensions "+
			"(%v, %v)", rows, cols)
	}
	if len(goalX) != len(goalY) {
		return nil, fmt.Errorf("new: invalid number of goal "+
			"coordinates\n\twant(%v)\n\thave(%v)", len(goalX), len(goalY))
	}
	if len(goalX) == 0 {
		return nil, fmt.Errorf("new: no goal cells")
	}
	if gamma < 0 || gamma >= 1 {
		return nil, fmt.Errorf("new: gamma must be in [0, 1) but got %v",
			gamma)
	}

	goals := make(map[int]bool, len(goalX))
	for i := range goalX {
		if goalX[i] < 0 || goalX[i] >= cols {
			return nil, fmt.Errorf("new: goal x = %v out of [0, %v)",
				goalX[i], cols)
		}
		if goalY[i] < 0 || goalY[i] >= rows {
			return nil, fmt.Errorf("new: goal y = %v out of [0, %v)",
				goalY[i], rows)
		}
		goals[goalY[i]*cols+goalX[i]] = true
	}

	return &GridWorld{
		rows:       rows,
		cols:       cols,
		goals:      goals,
		stepReward: stepReward,
		goalReward: goalReward,
		gamma:      gamma,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// NumStates returns the number of cells of the grid
func (g *GridWorld) NumStates() int {
	return g.rows * g.cols
}

// Features returns the length of a state observation
func (g *GridWorld) Features() int {
	return g.NumStates()
}

// IsGoal returns whether a state index is a goal cell
func (g *GridWorld) IsGoal(state int) bool {
	return g.goals[state]
}

// NextState returns the state reached by taking an action in a state.
// Moving off the grid leaves the state unchanged.
func (g *GridWorld) NextState(state, action int) int {
	y := state / g.cols
	x := state - y*g.cols

	switch action {
	case Left:
		if x > 0 {
			x--
		}
	case Right:
		if x < g.cols-1 {
			x++
		}
	case Up:
		if y < g.rows-1 {
			y++
		}
	case Down:
		if y > 0 {
			y--
		}
	default:
		panic(fmt.Sprintf("nextstate: no such action %v", action))
	}
	return y*g.cols + x
}

// Transition returns the next state, reward, and terminal flag of
// taking an action in a state
func (g *GridWorld) Transition(state, action int) (next int,
	reward float64, terminal bool) {
	next = g.NextState(state, action)
	if g.goals[next] {
		return next, g.goalReward, true
	}
	return next, g.stepReward, false
}

// SampleBatch returns a batch of transitions with uniformly sampled
// non-goal states and uniformly sampled actions, in the layout
// trainers consume. Logged propensities are the uniform behaviour
// policy's.
func (g *GridWorld) SampleBatch(batchSize int) *data.Batch {
	states := make([]int, batchSize)
	actions := make([]int, batchSize)
	nextStates := make([]int, batchSize)
	nextActions := make([]int, batchSize)
	rewards := make([]float64, batchSize)
	notTerminal := make([]float64, batchSize)

	for i := 0; i < batchSize; i++ {
		states[i] = g.sampleNonGoalState()
		actions[i] = g.rng.Intn(NumActions)

		next, reward, terminal := g.Transition(states[i], actions[i])
		nextStates[i] = next
		rewards[i] = reward
		nextActions[i] = g.rng.Intn(NumActions)
		if !terminal {
			notTerminal[i] = 1
		}
	}

	ones := make([]float64, batchSize)
	propensities := make([]float64, batchSize)
	for i := range ones {
		ones[i] = 1
		propensities[i] = 1.0 / float64(NumActions)
	}

	return &data.Batch{
		State:                   g.observations(states),
		Action:                  data.OneHot(actions, NumActions),
		Reward:                  data.Column(rewards),
		NextState:               g.observations(nextStates),
		NextAction:              data.OneHot(nextActions, NumActions),
		NotTerminal:             data.Column(notTerminal),
		PossibleActionsMask:     data.Ones(batchSize, NumActions),
		PossibleNextActionsMask: data.Ones(batchSize, NumActions),
		TimeDiff:                data.Column(ones),
		Step:                    data.Column(ones),
		ActionProbability:       data.Column(propensities),
	}
}

// OptimalValues returns the true discounted return of every state
// under an optimal policy, computed by value iteration to the argument
// tolerance. Goal cells have value 0: episodes end on entering them.
func (g *GridWorld) OptimalValues(tolerance float64) []float64 {
	numStates := g.NumStates()
	values := make([]float64, numStates)

	for {
		delta := 0.0
		for s := 0; s < numStates; s++ {
			if g.goals[s] {
				continue
			}

			best := math.Inf(-1)
			for a := 0; a < NumActions; a++ {
				next, reward, terminal := g.Transition(s, a)
				value := reward
				if !terminal {
					value += g.gamma * values[next]
				}
				if value > best {
					best = value
				}
			}

			if diff := math.Abs(best - values[s]); diff > delta {
				delta = diff
			}
			values[s] = best
		}

		if delta < tolerance {
			return values
		}
	}
}

// sampleNonGoalState uniformly samples a state that is not a goal cell
func (g *GridWorld) sampleNonGoalState() int {
	for {
		state := g.rng.Intn(g.NumStates())
		if !g.goals[state] {
			return state
		}
	}
}

// observations returns the one-hot observations of the argument state
// indices as a (len(states), Features) matrix
func (g *GridWorld) observations(states []int) *tensor.Dense {
	return data.OneHot(states, g.NumStates())
}
