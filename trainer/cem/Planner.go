// Package cem implements cross entropy method planning over an
// ensemble of learned world models, and the trainer that fits those
// models stage by stage.
package cem

import (
	"fmt"
	"sort"

	"github.com/samuelfneumann/gorl/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Model is a one-step world model. Predict returns the next state, the
// reward, and whether the next state is non-terminal (1) or terminal
// (0) for a state-action pair.
type Model interface {
	Predict(state, action []float64) (nextState []float64, reward,
		notTerminal float64, err error)
}

// PlannerConfig configures a PlannerNetwork
type PlannerConfig struct {
	NumIterations  int // CEM refinement iterations per plan
	PopulationSize int // Candidate action sequences per iteration
	NumElites      int // Candidates kept to refit the sampling distribution
	PlanHorizon    int // Steps each candidate is rolled out for

	StateDims  int
	ActionDims int

	// DiscreteActions switches planning from Gaussian search over
	// continuous action sequences to exhaustive evaluation of one-hot
	// first actions
	DiscreteActions bool

	// TerminalEffective stops accumulating reward once a world model
	// predicts a terminal state
	TerminalEffective bool

	Gamma   float64
	Alpha   float64 // Smoothing of the refit mean and variance
	Epsilon float64 // Variance floor; refinement stops below it

	// Bounds of each continuous action dimension. Ignored for
	// discrete actions.
	ActionLowerBounds []float64
	ActionUpperBounds []float64

	Seed uint64
}

// Validate checks a PlannerConfig to ensure it describes a valid
// planner
func (c PlannerConfig) Validate() error {
	if c.NumIterations <= 0 {
		return fmt.Errorf("newplanner: non-positive number of "+
			"iterations %v", c.NumIterations)
	}
	if c.PopulationSize <= 0 {
		return fmt.Errorf("newplanner: non-positive population size %v",
			c.PopulationSize)
	}
	if c.NumElites <= 0 || c.NumElites > c.PopulationSize {
		return fmt.Errorf("newplanner: need elites in [1, population "+
			"size] but got %v", c.NumElites)
	}
	if c.PlanHorizon <= 0 {
		return fmt.Errorf("newplanner: non-positive plan horizon %v",
			c.PlanHorizon)
	}
	if c.StateDims <= 0 || c.ActionDims <= 0 {
		return fmt.Errorf("newplanner: non-positive dimensions: %v "+
			"state, %v action", c.StateDims, c.ActionDims)
	}
	if c.Alpha < 0 || c.Alpha >= 1 {
		return fmt.Errorf("newplanner: alpha must be in [0, 1) but "+
			"got %v", c.Alpha)
	}

	if !c.DiscreteActions {
		if len(c.ActionLowerBounds) != c.ActionDims ||
			len(c.ActionUpperBounds) != c.ActionDims {
			return fmt.Errorf("newplanner: need one lower and one upper "+
				"bound per action dimension but got %v and %v",
				len(c.ActionLowerBounds), len(c.ActionUpperBounds))
		}
		for i := range c.ActionLowerBounds {
			if c.ActionUpperBounds[i] <= c.ActionLowerBounds[i] {
				return fmt.Errorf("newplanner: action dimension %v has "+
					"empty bounds [%v, %v]", i, c.ActionLowerBounds[i],
					c.ActionUpperBounds[i])
			}
		}
	}
	return nil
}

// PlannerNetwork plans actions by the cross entropy method: candidate
// action sequences are sampled, rolled out through an ensemble of
// world models, and the sampling distribution is refit to the best
// candidates. The planner itself learns nothing; the ensemble is
// trained separately.
type PlannerNetwork struct {
	config PlannerConfig
	models []Model
	rng    *rand.Rand
	src    rand.Source
}

// NewPlannerNetwork returns a new PlannerNetwork planning over the
// argument world-model ensemble
func NewPlannerNetwork(c PlannerConfig, models []Model) (*PlannerNetwork,
	error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("newplanner: no world models")
	}

	src := rand.NewSource(c.Seed)
	return &PlannerNetwork{
		config: c,
		models: models,
		rng:    rand.New(src),
		src:    src,
	}, nil
}

// Plan returns the planned action for a state: the refit mean's first
// action for continuous actions, a one-hot row for discrete ones
func (p *PlannerNetwork) Plan(state []float64) ([]float64, error) {
	if len(state) != p.config.StateDims {
		return nil, fmt.Errorf("plan: got %v state features; expected %v",
			len(state), p.config.StateDims)
	}

	if p.config.DiscreteActions {
		_, oneHot, err := p.PlanDiscrete(state)
		return oneHot, err
	}
	return p.planContinuous(state)
}

// PlanDiscrete evaluates every one-hot first action by rolling it out
// through the ensemble and returns the per-action values together with
// the one-hot encoding of the best action
func (p *PlannerNetwork) PlanDiscrete(state []float64) ([]float64,
	[]float64, error) {
	numActions := p.config.ActionDims
	values := make([]float64, numActions)

	for a := 0; a < numActions; a++ {
		first := make([]float64, numActions)
		first[a] = 1

		// Average the rollouts of every ensemble member, continuing
		// with uniformly random actions past the first step
		total := 0.0
		for _, m := range p.models {
			sequence := make([][]float64, p.config.PlanHorizon)
			sequence[0] = first
			for t := 1; t < p.config.PlanHorizon; t++ {
				action := make([]float64, numActions)
				action[p.rng.Intn(numActions)] = 1
				sequence[t] = action
			}

			value, err := p.rollout(m, state, sequence)
			if err != nil {
				return nil, nil, fmt.Errorf("plandiscrete: %v", err)
			}
			total += value
		}
		values[a] = total / float64(len(p.models))
	}

	oneHot := make([]float64, numActions)
	oneHot[floatutils.ArgMax(values...)] = 1
	return values, oneHot, nil
}

// planContinuous runs the CEM loop over Gaussian action sequences
func (p *PlannerNetwork) planContinuous(state []float64) ([]float64,
	error) {
	c := p.config
	dims := c.PlanHorizon * c.ActionDims

	// The search distribution starts centred in the action box with a
	// standard deviation spanning half its width
	mean := make([]float64, dims)
	variance := make([]float64, dims)
	for i := 0; i < dims; i++ {
		lower := c.ActionLowerBounds[i%c.ActionDims]
		upper := c.ActionUpperBounds[i%c.ActionDims]
		mean[i] = (lower + upper) / 2
		halfWidth := (upper - lower) / 2
		variance[i] = halfWidth * halfWidth
	}

	returns := make([]float64, c.PopulationSize)
	population := make([][]float64, c.PopulationSize)

	for iter := 0; iter < c.NumIterations; iter++ {
		if floats.Max(variance) < c.Epsilon {
			break
		}

		normal, ok := distmv.NewNormal(mean, diagonal(variance), p.src)
		if !ok {
			return nil, fmt.Errorf("plan: could not build sampling " +
				"distribution")
		}

		for i := 0; i < c.PopulationSize; i++ {
			candidate := normal.Rand(nil)
			p.clampToBounds(candidate)
			population[i] = candidate

			// Each candidate is scored by a randomly chosen ensemble
			// member
			model := p.models[p.rng.Intn(len(p.models))]
			value, err := p.rollout(model, state,
				splitSequence(candidate, c.ActionDims))
			if err != nil {
				return nil, fmt.Errorf("plan: %v", err)
			}
			returns[i] = value
		}

		elites := topIndices(returns, c.NumElites)
		p.refit(mean, variance, population, elites)
	}

	action := append([]float64(nil), mean[:c.ActionDims]...)
	p.clampToBounds(action)
	return action, nil
}

// refit moves the sampling mean and variance toward the elite
// statistics, smoothed by alpha, keeping the variance above the
// epsilon floor
func (p *PlannerNetwork) refit(mean, variance []float64,
	population [][]float64, elites []int) {
	alpha := p.config.Alpha
	n := float64(len(elites))

	for d := range mean {
		eliteMean := 0.0
		for _, i := range elites {
			eliteMean += population[i][d]
		}
		eliteMean /= n

		eliteVar := 0.0
		for _, i := range elites {
			diff := population[i][d] - eliteMean
			eliteVar += diff * diff
		}
		eliteVar /= n

		mean[d] = alpha*mean[d] + (1-alpha)*eliteMean
		variance[d] = alpha*variance[d] + (1-alpha)*eliteVar
		if variance[d] < p.config.Epsilon {
			variance[d] = p.config.Epsilon
		}
	}
}

// rollout accumulates the discounted reward of an action sequence
// under a single world model
func (p *PlannerNetwork) rollout(m Model, state []float64,
	actions [][]float64) (float64, error) {
	current := append([]float64(nil), state...)
	value := 0.0
	discount := 1.0

	for _, action := range actions {
		next, reward, notTerminal, err := m.Predict(current, action)
		if err != nil {
			return 0, fmt.Errorf("rollout: %v", err)
		}

		value += discount * reward
		if p.config.TerminalEffective && notTerminal == 0 {
			break
		}

		discount *= p.config.Gamma
		current = next
	}
	return value, nil
}

// clampToBounds clamps every action of a flattened action sequence to
// the planner's action box
func (p *PlannerNetwork) clampToBounds(sequence []float64) {
	for i := range sequence {
		d := i % p.config.ActionDims
		sequence[i] = floatutils.Clip(sequence[i],
			p.config.ActionLowerBounds[d], p.config.ActionUpperBounds[d])
	}
}

// splitSequence slices a flattened action sequence into per-step
// actions
func splitSequence(flat []float64, actionDims int) [][]float64 {
	steps := len(flat) / actionDims
	actions := make([][]float64, steps)
	for t := 0; t < steps; t++ {
		actions[t] = flat[t*actionDims : (t+1)*actionDims]
	}
	return actions
}

// topIndices returns the indices of the k largest values
func topIndices(values []float64, k int) []int {
	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(i, j int) bool {
		return values[indices[i]] > values[indices[j]]
	})
	return indices[:k]
}

// diagonal returns a diagonal covariance matrix with the argument
// variances
func diagonal(variance []float64) *mat.SymDense {
	cov := mat.NewSymDense(len(variance), nil)
	for i, v := range variance {
		cov.SetSym(i, i, v)
	}
	return cov
}
