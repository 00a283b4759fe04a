// Package optimize implements the optimizers that trainers expose to
// the training-loop driver. Gradient-based optimizers wrap Gorgonia
// Solvers bound to a network's model; the soft-update pseudo-optimizer
// nudges a target network toward an online network and is presented to
// the driver as an ordinary optimizer so that the generic
// optimizer-stepping contract needs no special case.
package optimize

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of optimizers that are available
type Type string

// Available optimizer types
const (
	Adam       Type = "Adam"
	Vanilla    Type = "Vanilla"
	SoftUpdate Type = "SoftUpdate"
)

// Config implements a Gorgonia Solver configuration and can be used
// to create the Gorgonia Solvers it describes
type Config interface {
	Create() G.Solver

	// Type returns the type of optimizer the Config creates
	Type() Type

	// ValidType returns whether a specific optimizer type can be
	// created with the Config
	ValidType(Type) bool
}

// Optimizer adapts the parameters it was constructed over when
// stepped. The training-loop driver treats every Optimizer uniformly,
// whether it wraps a Gorgonia Solver or a parameter-copying routine
// like the soft update.
type Optimizer struct {
	typ    Type
	config Config

	solver G.Solver
	model  []G.ValueGrad

	// step, when non-nil, overrides solver-based stepping
	step func() error
}

// newOptimizer returns a new solver-backed Optimizer bound to model
func newOptimizer(t Type, c Config, model []G.ValueGrad) (*Optimizer,
	error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newoptimizer: invalid optimizer type "+
			"%v for configuration %T", t, c)
	}
	return &Optimizer{
		typ:    t,
		config: c,
		solver: c.Create(),
		model:  model,
	}, nil
}

// FromConfig returns a new Optimizer as described by the Config,
// bound to model
func FromConfig(c Config, model []G.ValueGrad) (*Optimizer, error) {
	return newOptimizer(c.Type(), c, model)
}

// Type returns the type of the Optimizer
func (o *Optimizer) Type() Type {
	return o.typ
}

// Conf returns the Config the Optimizer was created from, which is
// nil for the soft-update pseudo-optimizer
func (o *Optimizer) Conf() Config {
	return o.config
}

// Step adapts the parameters the Optimizer was constructed over
func (o *Optimizer) Step() error {
	if o.step != nil {
		return o.step()
	}
	return o.solver.Step(o.model)
}

// FromJSON unmarshals an optimizer Config into its concrete type.
// Both the Config and its Type are returned. The data must hold a
// "Type" field naming the optimizer type and a "Config" field holding
// the configuration values.
func FromJSON(data []byte) (Config, Type, error) {
	return unmarshalConfig(data, "Type", "Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
		})
}

// unmarshalConfig uses reflection to unmarshal a Config into its
// concrete type
func unmarshalConfig(data []byte, typeJSONField, valueJSONField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJSONField].(string)
	if !ok {
		return nil, "", fmt.Errorf("unmarshalconfig: no %v field",
			typeJSONField)
	}

	ty, found := customTypes[typeName]
	if !found {
		return nil, "", fmt.Errorf("unmarshalconfig: no such optimizer "+
			"type %v", typeName)
	}
	value := reflect.New(ty).Interface().(Config)

	valueBytes, err := json.Marshal(m[valueJSONField])
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(valueBytes, &value); err != nil {
		return nil, "", err
	}

	return value, Type(typeName), nil
}
