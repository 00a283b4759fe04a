package validator

import (
	"fmt"
	"sort"
)

// Type names a registered validator implementation
type Type string

// Registered validator types with the package. Each validator package
// registers its own Type explicitly; this package registers only its
// own NoValidation validator.
var registeredTypes = make(map[Type]func() Validator)

// Register registers a validator Type with a constructor for it so
// that New can construct validators of that type. Registering a Type
// twice is an error.
func Register(t Type, constructor func() Validator) error {
	if constructor == nil {
		return fmt.Errorf("register: nil constructor for type %v", t)
	}
	if _, exists := registeredTypes[t]; exists {
		return fmt.Errorf("register: type %v already registered", t)
	}
	registeredTypes[t] = constructor
	return nil
}

// New constructs a new validator of a registered Type
func New(t Type) (Validator, error) {
	constructor, ok := registeredTypes[t]
	if !ok {
		return nil, fmt.Errorf("new: no such validator type %v", t)
	}
	return constructor(), nil
}

// Types returns the registered validator types in sorted order
func Types() []Type {
	types := make([]Type, 0, len(registeredTypes))
	for t := range registeredTypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		return types[i] < types[j]
	})
	return types
}
