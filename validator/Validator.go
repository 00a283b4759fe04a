// Package validator implements model validators, which judge a
// completed training run and produce a tagged result for downstream
// workflow reporting.
package validator

import (
	"fmt"

	"github.com/samuelfneumann/gorl/report"
)

// TrainingOutput summarizes a completed training run for validation
type TrainingOutput struct {
	// TDLosses holds the mean training loss of each epoch in order
	TDLosses []float64

	// Records holds the structured reports emitted during the run
	Records []report.Record
}

// ResultType discriminates the concrete result types validators can
// produce
type ResultType string

// Result is a concrete validation result. Implementations carry
// whatever detail their validator computes; the discriminant lives on
// the validator, not the result.
type Result interface {
	validationResult()
}

// TaggedResult is the tagged union of a concrete Result and the
// producing validator's declared ResultType. Downstream consumers
// switch on Type without inspecting the concrete result.
type TaggedResult struct {
	Type   ResultType
	Result Result
}

// Validator judges a completed training run. DoValidate holds the
// validator-specific logic; ResultType declares the type of result
// DoValidate produces and must not be empty.
type Validator interface {
	DoValidate(output *TrainingOutput,
		history []*TrainingOutput) (Result, error)
	ResultType() ResultType
}

// Validate runs a validator on a training run and wraps its concrete
// result into a TaggedResult using the validator's declared result
// type as the discriminant. A validator declaring an empty result type
// violates its contract; Validate fails before running it.
func Validate(v Validator, output *TrainingOutput,
	history []*TrainingOutput) (*TaggedResult, error) {
	resultType := v.ResultType()
	if resultType == "" {
		return nil, fmt.Errorf("validate: validator %T declares no "+
			"result type", v)
	}

	result, err := v.DoValidate(output, history)
	if err != nil {
		return nil, fmt.Errorf("validate: %v", err)
	}

	return &TaggedResult{Type: resultType, Result: result}, nil
}
