package validator

// NoValidationType is the registered Type of the NoValidation
// validator
const NoValidationType Type = "NoValidation"

// NoValidationResultType discriminates NoValidationResult in a
// TaggedResult
const NoValidationResultType ResultType = "NoValidationResult"

// NoValidationResult is the result of a NoValidation validator: the
// run is always publishable
type NoValidationResult struct {
	ShouldPublish bool
}

func (NoValidationResult) validationResult() {}

// NoValidation is a pass-through validator that accepts every training
// run
type NoValidation struct{}

// NewNoValidation returns a new NoValidation validator
func NewNoValidation() Validator {
	return NoValidation{}
}

// DoValidate accepts the run unconditionally
func (NoValidation) DoValidate(output *TrainingOutput,
	history []*TrainingOutput) (Result, error) {
	return NoValidationResult{ShouldPublish: true}, nil
}

// ResultType returns the type of result DoValidate produces
func (NoValidation) ResultType() ResultType {
	return NoValidationResultType
}

func init() {
	// The only registration this package performs itself
	if err := Register(NoValidationType, NewNoValidation); err != nil {
		panic(err)
	}
}
