package decisions

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a decision, assumption or constraint does not exist
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned when a write targets a RETIRED decision
	ErrTerminal = errors.New("decision is in a terminal state")

	// ErrAlreadyExists is returned when a record with the same ID is stored twice
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidResult is returned when a scoring verdict breaks the result contract
	ErrInvalidResult = errors.New("invalid evaluation result")
)

// ErrorKind classifies a failed evaluation
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindUpstreamFailure ErrorKind = "upstream_failure"
	KindDataIntegrity   ErrorKind = "data_integrity"
)

// EvaluationError is the structured failure record of one decision's evaluation
type EvaluationError struct {
	Kind       ErrorKind
	DecisionID string
	Op         string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s decision %s: %s: %v", e.Op, e.DecisionID, e.Kind, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// NewEvaluationError wraps err for decisionID, classifying it with ClassifyError
func NewEvaluationError(decisionID, op string, err error) *EvaluationError {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr
	}
	return &EvaluationError{
		Kind:       ClassifyError(err),
		DecisionID: decisionID,
		Op:         op,
		Err:        err,
	}
}

// ClassifyError maps an error onto an ErrorKind. Anything that is not a
// missing record or a contract breach is treated as an upstream failure,
// which leaves the dirty flag set for a retry.
func ClassifyError(err error) ErrorKind {
	var evalErr *EvaluationError
	switch {
	case errors.As(err, &evalErr):
		return evalErr.Kind
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidResult), errors.Is(err, ErrTerminal):
		return KindDataIntegrity
	default:
		return KindUpstreamFailure
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func alreadyExists(kind, id string) error {
	return fmt.Errorf("%s with ID %s: %w", kind, id, ErrAlreadyExists)
}
