// Package errs holds the error taxonomy shared by the transplant, dataset,
// metric and experiment packages. Every typed error matches its sentinel via
// errors.Is, so callers only need to branch on the sentinel.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers unknown task or metric names and example counts
	// that do not fit a task's batch rule.
	ErrConfiguration = errors.New("configuration error")

	// ErrShapeMismatch means the transplant contract between a compiled
	// program and the runtime was violated. It is always fatal.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrSemanticMisuse is returned when a metric is applied to outputs it
	// cannot meaningfully compare.
	ErrSemanticMisuse = errors.New("semantic misuse")

	// ErrEquivalence reports a transplanted runtime whose activations differ
	// from the compiled program's own intermediate outputs.
	ErrEquivalence = errors.New("equivalence check failed")
)

type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Msg)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Msg)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configf builds a ConfigurationError for field with a formatted message.
func Configf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ShapeMismatchError names the offending parameter and both shapes. Reason is
// set instead of shapes when the parameter has no destination at all.
type ShapeMismatchError struct {
	Param  string
	Want   []int
	Got    []int
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("shape mismatch: %s: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("shape mismatch: %s: want %v, got %v", e.Param, e.Want, e.Got)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

type SemanticMisuseError struct {
	Metric string
	Reason string
}

func (e *SemanticMisuseError) Error() string {
	return fmt.Sprintf("semantic misuse: metric %q: %s", e.Metric, e.Reason)
}

func (e *SemanticMisuseError) Is(target error) bool { return target == ErrSemanticMisuse }
