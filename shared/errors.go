package shared

import (
	"fmt"
)

// NotaryError is the base error type for all pipeline errors
type NotaryError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

// Error implements the error interface
func (e *NotaryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *NotaryError) Unwrap() error {
	return e.Cause
}

// Pipeline stages reported by StageError.
const (
	StageSetup        = "setup"
	StageExchange     = "exchange"
	StageExtraction   = "extraction"
	StageNotarize     = "notarize"
	StageRangeFinding = "range-finding"
	StageCommitment   = "commitment"
	StageFinalize     = "finalize"
	StageProofBuild   = "proof-build"
	StageArchive      = "archive"
)

// StageError identifies which pipeline stage failed
type StageError struct {
	*NotaryError
	Stage string `json:"stage"`
}

// NewStageError creates a new stage error
func NewStageError(stage string, message string, cause error) *StageError {
	return &StageError{
		NotaryError: &NotaryError{
			Type:    "stage_error",
			Message: fmt.Sprintf("%s failed: %s", stage, message),
			Cause:   cause,
		},
		Stage: stage,
	}
}

// InputError represents malformed caller input or an unusable API reply
type InputError struct {
	*NotaryError
	Field string `json:"field"`
}

// NewInputError creates a new input error
func NewInputError(field string, message string, cause error) *InputError {
	return &InputError{
		NotaryError: &NotaryError{
			Type:    "input_error",
			Message: fmt.Sprintf("invalid %s: %s", field, message),
			Cause:   cause,
		},
		Field: field,
	}
}

// LifecycleError marks a violated session lifecycle. Session state is not
// resumable after one of these.
type LifecycleError struct {
	*NotaryError
	Operation string `json:"operation"`
}

// NewLifecycleError creates a new lifecycle error
func NewLifecycleError(operation string, cause error) *LifecycleError {
	return &LifecycleError{
		NotaryError: &NotaryError{
			Type:    "lifecycle_error",
			Message: fmt.Sprintf("session lifecycle violated during %s", operation),
			Cause:   cause,
		},
		Operation: operation,
	}
}

// ConfigurationError represents configuration-related errors
type ConfigurationError struct {
	*NotaryError
	Field string `json:"field"` // Which configuration field is invalid
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(field string, message string) *ConfigurationError {
	return &ConfigurationError{
		NotaryError: &NotaryError{
			Type:    "configuration_error",
			Message: fmt.Sprintf("Configuration error in field '%s': %s", field, message),
		},
		Field: field,
	}
}
