package errs

import (
	"errors"
	"fmt"
)

// Stage names the pipeline stage that produced a StageError.
type Stage string

const (
	StageAnalysis   Stage = "analysis"
	StageSchema     Stage = "schema"
	StageProvision  Stage = "provision"
	StageLoad       Stage = "load"
	StageValidation Stage = "validation"
)

// Code is a stable, machine-readable reason within a stage.
type Code string

const (
	CodeEmptyFile             Code = "EmptyFile"
	CodeUndecodableEncoding   Code = "UndecodableEncoding"
	CodeNoConsistentDelimiter Code = "NoConsistentDelimiter"
	CodeUnreadableInput       Code = "UnreadableInput"

	CodeEmptySample      Code = "EmptySample"
	CodeOverrideMismatch Code = "OverrideMismatch"
	CodeInvalidOverride  Code = "InvalidOverride"

	CodeTableExists Code = "TableExists"
	CodeDDLFailed   Code = "DDLFailed"

	CodeErrorBudgetExceeded Code = "ErrorBudgetExceeded"
	CodeChunkRetryExhausted Code = "ChunkRetryExhausted"
	CodeConnectionLost      Code = "ConnectionLost"
	CodeChunkFailed         Code = "ChunkFailed"

	CodeValidationFailed Code = "ValidationFailed"
	CodeCheckFailed      Code = "CheckFailed"
)

// StageError is a fatal pipeline error. It always reports the stage and
// the offending input; DeadLetter points at persisted rejects when a load
// aborted after some rows had already been dead-lettered.
type StageError struct {
	Stage      Stage
	Code       Code
	Input      string
	Message    string
	DeadLetter string
	Cause      error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s error (%s)", e.Stage, e.Code)
	if e.Input != "" {
		msg += fmt.Sprintf(" [%s]", e.Input)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.DeadLetter != "" {
		msg += fmt.Sprintf(" (rejected rows: %s)", e.DeadLetter)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

func newStage(stage Stage, code Code, input, msg string, cause error) *StageError {
	return &StageError{Stage: stage, Code: code, Input: input, Message: msg, Cause: cause}
}

// Analysis reports an AnalysisError.
func Analysis(code Code, input, msg string, cause error) *StageError {
	return newStage(StageAnalysis, code, input, msg, cause)
}

// Schema reports a SchemaError.
func Schema(code Code, input, msg string, cause error) *StageError {
	return newStage(StageSchema, code, input, msg, cause)
}

// Provision reports a ProvisionError.
func Provision(code Code, input, msg string, cause error) *StageError {
	return newStage(StageProvision, code, input, msg, cause)
}

// Load reports a run-level LoadError.
func Load(code Code, input, msg string, cause error) *StageError {
	return newStage(StageLoad, code, input, msg, cause)
}

// Validation reports a ValidationError.
func Validation(code Code, input, msg string, cause error) *StageError {
	return newStage(StageValidation, code, input, msg, cause)
}

// AsStage returns the first StageError in err's chain.
func AsStage(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsStage reports whether err carries a StageError from the given stage.
func IsStage(err error, stage Stage) bool {
	se, ok := AsStage(err)
	return ok && se.Stage == stage
}

// HasCode reports whether err carries a StageError with the given code.
func HasCode(err error, code Code) bool {
	se, ok := AsStage(err)
	return ok && se.Code == code
}
