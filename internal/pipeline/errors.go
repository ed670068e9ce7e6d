package pipeline

import "fmt"

// Stage identifies which step of the reply pipeline an error originated from.
type Stage string

// Pipeline stages, in execution order.
const (
	StageTranscription Stage = "transcription"
	StageCompletion    Stage = "completion"
	StageSynthesis     Stage = "synthesis"
	StageStorage       Stage = "storage"
)

// StageError tags a provider or storage failure with the pipeline stage it
// occurred in. Callers can branch on [StageError.Stage] to surface the failed
// step while the wrapped error carries the provider detail.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying provider error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// stageErr wraps err as a [StageError] for the given stage.
func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
