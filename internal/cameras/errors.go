package cameras

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrCameraNotFound    = fmt.Errorf("camera %w", ErrNotFound)
	ErrTransportNotFound = fmt.Errorf("transport %w", ErrNotFound)
	ErrConsumerNotFound  = fmt.Errorf("consumer %w", ErrNotFound)
	ErrIncompatible      = errors.New("cannot consume")
	ErrEngineFailure     = errors.New("media engine failure")
	ErrProducersActive   = errors.New("camera still has producers")
)

const CodeEngineFailure = "ENGINE_FAILURE"

// StepError records which engine step of a compound operation failed.
type StepError struct {
	Step string
	Code string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("[%s:%s] %v", e.Step, e.Code, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target == ErrEngineFailure && e.Code == CodeEngineFailure
}

// EngineFailure wraps an error raised by the media engine during step.
func EngineFailure(step string, err error) *StepError {
	return &StepError{Step: step, Code: CodeEngineFailure, Err: err}
}

// RemovedError is returned for a camera id that existed recently.
type RemovedError struct {
	CameraID string
	Reason   string
	At       time.Time
}

func (e *RemovedError) Error() string {
	return fmt.Sprintf("camera %s removed (%s) at %s", e.CameraID, e.Reason, e.At.Format(time.RFC3339))
}

func (e *RemovedError) Unwrap() error {
	return ErrCameraNotFound
}
