package domain

import (
	"errors"
	"fmt"
)

// Document-level failures abort a job. Unit, delivery and persistence
// failures are recorded but never abort one.
var (
	ErrInvalidCredentials = errors.New("invalid document password")
	ErrCorruptInput       = errors.New("document is unreadable")
	ErrInvalidDocument    = errors.New("payload is not a PDF document")
	ErrDownloadFailed     = errors.New("document download failed")
	ErrExtractionFailed   = errors.New("no usable text could be extracted from the document")
	ErrUnitProcessing     = errors.New("unit categorization failed")
	ErrDeliveryFailed     = errors.New("callback delivery failed")
	ErrPersistenceFailed  = errors.New("override persistence failed")
)

// Stage names the pipeline state a job was in.
type Stage string

const (
	StageFetching      Stage = "fetching"
	StageUnlocking     Stage = "unlocking"
	StageExtracting    Stage = "extracting"
	StageCategorizing  Stage = "categorizing"
	StageConsolidating Stage = "consolidating"
	StagePersonalizing Stage = "personalizing"
	StageDelivering    Stage = "delivering"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// StageError records the stage in which a job failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by the submitted document or
// its password rather than by the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrCorruptInput) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrDownloadFailed) ||
		errors.Is(err, ErrExtractionFailed)
}
