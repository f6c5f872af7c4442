// Package apperr defines the typed error taxonomy (§7) shared across
// the labelers, preprocessor, predictor and API layers. Every error the
// core raises implements CoreError so the HTTP layer can map it to the
// uniform response envelope with a single switch.
package apperr

import (
	"fmt"
	"net/http"
)

// CoreError is implemented by every typed error the core raises.
type CoreError interface {
	error
	Code() string
	HTTPStatus() int
}

type baseError struct {
	code    string
	status  int
	message string
}

func (e *baseError) Error() string    { return e.message }
func (e *baseError) Code() string     { return e.code }
func (e *baseError) HTTPStatus() int  { return e.status }

// ValidationError: request malformed. HTTP 4xx, no side effects.
func NewValidationError(format string, args ...interface{}) CoreError {
	return &baseError{code: "ValidationError", status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

// InsufficientData: fewer than T rows remain after cleaning/maturation.
func NewInsufficientData(have, want int) CoreError {
	return &baseError{
		code:   "InsufficientData",
		status: http.StatusBadRequest,
		message: fmt.Sprintf("insufficient data: have %d rows, need at least %d", have, want),
	}
}

// FeatureMismatch: array/scaler/feature-list disagree. Config fault, HTTP 500.
func NewFeatureMismatch(expected, got int) CoreError {
	return &baseError{
		code:   "FeatureMismatch",
		status: http.StatusInternalServerError,
		message: fmt.Sprintf("feature mismatch: expected %d, got %d", expected, got),
	}
}

// VersionNotAvailable: unknown or unloaded version. HTTP 404, no implicit load.
func NewVersionNotAvailable(versionID string) CoreError {
	return &baseError{
		code:   "VersionNotAvailable",
		status: http.StatusNotFound,
		message: fmt.Sprintf("model version %q is not registered or not loaded", versionID),
	}
}

// ArtefactIOError: a file was missing or unreadable during a version load.
func NewArtefactIOError(path string, cause error) CoreError {
	return &baseError{
		code:   "ArtefactIOError",
		status: http.StatusInternalServerError,
		message: fmt.Sprintf("artefact io error reading %s: %v", path, cause),
	}
}

// TrainingIntegrityError: post-training validation failed (collapsed
// predictions or near-zero layer weights). Training aborts, no
// artefact is written to the serving path.
func NewTrainingIntegrityError(reason string) CoreError {
	return &baseError{
		code:   "TrainingIntegrityError",
		status: http.StatusInternalServerError,
		message: fmt.Sprintf("training integrity check failed: %s", reason),
	}
}

// NotReady: the service has no active version loaded yet. HTTP 503.
func NewNotReady(reason string) CoreError {
	return &baseError{code: "NotReady", status: http.StatusServiceUnavailable, message: reason}
}
