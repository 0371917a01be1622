package orders

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/psantana5/earthfetch/pkg/models"
)

var (
	ErrInvalidCriteria = errors.New("invalid criteria")
	ErrAuthentication  = errors.New("authentication failed")
	ErrSubmission      = errors.New("submission failed")
	ErrPollTimeout     = errors.New("poll deadline reached")
	ErrIntegrity       = errors.New("integrity check failed")
	ErrPrecondition    = errors.New("precondition not met")
	ErrPollInProgress  = errors.New("job is already being polled")
)

// InvalidCriteriaError reports criteria rejected before any request is sent
type InvalidCriteriaError struct {
	Field  string
	Reason string
}

func (e *InvalidCriteriaError) Error() string {
	return fmt.Sprintf("invalid criteria: %s: %s", e.Field, e.Reason)
}

func (e *InvalidCriteriaError) Is(target error) bool { return target == ErrInvalidCriteria }

// NewInvalidCriteria converts a validation error into an InvalidCriteriaError
func NewInvalidCriteria(err error) error {
	if err == nil {
		return nil
	}
	var fe *models.FieldError
	if errors.As(err, &fe) {
		return &InvalidCriteriaError{Field: fe.Field, Reason: fe.Reason}
	}
	return &InvalidCriteriaError{Field: "criteria", Reason: err.Error()}
}

// AuthenticationError means the service rejected the session credentials.
// Callers should re-authenticate instead of retrying.
type AuthenticationError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// Retryable is always false; the same credentials will be rejected again
func (e *AuthenticationError) Retryable() bool { return false }

// SubmissionError means the service did not accept the order
type SubmissionError struct {
	Service string
	Reason  string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: submission failed: %s: %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: submission failed: %s", e.Service, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// PollTimeoutError is returned when the poll deadline passes before the job
// reaches a terminal state. Polling can resume with the same job.
type PollTimeoutError struct {
	JobID      string
	LastStatus models.JobStatus
	Remote     string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s: poll deadline reached, last status %s (remote %q)", e.JobID, e.LastStatus, e.Remote)
}

func (e *PollTimeoutError) Is(target error) bool { return target == ErrPollTimeout }

// IntegrityError reports a downloaded file that does not match its descriptor
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
	Kind     string // "size" or a checksum algorithm
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: expected %s, got %s", e.URL, e.Kind, e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// Retryable is always false
func (e *IntegrityError) Retryable() bool { return false }

// PreconditionError reports a call made in the wrong job state
type PreconditionError struct {
	JobID  string
	Status models.JobStatus
	Want   models.JobStatus
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("job %s: status is %s, want %s", e.JobID, e.Status, e.Want)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// InsufficientSpaceError means the destination cannot hold the job outputs
type InsufficientSpaceError struct {
	Dir  string
	Need uint64
	Free uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("%s: need %d bytes, only %d free", e.Dir, e.Need, e.Free)
}

func (e *InsufficientSpaceError) Is(target error) bool { return target == ErrPrecondition }

// StatusError is an unexpected HTTP response from a service
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Retryable reports whether the status is worth retrying
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// IsAuthStatus reports whether code means the credentials were rejected
func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// FetchError summarizes a fetch in which at least one file failed
type FetchError struct {
	JobID      string
	LastStatus models.JobStatus
	Failed     int
	Total      int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("job %s (%s): %d of %d files failed: %v", e.JobID, e.LastStatus, e.Failed, e.Total, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
