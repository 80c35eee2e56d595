package upload

import (
	"errors"
	"fmt"
)

// Submission error codes.
const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeEmptyFile       = "EMPTY_FILE"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
	CodeTooManyPages    = "TOO_MANY_PAGES"
	CodeInvalidURL      = "INVALID_URL"
	CodeBatchTooLarge   = "BATCH_TOO_LARGE"
	CodeBackendRejected = "BACKEND_REJECTED"
	CodeTransport       = "TRANSPORT"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeTrackerClosed   = "TRACKER_CLOSED"
)

// SubmissionError means the ingestion request was refused or never sent.
// No entry exists for a failed submission.
type SubmissionError struct {
	Item       string
	Code       string
	StatusCode int    // backend status, 0 when rejected client-side
	Message    string // backend body verbatim when StatusCode != 0
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submit %s: %s (%d): %s", e.Item, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("submit %s: %s: %s", e.Item, e.Code, e.Message)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ClientSide reports whether the submission was rejected before reaching the backend.
func (e *SubmissionError) ClientSide() bool {
	return e.StatusCode == 0 && e.Code != CodeTransport && e.Code != CodeInvalidResponse
}

func newSubmissionError(item, code, message string) *SubmissionError {
	return &SubmissionError{Item: item, Code: code, Message: message}
}

// PollTransportError means a status request failed or returned non-2xx.
// It is terminal for its entry.
type PollTransportError struct {
	ID      string
	Attempt int
	Err     error
}

func (e *PollTransportError) Error() string {
	return fmt.Sprintf("poll %s (attempt %d): %v", e.ID, e.Attempt, e.Err)
}

func (e *PollTransportError) Unwrap() error {
	return e.Err
}

// ProcessingError means the backend reported that ingestion failed.
type ProcessingError struct {
	ID      string
	Message string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s failed: %s", e.ID, e.Message)
}

// ErrPollExhausted is recorded for entries whose attempt budget ran out.
var ErrPollExhausted = errors.New("poll budget exhausted before the document became ready")

// ErrEntryNotFound is returned for unknown ids.
var ErrEntryNotFound = errors.New("upload entry not found")

// ErrCheckNotAllowed is returned by CheckAgain for entries that are terminal or still polling.
var ErrCheckNotAllowed = errors.New("entry is terminal or already polling")

// ErrTrackerClosed is returned after CancelAll.
var ErrTrackerClosed = errors.New("upload tracker is closed")
