package downloader

import (
	"errors"
	"fmt"
)

var (
	// ErrDownloadInProgress is returned when a download targets a path that
	// another download is already writing to.
	ErrDownloadInProgress = errors.New("a download for this episode is already in progress")

	// ErrBatchRunning is returned when a batch is started on a coordinator
	// that is still running one.
	ErrBatchRunning = errors.New("a batch download is already running")

	errReadTimeout = errors.New("read timed out")
)

// NetworkError represents connection failures, timeouts and non-2xx responses.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "request", "read")
	URL        string
	StatusCode int   // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s: HTTP %d", e.Operation, e.URL, e.StatusCode)
	}

	return fmt.Sprintf("network error during %s of %s: %v", e.Operation, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IncompleteTransferError is returned when the stream ended before the
// declared length was written, or without any data at all.
type IncompleteTransferError struct {
	Path     string
	Written  int64
	Expected int64 // <= 0 when the server did not declare a length
}

func (e *IncompleteTransferError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("incomplete download of %s: wrote %d of %d bytes", e.Path, e.Written, e.Expected)
	}

	return fmt.Sprintf("incomplete download of %s: wrote %d bytes", e.Path, e.Written)
}

// FilesystemError represents directory or file creation, write or removal failures.
type FilesystemError struct {
	Operation string // "mkdir", "create", "write", "close" or "remove"
	Path      string
	Err       error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// BatchError is returned when a batch run aborted unexpectedly. The
// coordinator is idle again once it is returned.
type BatchError struct {
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch download aborted: %v", e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
