package download

import (
	"fmt"

	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
)

// FilesystemError is a local disk failure. It ends the task without a retry.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

func (e *FilesystemError) ErrorType() retry.ErrorType { return retry.ErrorTypeFilesystem }

// ShortTransferError is returned when the body ends before Content-Length
// bytes arrived. The connection was cut, so the transfer is retried.
type ShortTransferError struct {
	Expected int64
	Received int64
}

func (e *ShortTransferError) Error() string {
	return fmt.Sprintf("received %d of %d bytes", e.Received, e.Expected)
}

func (e *ShortTransferError) ErrorType() retry.ErrorType { return retry.ErrorTypeNetwork }

// AbortError ends the whole run after too many filesystem failures in a row
type AbortError struct {
	Failures int
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("aborting after %d consecutive filesystem failures: %v", e.Failures, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }
