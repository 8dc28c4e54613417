package directory

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDomain is returned when no domain was given and none could be detected.
	ErrNoDomain = errors.New("no domain configured and no default domain could be detected")

	// ErrNoExporter is returned by ExportAllUsers when the service was built without WithExporter.
	ErrNoExporter = errors.New("no exporter configured")
)

// DirectoryOperationError wraps a failed directory call with the operation
// and the key it was called with.
type DirectoryOperationError struct {
	Op  string
	Key string
	Err error
}

func (e *DirectoryOperationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("error %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("error %s '%s': %v", e.Op, e.Key, e.Err)
}

func (e *DirectoryOperationError) Unwrap() error {
	return e.Err
}

func opError(op, key string, err error) error {
	return &DirectoryOperationError{Op: op, Key: key, Err: err}
}
