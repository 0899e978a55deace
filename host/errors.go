package host

import (
	"fmt"
)

// AllocationError reports that the OS could not allocate a pseudo-terminal.
type AllocationError struct {
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("unable to allocate pty: %s", e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// SpawnError reports that the shell process could not be created.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("unable to spawn shell %s: %s", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// InvalidDirectoryError reports a working directory that can't host a shell.
type InvalidDirectoryError struct {
	Dir string
	Err error
}

func (e *InvalidDirectoryError) Error() string {
	return fmt.Sprintf("invalid directory %q: %s", e.Dir, e.Err)
}

func (e *InvalidDirectoryError) Unwrap() error { return e.Err }

type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("error writing to pty: %s", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type ResizeError struct {
	Rows, Cols uint16
	Err        error
}

func (e *ResizeError) Error() string {
	return fmt.Sprintf("error resizing pty to %dx%d: %s", e.Rows, e.Cols, e.Err)
}

func (e *ResizeError) Unwrap() error { return e.Err }

// ReadError reports a failure of the pty output stream.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("error reading from pty: %s", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// DecodeError reports pty output that is not valid UTF-8. The offending bytes
// have been dropped; the next drain continues after them.
type DecodeError struct {
	Bytes []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding pty output: %s", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ExitError carries the exit code of the shell that ended the session.
type ExitError struct {
	Shell string
	Code  int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("shell %s exited with code %d", e.Shell, e.Code)
}
