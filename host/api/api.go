// Package api defines the JSON wire format of the ptyhost invoke API and its
// output stream.
package api

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const (
	CommandCreateShell = "create_shell"
	CommandWriteToPty  = "write_to_pty"
	CommandReadFromPty = "read_from_pty"
	CommandResizePty   = "resize_pty"

	// AliasPrefix marks the command names used by the desktop UI, e.g.
	// async_write_to_pty.
	AliasPrefix = "async_"
)

// CanonicalCommand strips the alias prefix from name.
func CanonicalCommand(name string) string {
	return strings.TrimPrefix(name, AliasPrefix)
}

const (
	KindInvalidArgument  = "InvalidArgument"
	KindUnauthorized     = "Unauthorized"
	KindUnknownCommand   = "UnknownCommand"
	KindSpawn            = "SpawnError"
	KindInvalidDirectory = "InvalidDirectoryError"
	KindWrite            = "WriteError"
	KindResize           = "ResizeError"
	KindRead             = "ReadError"
	KindDecode           = "DecodeError"
	KindInternal         = "InternalError"
)

type CreateShellRequest struct {
	Directory string `json:"directory"`
}

type WriteRequest struct {
	Data *string `json:"data"`
}

func (r WriteRequest) Validate() error {
	if r.Data == nil {
		return fmt.Errorf("missing data")
	}

	return nil
}

type ResizeRequest struct {
	Rows *int `json:"rows"`
	Cols *int `json:"cols"`
}

// Validate reports every missing or out of range dimension at once.
func (r ResizeRequest) Validate() error {
	var result error
	result = validateDimension(result, "rows", r.Rows)
	result = validateDimension(result, "cols", r.Cols)

	return result
}

func validateDimension(result error, name string, v *int) error {
	switch {
	case v == nil:
		return multierror.Append(result, fmt.Errorf("missing %s", name))
	case *v < 0 || *v > math.MaxUint16:
		return multierror.Append(result, fmt.Errorf("%s %d out of range [0, %d]", name, *v, math.MaxUint16))
	}

	return result
}

// ReadResponse carries the drained output. Data is null when nothing was
// buffered.
type ReadResponse struct {
	Data *string `json:"data"`
}

type Empty struct{}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error is an invoke failure as seen by a client.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

const (
	FrameOutput = "output"
	FrameEvent  = "event"
	FrameError  = "error"
)

// Frame is a server to client message on the stream. Client to server
// messages are raw pty input.
type Frame struct {
	Type  string          `json:"type"`
	Data  string          `json:"data,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}
