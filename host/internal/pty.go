package internal

import (
	"io"
)

// Size is the window size of a pseudo-terminal.
type Size struct {
	Rows        uint16
	Cols        uint16
	PixelWidth  uint16
	PixelHeight uint16
}

// PTY is the host side of a pseudo-terminal pair. Reads and writes go to the
// master; the slave end stays inside the implementation and is only handed to
// processes started with Spawn.
type PTY interface {
	io.ReadWriteCloser
	Setsize(size Size) error
	Spawn(c *Command) (Child, error)
}

// Child is a process attached to the slave side of a PTY.
type Child interface {
	ID() string
	Pid() int
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	Kill() error
}

// Open allocates a new pseudo-terminal pair with the given initial size.
func Open(size Size) (PTY, error) {
	return openPty(size)
}
