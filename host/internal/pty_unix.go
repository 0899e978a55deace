//go:build !windows

package internal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	ptylib "github.com/creack/pty"
	"github.com/rs/xid"
)

func openPty(size Size) (PTY, error) {
	master, slave, err := ptylib.Open()
	if err != nil {
		return nil, err
	}

	p := &pty{master: master, slave: slave}
	if err := p.Setsize(size); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("error setting initial pty size: %w", err)
	}

	return p, nil
}

// pty keeps both ends of the pair open for the whole session so that shells
// can be spawned on the slave at any time. The RWMutex guards the file
// handles against Close; Read is left unguarded because the output pump may
// be blocked in it when the session is torn down.
type pty struct {
	master *os.File
	slave  *os.File
	closed bool
	sync.RWMutex
}

func (p *pty) Read(b []byte) (int, error) {
	n, err := p.master.Read(b)
	return n, ptyError(err)
}

func (p *pty) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

func (p *pty) Setsize(size Size) error {
	p.RLock()
	defer p.RUnlock()

	if p.closed {
		return os.ErrClosed
	}

	return ptylib.Setsize(p.master, &ptylib.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
		X:    size.PixelWidth,
		Y:    size.PixelHeight,
	})
}

func (p *pty) Spawn(c *Command) (Child, error) {
	p.RLock()
	defer p.RUnlock()

	if p.closed {
		return nil, os.ErrClosed
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = p.slave
	cmd.Stdout = p.slave
	cmd.Stderr = p.slave
	// Ctty 0 is the child's stdin, which is the slave.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &child{id: xid.New().String(), cmd: cmd}, nil
}

func (p *pty) Close() error {
	p.Lock()
	defer p.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	// Closing the slave first makes a master read blocked in the kernel
	// return EIO.
	return errors.Join(p.slave.Close(), p.master.Close())
}

// Linux kernel return EIO when attempting to read from a master pseudo
// terminal which no longer has an open slave. Report it as end of stream.
// See https://github.com/creack/pty/issues/21
func ptyError(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && pathErr.Err == syscall.EIO {
		return io.EOF
	}

	return err
}

type child struct {
	id  string
	cmd *exec.Cmd
}

func (c *child) ID() string {
	return c.id
}

func (c *child) Pid() int {
	return c.cmd.Process.Pid
}

func (c *child) Wait() (int, error) {
	err := c.cmd.Wait()
	if c.cmd.ProcessState == nil {
		return -1, err
	}

	if ws, ok := c.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return c.cmd.ProcessState.ExitCode(), err
	}

	return c.cmd.ProcessState.ExitCode(), nil
}

func (c *child) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}

	return c.cmd.Process.Kill()
}
