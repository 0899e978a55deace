package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/olebedev/emitter"
	"github.com/owenthereal/ptyhost/host/internal"
	uio "github.com/owenthereal/ptyhost/io"
)

const defaultSupersedeTimeout = 2 * time.Second

// Size is the window size of the session's pty.
type Size = internal.Size

// DefaultSize is the pty size at startup.
var DefaultSize = Size{Rows: 24, Cols: 80}

var errNotDirectory = errors.New("not a directory")

type Options struct {
	// Size is the initial pty size. Zero rows or cols mean DefaultSize.
	Size Size
	// Shell overrides the shell program and arguments.
	Shell []string
	// BufferLimit bounds the output waiting to be drained.
	BufferLimit int
	// Transcript receives a copy of all pty output.
	Transcript io.Writer
	// SupersedeTimeout bounds how long CreateShell waits for a replaced
	// shell to exit.
	SupersedeTimeout time.Duration
	EventEmitter     *emitter.Emitter
	Logger           *slog.Logger
}

// Session owns the pty of a running host and the shell attached to it.
//
// The pty, its writer and its output reader are guarded independently, so a
// resize, a write and a drain never wait on each other.
type Session struct {
	// spawnMu serializes shell replacement.
	spawnMu sync.Mutex

	ptyMu sync.Mutex
	pty   internal.PTY
	spec  internal.ShellSpec

	writeMu sync.Mutex

	readMu sync.Mutex
	reader *uio.DrainBuffer

	reaper           *internal.Reaper
	supersedeTimeout time.Duration
	pumpDone         chan struct{}

	eventEmitter *emitter.Emitter
	logger       *slog.Logger
}

// Open allocates the session's pty and starts draining its output. No shell is
// started until CreateShell is called.
func Open(opts Options) (*Session, error) {
	if opts.Size.Rows == 0 || opts.Size.Cols == 0 {
		opts.Size = DefaultSize
	}

	p, err := internal.Open(opts.Size)
	if err != nil {
		return nil, &AllocationError{Err: err}
	}

	return newSession(p, internal.DefaultShellSpec(opts.Shell), opts), nil
}

func newSession(p internal.PTY, spec internal.ShellSpec, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.SupersedeTimeout <= 0 {
		opts.SupersedeTimeout = defaultSupersedeTimeout
	}

	s := &Session{
		pty:              p,
		spec:             spec,
		reader:           uio.NewDrainBuffer(opts.BufferLimit),
		reaper:           internal.NewReaper(logger.With("component", "reaper")),
		supersedeTimeout: opts.SupersedeTimeout,
		pumpDone:         make(chan struct{}),
		eventEmitter:     opts.EventEmitter,
		logger:           logger,
	}

	out := uio.NewMultiWriter(s.reader)
	out.OnTapError = func(w io.Writer, err error) {
		logger.Warn("dropping transcript", "error", err)
	}
	if opts.Transcript != nil {
		out.Append(opts.Transcript)
	}

	go s.pump(out)

	return s
}

// pump copies pty output into the drain buffer until the pty is closed.
func (s *Session) pump(out io.Writer) {
	defer close(s.pumpDone)

	_, err := io.Copy(out, s.pty)
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	if err != nil {
		s.logger.Error("error reading pty output", "error", err)
	} else {
		s.logger.Debug("pty output ended")
	}

	s.reader.CloseWithError(err)
}

// CreateShell spawns a shell in directory, attached to the pty. A shell that
// is already running is replaced: it is killed and its exit no longer ends
// the session.
func (s *Session) CreateShell(directory string) error {
	if directory != "" {
		fi, err := os.Stat(directory)
		if err != nil {
			return &InvalidDirectoryError{Dir: directory, Err: err}
		}
		if !fi.IsDir() {
			return &InvalidDirectoryError{Dir: directory, Err: errNotDirectory}
		}
	}

	cmd := s.spec.Command(directory, os.Environ())
	// Fail before touching a running shell.
	if _, err := exec.LookPath(cmd.Path); err != nil {
		return &SpawnError{Shell: cmd.Path, Err: err}
	}

	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()

	// The old shell is stopped without the pty guard so resizes go on.
	if err := s.reaper.Supersede(s.supersedeTimeout); err != nil {
		s.logger.Warn("error superseding shell", "error", err)
	}

	s.ptyMu.Lock()
	child, err := s.pty.Spawn(cmd)
	if err == nil {
		s.reaper.Watch(child)
	}
	s.ptyMu.Unlock()
	if err != nil {
		return &SpawnError{Shell: cmd.Path, Err: err}
	}

	s.logger.Info("spawned shell", "shell", child.ID(), "pid", child.Pid(), "cmd", cmd.Path, "dir", directory)
	s.emit(EventShellSpawned, ShellEvent{ID: child.ID(), Pid: child.Pid(), Directory: directory})

	return nil
}

// Write writes p to the shell's input.
func (s *Session) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.pty.Write(p); err != nil {
		return &WriteError{Err: err}
	}

	return nil
}

// Resize sets the pty window size. It is valid before any shell exists.
func (s *Session) Resize(rows, cols uint16) error {
	s.ptyMu.Lock()
	defer s.ptyMu.Unlock()

	if err := s.pty.Setsize(Size{Rows: rows, Cols: cols}); err != nil {
		return &ResizeError{Rows: rows, Cols: cols, Err: err}
	}

	s.emit(EventPtyResized, ResizeEvent{Rows: rows, Cols: cols})

	return nil
}

// DrainRead returns the shell output buffered since the last call without
// waiting for more. It returns nil, nil when there is nothing to read.
func (s *Session) DrainRead() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	b, err := s.reader.Drain()
	if err != nil {
		var invalid *uio.InvalidUTF8Error
		if errors.As(err, &invalid) {
			return nil, &DecodeError{Bytes: invalid.Bytes, Err: err}
		}

		return nil, &ReadError{Err: err}
	}

	return b, nil
}

// WaitExit blocks until the tracked shell exits or ctx is done. The exit is
// returned as an *ExitError.
func (s *Session) WaitExit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case st := <-s.reaper.Exited():
		done := s.emit(EventShellExited, ShellEvent{ID: st.ID, Pid: st.Pid, Code: st.Code})
		// Let listeners see the exit before the caller tears things down.
		select {
		case <-done:
		case <-ctx.Done():
		case <-time.After(s.supersedeTimeout):
		}
		return &ExitError{Shell: st.ID, Code: st.Code}
	}
}

// Close kills a running shell without reporting its exit and releases the
// pty.
func (s *Session) Close() error {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()

	if err := s.reaper.Supersede(s.supersedeTimeout); err != nil {
		s.logger.Warn("error stopping shell", "error", err)
	}

	s.ptyMu.Lock()
	err := s.pty.Close()
	s.ptyMu.Unlock()
	// Unblock the pump if it is waiting for buffer space.
	s.reader.CloseWithError(nil)

	select {
	case <-s.pumpDone:
	case <-time.After(s.supersedeTimeout):
		s.logger.Warn("pty output still open after close")
	}

	if err != nil {
		return fmt.Errorf("error closing pty: %w", err)
	}

	return nil
}

func (s *Session) emit(topic string, args ...interface{}) <-chan struct{} {
	if s.eventEmitter == nil {
		done := make(chan struct{})
		close(done)
		return done
	}

	return s.eventEmitter.Emit(topic, args...)
}
