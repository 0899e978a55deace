package internal

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrSupersedeTimeout = errors.New("timed out waiting for superseded shell to exit")

// ExitStatus is reported by the Reaper once a tracked child exits.
type ExitStatus struct {
	ID   string
	Pid  int
	Code int
	Err  error
}

// NewReaper returns a Reaper reporting exits of tracked children on Exited.
func NewReaper(logger *slog.Logger) *Reaper {
	return &Reaper{
		exited: make(chan ExitStatus, 1),
		logger: logger,
	}
}

// Reaper waits for spawned shells. At most one child is tracked at a time;
// only the tracked child's exit is reported. Waiting is never cancelled: a
// superseded child is still reaped, its status is just dropped.
type Reaper struct {
	mu      sync.Mutex
	current *watch

	exited  chan ExitStatus
	waiters sync.WaitGroup
	logger  *slog.Logger
}

type watch struct {
	child Child
	done  chan struct{}
}

// Watch starts tracking c and waits for it in the background.
func (r *Reaper) Watch(c Child) {
	w := &watch{child: c, done: make(chan struct{})}

	r.mu.Lock()
	r.current = w
	r.mu.Unlock()

	r.waiters.Add(1)
	go func() {
		defer r.waiters.Done()
		r.wait(w)
	}()
}

func (r *Reaper) wait(w *watch) {
	code, err := w.child.Wait()
	close(w.done)

	r.mu.Lock()
	tracked := r.current == w
	if tracked {
		r.current = nil
	}
	r.mu.Unlock()

	logger := r.logger.With("shell", w.child.ID(), "pid", w.child.Pid(), "code", code)
	if !tracked {
		logger.Debug("superseded shell exited")
		return
	}

	if err != nil {
		logger.Error("error waiting for shell", "error", err)
	} else {
		logger.Info("shell exited")
	}

	st := ExitStatus{
		ID:   w.child.ID(),
		Pid:  w.child.Pid(),
		Code: code,
		Err:  err,
	}
	select {
	case r.exited <- st:
	default:
		// An earlier exit is still unread.
		logger.Warn("dropping shell exit, previous exit not consumed")
	}
}

// Supersede stops tracking the current child, kills it and waits up to
// timeout for it to be reaped. It is a no-op when nothing is tracked.
func (r *Reaper) Supersede(timeout time.Duration) error {
	r.mu.Lock()
	w := r.current
	r.current = nil
	r.mu.Unlock()

	if w == nil {
		return nil
	}

	r.logger.Info("superseding shell", "shell", w.child.ID(), "pid", w.child.Pid())
	if err := w.child.Kill(); err != nil {
		select {
		case <-w.done:
			return nil
		default:
		}
		return err
	}

	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return ErrSupersedeTimeout
	}
}

// tracked reports whether a child is currently tracked.
func (r *Reaper) tracked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current != nil
}

// Exited delivers the exit status of tracked children. It buffers one
// status; exits reported while it is full are dropped.
func (r *Reaper) Exited() <-chan ExitStatus {
	return r.exited
}
