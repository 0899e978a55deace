//go:build windows

package internal

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"github.com/charmbracelet/x/conpty"
	"github.com/rs/xid"
	"golang.org/x/sys/windows"
)

// Windows API proc handles (cached to avoid repeated lazy DLL loading)
var (
	modkernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procSetInformationJobObject = modkernel32.NewProc("SetInformationJobObject")
)

// openPty creates a pseudo console. ConPTY has no slave file; processes are
// attached to the console when they are spawned.
func openPty(size Size) (PTY, error) {
	cpty, err := conpty.New(int(size.Cols), int(size.Rows), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create conpty: %w", err)
	}

	return &pty{cpty: cpty}, nil
}

type pty struct {
	cpty   *conpty.ConPty
	closed bool
	sync.RWMutex
}

func (p *pty) Setsize(size Size) error {
	p.RLock()
	defer p.RUnlock()

	if p.closed {
		return io.ErrClosedPipe
	}

	// ConPTY has no notion of pixel dimensions.
	return p.cpty.Resize(int(size.Cols), int(size.Rows))
}

func (p *pty) Read(data []byte) (int, error) {
	p.RLock()
	closed, cpty := p.closed, p.cpty
	p.RUnlock()

	if closed {
		return 0, io.EOF
	}

	return cpty.Read(data)
}

func (p *pty) Write(data []byte) (int, error) {
	p.RLock()
	closed, cpty := p.closed, p.cpty
	p.RUnlock()

	if closed {
		return 0, io.ErrClosedPipe
	}

	return cpty.Write(data)
}

func (p *pty) Spawn(c *Command) (Child, error) {
	p.RLock()
	defer p.RUnlock()

	if p.closed {
		return nil, io.ErrClosedPipe
	}

	path, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, err
	}

	pid, handle, err := p.cpty.Spawn(path, append([]string{path}, c.Args...), &syscall.ProcAttr{
		Dir: c.Dir,
		Env: c.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to spawn process: %w", err)
	}

	// The job object kills the whole process tree of the shell when it is
	// closed, matching the session semantics of the slave on unix.
	job, err := createJobObject(syscall.Handle(handle))
	if err != nil {
		_ = syscall.TerminateProcess(syscall.Handle(handle), 1)
		_ = syscall.CloseHandle(syscall.Handle(handle))
		return nil, fmt.Errorf("failed to create job object: %w", err)
	}

	return &child{
		id:     xid.New().String(),
		pid:    pid,
		handle: syscall.Handle(handle),
		job:    job,
	}, nil
}

func (p *pty) Close() error {
	p.Lock()
	defer p.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.cpty.Close()
}

type child struct {
	id     string
	pid    int
	handle syscall.Handle
	job    syscall.Handle

	mu       sync.Mutex
	released bool
}

func (c *child) ID() string {
	return c.id
}

func (c *child) Pid() int {
	return c.pid
}

func (c *child) Wait() (int, error) {
	defer c.release()

	s, err := syscall.WaitForSingleObject(c.handle, syscall.INFINITE)
	if err != nil {
		return -1, fmt.Errorf("WaitForSingleObject failed: %w", err)
	}
	if s != 0 {
		return -1, fmt.Errorf("WaitForSingleObject returned %d", s)
	}

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(c.handle, &exitCode); err != nil {
		return -1, fmt.Errorf("GetExitCodeProcess failed: %w", err)
	}

	return int(exitCode), nil
}

func (c *child) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil
	}

	if err := syscall.TerminateProcess(c.handle, 1); err != nil {
		return fmt.Errorf("TerminateProcess failed: %w", err)
	}

	return nil
}

func (c *child) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return
	}
	c.released = true

	_ = syscall.CloseHandle(c.job)
	_ = syscall.CloseHandle(c.handle)
}

// Windows job object structures and constants
const (
	jobObjectExtendedLimitInformation = 9
	jobObjectLimitKillOnJobClose      = 0x2000
)

type jobObjectBasicLimitInformation struct {
	PerProcessUserTimeLimit int64
	PerJobUserTimeLimit     int64
	LimitFlags              uint32
	MinimumWorkingSetSize   uintptr
	MaximumWorkingSetSize   uintptr
	ActiveProcessLimit      uint32
	Affinity                uintptr
	PriorityClass           uint32
	SchedulingClass         uint32
}

type ioCounters struct {
	ReadOperationCount  uint64
	WriteOperationCount uint64
	OtherOperationCount uint64
	ReadTransferCount   uint64
	WriteTransferCount  uint64
	OtherTransferCount  uint64
}

type jobObjectExtendedLimitInformationT struct {
	BasicLimitInformation jobObjectBasicLimitInformation
	IoInfo                ioCounters
	ProcessMemoryLimit    uintptr
	JobMemoryLimit        uintptr
	PeakProcessMemoryUsed uintptr
	PeakJobMemoryUsed     uintptr
}

// createJobObject creates a KILL_ON_JOB_CLOSE job object and assigns the
// process to it.
func createJobObject(processHandle syscall.Handle) (syscall.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, fmt.Errorf("CreateJobObject failed: %w", err)
	}

	var info jobObjectExtendedLimitInformationT
	info.BasicLimitInformation.LimitFlags = jobObjectLimitKillOnJobClose

	ret, _, err := procSetInformationJobObject.Call(
		uintptr(job),
		uintptr(jobObjectExtendedLimitInformation),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Sizeof(info)),
	)
	if ret == 0 {
		_ = windows.CloseHandle(job)
		if err != nil {
			return 0, fmt.Errorf("SetInformationJobObject failed: %w", err)
		}
		return 0, fmt.Errorf("SetInformationJobObject failed")
	}

	if err := windows.AssignProcessToJobObject(job, windows.Handle(processHandle)); err != nil {
		_ = windows.CloseHandle(job)
		return 0, fmt.Errorf("AssignProcessToJobObject failed: %w", err)
	}

	return syscall.Handle(job), nil
}
