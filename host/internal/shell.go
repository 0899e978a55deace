package internal

import (
	"os/exec"
	"runtime"
	"strings"
)

const (
	posixTerm   = "xterm-256color"
	windowsTerm = "cygwin"

	windowsShell = "cmd.exe"
)

// Command is a fully specified process descriptor. Args does not include the
// program name.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// ShellSpec builds the command used to start an interactive shell.
type ShellSpec interface {
	Command(dir string, environ []string) *Command
}

// PosixShellSpec starts a POSIX shell with TERM set for an ANSI terminal.
type PosixShellSpec struct {
	Shell string
	Args  []string
}

func (s PosixShellSpec) Command(dir string, environ []string) *Command {
	shell := s.Shell
	if shell == "" {
		shell = defaultPosixShell()
	}

	return &Command{
		Path: shell,
		Args: s.Args,
		Dir:  dir,
		Env:  withTerm(environ, posixTerm),
	}
}

// WindowsShellSpec starts the Windows command interpreter.
type WindowsShellSpec struct {
	Shell string
	Args  []string
}

func (s WindowsShellSpec) Command(dir string, environ []string) *Command {
	shell := s.Shell
	if shell == "" {
		shell = windowsShell
	}

	return &Command{
		Path: shell,
		Args: s.Args,
		Dir:  dir,
		Env:  withTerm(environ, windowsTerm),
	}
}

// DefaultShellSpec selects the shell variant for the running platform. A
// non-empty shell overrides the program and its arguments.
func DefaultShellSpec(shell []string) ShellSpec {
	return shellSpecFor(runtime.GOOS, shell)
}

func shellSpecFor(goos string, shell []string) ShellSpec {
	var name string
	var args []string
	if len(shell) > 0 {
		name, args = shell[0], shell[1:]
	}

	if goos == "windows" {
		return WindowsShellSpec{Shell: name, Args: args}
	}

	return PosixShellSpec{Shell: name, Args: args}
}

func defaultPosixShell() string {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}

	return "/bin/sh"
}

// withTerm returns a copy of environ with TERM replaced by term.
func withTerm(environ []string, term string) []string {
	env := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if strings.HasPrefix(kv, "TERM=") {
			continue
		}
		env = append(env, kv)
	}

	return append(env, "TERM="+term)
}
