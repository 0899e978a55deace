package host

const (
	// EventShellSpawned carries a ShellEvent.
	EventShellSpawned = "shell:spawned"
	// EventShellExited carries a ShellEvent with the exit code set.
	EventShellExited = "shell:exited"
	// EventPtyResized carries a ResizeEvent.
	EventPtyResized = "pty:resized"
)

type ShellEvent struct {
	ID        string `json:"id"`
	Pid       int    `json:"pid"`
	Directory string `json:"directory,omitempty"`
	Code      int    `json:"code"`
}

type ResizeEvent struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}
