//go:build !windows

package ftests

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/owenthereal/ptyhost/host"
	"github.com/owenthereal/ptyhost/host/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var HostTestCases = []FtestCase{
	testHostEcho,
	testHostResizeBeforeShell,
	testHostWorkingDirectory,
	testHostInvalidDirectory,
	testHostReadWithoutShell,
	testHostShellExit,
}

func testHostEcho(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, h.Client.CreateShell(ctx, ""))
	require.NoError(t, h.Client.Write(ctx, []byte("echo sum-$((40+2))\n")))

	_, err := h.ReadUntil(ctx, "sum-42")
	assert.NoError(t, err)
}

func testHostResizeBeforeShell(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, h.Client.Resize(ctx, 33, 111))
	require.NoError(t, h.Client.CreateShell(ctx, ""))
	require.NoError(t, h.Client.Write(ctx, []byte("echo size-$(stty size | tr ' ' x)\n")))

	_, err := h.ReadUntil(ctx, "size-33x111")
	assert.NoError(t, err)
}

func testHostWorkingDirectory(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker-file"), nil, 0600))

	require.NoError(t, h.Client.CreateShell(ctx, dir))
	require.NoError(t, h.Client.Write(ctx, []byte("ls\n")))

	// The typed command does not contain the file name, only ls output does.
	_, err = h.ReadUntil(ctx, "marker-file")
	assert.NoError(t, err)
}

func testHostInvalidDirectory(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := h.Client.CreateShell(ctx, filepath.Join(t.TempDir(), "missing"))

	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr), "want api error, got %v", err)
	assert.Equal(t, api.KindInvalidDirectory, apiErr.Kind)
	assert.Equal(t, 422, apiErr.Status)
}

func testHostReadWithoutShell(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := h.Client.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func testHostShellExit(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, h.Client.CreateShell(ctx, ""))
	require.NoError(t, h.Client.Write(ctx, []byte("exit 9\n")))

	err := h.Session.WaitExit(ctx)

	var exitErr *host.ExitError
	require.True(t, errors.As(err, &exitErr), "want ExitError, got %v", err)
	assert.Equal(t, 9, exitErr.Code)
}
