//go:build !windows

package ftests

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/owenthereal/ptyhost/host"
	"github.com/owenthereal/ptyhost/host/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var StreamTestCases = []FtestCase{
	testStreamInputOutput,
	testStreamExitEvent,
	testStreamLastOutputBeforeExit,
}

func testStreamInputOutput(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := h.Client.Stream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, h.Client.CreateShell(ctx, ""))
	_, err = stream.Write([]byte("echo stream-$((3*3))\n"))
	require.NoError(t, err)

	var out strings.Builder
	for !strings.Contains(out.String(), "stream-9") {
		f, err := stream.Next()
		require.NoError(t, err, "output so far: %q", out.String())
		if f.Type == api.FrameOutput {
			out.WriteString(f.Data)
		}
	}
}

func testStreamExitEvent(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := h.Client.Stream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	go func() {
		_ = h.Session.WaitExit(ctx)
	}()

	require.NoError(t, h.Client.CreateShell(ctx, ""))
	require.NoError(t, h.Client.Write(ctx, []byte("exit 4\n")))

	for {
		f, err := stream.Next()
		require.NoError(t, err)
		if f.Type != api.FrameEvent || f.Topic != host.EventShellExited {
			continue
		}

		var e host.ShellEvent
		require.NoError(t, json.Unmarshal(f.Event, &e))
		assert.Equal(t, 4, e.Code)
		return
	}
}

func testStreamLastOutputBeforeExit(t *testing.T, h *Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := h.Client.Stream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	go func() {
		_ = h.Session.WaitExit(ctx)
	}()

	require.NoError(t, h.Client.CreateShell(ctx, ""))
	// With echo off only printf can produce BYEMARK.
	require.NoError(t, h.Client.Write(ctx, []byte("stty -echo; printf 'BYE%s\\n' MARK; exit 0\n")))

	var out strings.Builder
	for {
		f, err := stream.Next()
		require.NoError(t, err)
		if f.Type == api.FrameOutput {
			out.WriteString(f.Data)
			continue
		}
		if f.Type == api.FrameEvent && f.Topic == host.EventShellExited {
			break
		}
	}

	assert.Contains(t, out.String(), "BYEMARK", "last output should arrive before the exit event")
}
