//go:build !windows

package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/owenthereal/ptyhost/client"
	"github.com/owenthereal/ptyhost/internal/logging"
)

// watchResize forwards terminal size changes to the host until ctx is done.
func watchResize(ctx context.Context, logger *logging.Logger, cl *client.Client, fd int) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			if err := resizeToTerminal(ctx, cl, fd); err != nil {
				logger.Warn("error resizing pty", "error", err)
			}
		}
	}
}
