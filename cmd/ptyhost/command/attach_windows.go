//go:build windows

package command

import (
	"context"
	"time"

	"github.com/owenthereal/ptyhost/client"
	"github.com/owenthereal/ptyhost/internal/logging"
	"golang.org/x/term"
)

const resizePollInterval = 250 * time.Millisecond

// watchResize polls the console size since Windows has no SIGWINCH.
func watchResize(ctx context.Context, logger *logging.Logger, cl *client.Client, fd int) error {
	lastW, lastH, _ := term.GetSize(fd)

	ticker := time.NewTicker(resizePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w, h, err := term.GetSize(fd)
			if err != nil || (w == lastW && h == lastH) {
				continue
			}
			lastW, lastH = w, h

			if err := resizeToTerminal(ctx, cl, fd); err != nil {
				logger.Warn("error resizing pty", "error", err)
			}
		}
	}
}
