package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gorilla/websocket"
	"github.com/oklog/run"
	"github.com/owenthereal/ptyhost/client"
	"github.com/owenthereal/ptyhost/host"
	"github.com/owenthereal/ptyhost/host/api"
	ptyctx "github.com/owenthereal/ptyhost/internal/context"
	"github.com/owenthereal/ptyhost/internal/logging"
	"github.com/owenthereal/ptyhost/internal/version"
	uio "github.com/owenthereal/ptyhost/io"
	"github.com/owenthereal/ptyhost/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type attachOptions struct {
	Addr        string `mapstructure:"addr"`
	Token       string `mapstructure:"token"`
	SessionFile string `mapstructure:"session-file"`
	CreateShell bool   `mapstructure:"create-shell"`
	Directory   string `mapstructure:"directory"`
}

func attachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach the terminal to a running host",
		Long: `Attach the current terminal to a running ptyhost.

Keystrokes are written to the host's pty and its output is printed until the
shell exits. The host address and token are read from the session file unless
--addr and --token are given.`,
		Example: `  # Attach to the host started by 'ptyhost serve':
  ptyhost attach

  # Start a shell in /tmp and attach to it:
  ptyhost attach --create-shell --directory /tmp

  # Attach to an explicit address:
  ptyhost attach --addr 127.0.0.1:7681 --token s3cr3t`,
		RunE: attachRunE,
	}

	cmd.Flags().String("addr", "", "Address of the host. Read from the session file when empty.")
	cmd.Flags().String("token", "", "Bearer token of the host. Read from the session file when empty.")
	cmd.Flags().String("session-file", utils.SessionFilePath(), "Session file written by 'ptyhost serve'.")
	cmd.Flags().Bool("create-shell", false, "Start a shell before attaching.")
	cmd.Flags().String("directory", "", "Working directory of the shell started with --create-shell.")

	return cmd
}

func attachRunE(c *cobra.Command, args []string) error {
	var opts attachOptions
	if err := unmarshalFlags(c, &opts); err != nil {
		return err
	}

	if opts.Addr == "" || opts.Token == "" {
		sf, err := utils.ReadSessionFile(opts.SessionFile)
		if err != nil {
			return fmt.Errorf("no running host found, start one with 'ptyhost serve': %w", err)
		}
		if opts.Addr == "" {
			opts.Addr = sf.Addr
		}
		if opts.Token == "" {
			opts.Token = sf.Token
		}
	}

	ctx := c.Context()
	logger := ptyctx.Logger(ctx)

	cl := client.New(opts.Addr, opts.Token, client.WithLogger(logger.With("component", "client").Logger))
	health, err := cl.WaitReady(ctx)
	if err != nil {
		return fmt.Errorf("host at %s is not ready: %w", opts.Addr, err)
	}

	if result := version.CheckCompatibility(health.Version); !result.Compatible {
		fmt.Fprintf(c.ErrOrStderr(), "warning: %s\n", result.Message)
	}

	if opts.CreateShell {
		if err := cl.CreateShell(ctx, opts.Directory); err != nil {
			return err
		}
	}

	stream, err := cl.Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	err = attach(ctx, logger, cl, stream, os.Stdin, c.OutOrStdout())

	var exitErr *host.ExitError
	if errors.As(err, &exitErr) {
		c.SilenceErrors = true
	}

	return err
}

func attach(ctx context.Context, logger *logging.Logger, cl *client.Client, stream *client.Stream, stdin *os.File, stdout io.Writer) error {
	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("unable to set terminal to raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, oldState) }()

		if err := resizeToTerminal(ctx, cl, fd); err != nil {
			logger.Warn("error setting initial size", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	{
		// output
		g.Add(func() error {
			return copyFrames(logger, stream, stdout)
		}, func(err error) {
			_ = stream.Close()
		})
	}
	{
		// input
		g.Add(func() error {
			if _, err := io.Copy(stream, uio.NewContextReader(ctx, stdin)); err != nil {
				return err
			}
			// Keep printing output after stdin ends.
			<-ctx.Done()
			return ctx.Err()
		}, func(err error) {
			cancel()
		})
	}
	if term.IsTerminal(fd) {
		g.Add(func() error {
			return watchResize(ctx, logger, cl, fd)
		}, func(err error) {
			cancel()
		})
	}

	err := g.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// copyFrames prints output frames until the shell exits or the host closes
// the stream.
func copyFrames(logger *logging.Logger, stream *client.Stream, w io.Writer) error {
	for {
		f, err := stream.Next()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("error reading stream: %w", err)
		}

		switch f.Type {
		case api.FrameOutput:
			if _, err := io.WriteString(w, f.Data); err != nil {
				return err
			}
		case api.FrameEvent:
			if f.Topic != host.EventShellExited {
				continue
			}
			var e host.ShellEvent
			if err := json.Unmarshal(f.Event, &e); err != nil {
				return fmt.Errorf("error decoding exit event: %w", err)
			}
			return &host.ExitError{Shell: e.ID, Code: e.Code}
		case api.FrameError:
			if f.Error != nil {
				logger.Warn("stream error", "kind", f.Error.Kind, "message", f.Error.Message)
			}
		}
	}
}

func resizeToTerminal(ctx context.Context, cl *client.Client, fd int) error {
	w, h, err := term.GetSize(fd)
	if err != nil {
		return err
	}

	return cl.Resize(ctx, uint16(h), uint16(w))
}
