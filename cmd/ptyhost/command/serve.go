package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/go-kit/kit/metrics/provider"
	"github.com/google/shlex"
	"github.com/hashicorp/go-multierror"
	"github.com/oklog/run"
	"github.com/olebedev/emitter"
	"github.com/owenthereal/ptyhost/host"
	ptyctx "github.com/owenthereal/ptyhost/internal/context"
	"github.com/owenthereal/ptyhost/internal/logging"
	"github.com/owenthereal/ptyhost/internal/version"
	uio "github.com/owenthereal/ptyhost/io"
	"github.com/owenthereal/ptyhost/server"
	"github.com/owenthereal/ptyhost/utils"
	"github.com/spf13/cobra"
)

const (
	eventCapacity = 16
	allEvents     = "*"
)

type serveOptions struct {
	Listen          string        `mapstructure:"listen"`
	Token           string        `mapstructure:"token"`
	Shell           string        `mapstructure:"shell"`
	Directory       string        `mapstructure:"directory"`
	Rows            int           `mapstructure:"rows"`
	Cols            int           `mapstructure:"cols"`
	BufferLimit     int           `mapstructure:"buffer-limit"`
	Transcript      string        `mapstructure:"transcript"`
	Notify          bool          `mapstructure:"notify"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	SessionFile     string        `mapstructure:"session-file"`
}

func (o serveOptions) validate() error {
	var result error

	if o.Listen == "" {
		result = multierror.Append(result, fmt.Errorf("missing flag --listen"))
	}
	if o.Rows <= 0 || o.Rows > math.MaxUint16 {
		result = multierror.Append(result, fmt.Errorf("--rows %d out of range [1, %d]", o.Rows, math.MaxUint16))
	}
	if o.Cols <= 0 || o.Cols > math.MaxUint16 {
		result = multierror.Append(result, fmt.Errorf("--cols %d out of range [1, %d]", o.Cols, math.MaxUint16))
	}
	if o.BufferLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("--buffer-limit must not be negative"))
	}
	if o.ShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("--shutdown-timeout must be positive"))
	}
	if o.Shell != "" {
		if _, err := shlex.Split(o.Shell); err != nil {
			result = multierror.Append(result, fmt.Errorf("error parsing --shell %q: %w", o.Shell, err))
		}
	}

	return result
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a pseudo-terminal over the local invoke API",
		Long: `Allocate a pseudo-terminal and serve it over a local HTTP API.

The API address and bearer token are written to the session file so local
clients such as 'ptyhost attach' can find the host. A shell is started when
--directory is given or when a client calls create_shell.

ptyhost exits with the exit code of its shell.`,
		Example: `  # Serve on a random loopback port and start a shell in the current directory:
  ptyhost serve --directory .

  # Use a fixed port and token, and keep a transcript of the session:
  ptyhost serve --listen 127.0.0.1:7681 --token s3cr3t --transcript /tmp/pty.log

  # Run zsh as a login shell:
  PTYHOST_SHELL="zsh -l" ptyhost serve`,
		Annotations: map[string]string{annotationConsoleLog: "true"},
		RunE:        serveRunE,
	}

	cmd.Flags().String("listen", "127.0.0.1:0", "Address of the invoke API.")
	cmd.Flags().String("token", "", "Bearer token of the invoke API. Generated when empty.")
	cmd.Flags().String("shell", "", "Shell command line. Defaults to bash or /bin/sh, and cmd.exe on Windows.")
	cmd.Flags().String("directory", "", "Start a shell in this directory at startup.")
	cmd.Flags().Int("rows", int(host.DefaultSize.Rows), "Initial pty rows.")
	cmd.Flags().Int("cols", int(host.DefaultSize.Cols), "Initial pty columns.")
	cmd.Flags().Int("buffer-limit", uio.DefaultBufferLimit, "Maximum bytes of output waiting to be read.")
	cmd.Flags().String("transcript", "", "Append all pty output to this file.")
	cmd.Flags().Bool("notify", false, "Show a desktop notification when the shell exits.")
	cmd.Flags().Duration("shutdown-timeout", 5*time.Second, "Time allowed for the API to shut down.")
	cmd.Flags().String("session-file", utils.SessionFilePath(), "Where to publish the API address and token.")

	return cmd
}

func serveRunE(c *cobra.Command, args []string) error {
	var opts serveOptions
	if err := unmarshalFlags(c, &opts); err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}

	logger := ptyctx.Logger(c.Context())

	var shell []string
	if opts.Shell != "" {
		shell, _ = shlex.Split(opts.Shell)
	}

	token := opts.Token
	if token == "" {
		token = utils.GenerateToken()
	}

	var transcript io.Writer
	if opts.Transcript != "" {
		f, err := os.OpenFile(opts.Transcript, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("error opening transcript: %w", err)
		}
		defer f.Close()
		transcript = f
	}

	eventEmitter := emitter.New(eventCapacity)

	sess, err := host.Open(host.Options{
		Size:         host.Size{Rows: uint16(opts.Rows), Cols: uint16(opts.Cols)},
		Shell:        shell,
		BufferLimit:  opts.BufferLimit,
		Transcript:   transcript,
		EventEmitter: eventEmitter,
		Logger:       logger.With("component", "session").Logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", opts.Listen, err)
	}

	if err := utils.WriteSessionFile(opts.SessionFile, utils.SessionFile{
		Addr:    ln.Addr().String(),
		Token:   token,
		Pid:     os.Getpid(),
		Version: version.String(),
	}); err != nil {
		_ = ln.Close()
		return err
	}
	defer os.Remove(opts.SessionFile)

	logger.Info("serving pty", "addr", ln.Addr().String(), "session_file", opts.SessionFile, "rows", opts.Rows, "cols", opts.Cols)

	if opts.Directory != "" {
		if err := sess.CreateShell(opts.Directory); err != nil {
			_ = ln.Close()
			return err
		}
	}

	srv := &server.Server{
		Session:         sess,
		Token:           token,
		EventEmitter:    eventEmitter,
		MetricsProvider: provider.NewPrometheusProvider("ptyhost", "host"),
		Logger:          logger.With("component", "server").Logger,
	}

	ctx, cancel := context.WithCancel(c.Context())
	defer cancel()

	var g run.Group
	{
		g.Add(func() error {
			return srv.Serve(ln)
		}, func(err error) {
			sctx, scancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("error shutting down api", "error", err)
			}
		})
	}
	{
		g.Add(func() error {
			return sess.WaitExit(ctx)
		}, func(err error) {
			cancel()
		})
	}
	{
		events := eventEmitter.On(allEvents)
		g.Add(func() error {
			logEvents(logger, events)
			return nil
		}, func(err error) {
			eventEmitter.Off(allEvents, events)
		})
	}
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	err = g.Run()

	var exitErr *host.ExitError
	if errors.As(err, &exitErr) {
		logger.Info("shell exited", "code", exitErr.Code)
		if opts.Notify {
			notifyExit(exitErr)
		}
		// The exit code is the result, not a failure to report.
		c.SilenceErrors = true
		return exitErr
	}

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info("shutting down", "signal", sigErr.Signal.String())
		return nil
	}

	return err
}

// logEvents logs session events until the listener is closed.
func logEvents(logger *logging.Logger, events <-chan emitter.Event) {
	for e := range events {
		var args []any
		if len(e.Args) > 0 {
			args = append(args, "event", e.Args[0])
		}
		logger.Info(e.OriginalTopic, args...)
	}
}

func notifyExit(e *host.ExitError) {
	_ = beeep.Notify("ptyhost", fmt.Sprintf("Shell exited with code %d", e.Code), "")
}
