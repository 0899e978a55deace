package command

import (
	"fmt"
	"os"
	"strings"

	ptyctx "github.com/owenthereal/ptyhost/internal/context"
	"github.com/owenthereal/ptyhost/internal/logging"
	"github.com/owenthereal/ptyhost/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "PTYHOST"

	// annotationConsoleLog marks commands that may log to stderr. Others
	// own the terminal and log to the log file only.
	annotationConsoleLog = "console-log"
)

type rootOptions struct {
	Debug     bool   `mapstructure:"debug"`
	LogFile   string `mapstructure:"log-file"`
	SentryDSN string `mapstructure:"sentry-dsn"`
}

// Execute runs the ptyhost CLI with the process arguments.
func Execute() error {
	r := &rootCmd{}
	defer r.close()

	return r.command().Execute()
}

// Root returns the command tree, e.g. for generating docs.
func Root() *cobra.Command {
	return (&rootCmd{}).command()
}

type rootCmd struct {
	logger *logging.Logger
}

func (r *rootCmd) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptyhost",
		Short: "Pseudo-terminal host for desktop clients",
		Long: `ptyhost owns a pseudo-terminal, runs an interactive shell on it and exposes
non-blocking write, resize and read operations over a local HTTP API.

When the shell exits, ptyhost exits with the shell's exit code.`,
		Example: `  # Serve a pty and start a shell in a repository:
  ptyhost serve --directory ~/src/app

  # Attach the current terminal to the running host:
  ptyhost attach`,
		SilenceUsage:      true,
		PersistentPreRunE: r.setup,
	}

	cmd.PersistentFlags().String("config", utils.ConfigFilePath(), "Config file.")
	cmd.PersistentFlags().Bool("debug", os.Getenv("DEBUG") != "", "Enable debug logging.")
	cmd.PersistentFlags().String("log-file", utils.LogFilePath(), "Log file.")
	cmd.PersistentFlags().String("sentry-dsn", "", "Report errors to Sentry.")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(attachCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func (r *rootCmd) setup(c *cobra.Command, args []string) error {
	var opts rootOptions
	if err := unmarshalFlags(c, &opts); err != nil {
		return err
	}

	logOpts := []logging.Option{
		logging.Sentry(opts.SentryDSN),
	}
	if opts.LogFile != "" {
		logOpts = append(logOpts, logging.File(opts.LogFile))
	}
	if c.Annotations[annotationConsoleLog] == "true" {
		logOpts = append(logOpts, logging.Console())
	} else if opts.LogFile == "" {
		logOpts = append(logOpts, logging.Writer(c.ErrOrStderr()))
	}
	if opts.Debug {
		logOpts = append(logOpts, logging.Debug())
	}

	logger, err := logging.New(logOpts...)
	if err != nil {
		return fmt.Errorf("error setting up logging: %w", err)
	}
	r.logger = logger

	c.SetContext(ptyctx.WithLogger(c.Context(), logger.With("cmd", c.Name())))

	return nil
}

func (r *rootCmd) close() {
	if r.logger != nil {
		_ = r.logger.Close()
	}
}

// unmarshalFlags decodes flags, PTYHOST_ environment variables and the config
// file into opts, in that priority.
func unmarshalFlags(cmd *cobra.Command, opts interface{}) error {
	v := viper.New()

	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flagName := flag.Name
		if flagName != "config" && flagName != "help" {
			if err := v.BindPFlag(flagName, flag); err != nil {
				panic(fmt.Errorf("error binding flag '%s': %w", flagName, err).Error())
			}
		}
	})

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)

	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgFile); err == nil {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error loading config file %s: %w", cfgFile, err)
		}
	}

	return v.Unmarshal(opts)
}
