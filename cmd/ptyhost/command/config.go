package command

import (
	"fmt"
	"os"

	"github.com/owenthereal/ptyhost/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ptyhost configuration",
		Long: fmt.Sprintf(`Manage the ptyhost configuration file.

Config file: %s

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (%s_ prefix)
  3. Config file
  4. Default values`, utils.ShortenHomePath(utils.ConfigFilePath()), envPrefix),
	}

	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configViewCmd())

	return cmd
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the path to the config file",
		Example: `  # Create the config directory:
  mkdir -p "$(dirname "$(ptyhost config path)")"`,
		RunE: func(c *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(c.OutOrStdout(), configPath(c))
			return err
		},
	}
}

func configViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "View the config file contents",
		Long: `View the config file contents.

When the config file does not exist, an example config is shown instead.`,
		Example: `  # Start a config from the example:
  ptyhost config view > "$(ptyhost config path)"`,
		RunE: configViewRunE,
	}
}

func configViewRunE(c *cobra.Command, args []string) error {
	path := configPath(c)
	out := c.OutOrStdout()

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Fprintln(out, "# Config file does not exist. Example config:")
		fmt.Fprintln(out)
		_, err = fmt.Fprint(out, exampleConfig())
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := validateConfig(path); err != nil {
		fmt.Fprintf(c.ErrOrStderr(), "warning: config file has syntax errors: %v\n", err)
	}

	_, err = out.Write(content)
	return err
}

// configPath honors --config so 'ptyhost --config x config view' shows x.
func configPath(c *cobra.Command) string {
	if f := c.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}

	return utils.ConfigFilePath()
}

func validateConfig(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	return v.ReadInConfig()
}

func exampleConfig() string {
	return `# ptyhost configuration file
#
# Settings here are overridden by environment variables (PTYHOST_*) and
# command-line flags.

# Debug logging (default: false)
# debug: true

# Log file (default: $XDG_STATE_HOME/ptyhost/ptyhost.log)
# log-file: /tmp/ptyhost.log

# Address of the invoke API (default: 127.0.0.1:0)
# listen: 127.0.0.1:7681

# Bearer token of the invoke API (default: generated per run)
# token: s3cr3t

# Shell command line (default: bash, then /bin/sh; cmd.exe on Windows)
# shell: zsh -l

# Initial pty size (default: 24x80)
# rows: 24
# cols: 80

# Maximum bytes of output waiting to be read (default: 1048576)
# buffer-limit: 1048576

# Append all pty output to a file (default: none)
# transcript: /tmp/ptyhost-transcript.log

# Desktop notification when the shell exits (default: false)
# notify: true

# Time allowed for the API to shut down (default: 5s)
# shutdown-timeout: 5s
`
}
