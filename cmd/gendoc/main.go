package main

import (
	"log/slog"
	"os"

	"github.com/owenthereal/ptyhost/cmd/ptyhost/command"
	"github.com/owenthereal/ptyhost/internal/version"
	"github.com/spf13/cobra/doc"
)

func main() {
	rootCmd := command.Root()
	rootCmd.DisableAutoGenTag = true

	for _, dir := range []string{"./docs", "./etc/man/man1", "./etc/completion"} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fatal(err)
		}
	}

	if err := doc.GenMarkdownTree(rootCmd, "./docs"); err != nil {
		fatal(err)
	}

	header := &doc.GenManHeader{
		Title:   "PTYHOST",
		Section: "1",
		Source:  "ptyhost " + version.String(),
		Manual:  "ptyhost Manual",
	}
	if err := doc.GenManTree(rootCmd, header, "./etc/man/man1"); err != nil {
		fatal(err)
	}

	if err := rootCmd.GenBashCompletionFile("./etc/completion/ptyhost.bash_completion.sh"); err != nil {
		fatal(err)
	}
	if err := rootCmd.GenZshCompletionFile("./etc/completion/ptyhost.zsh_completion"); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	slog.Error("error generating docs", "error", err)
	os.Exit(1)
}
