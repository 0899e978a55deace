package main

import (
	"errors"
	"os"

	"github.com/owenthereal/ptyhost/cmd/ptyhost/command"
	"github.com/owenthereal/ptyhost/host"
)

func main() {
	err := command.Execute()

	var exitErr *host.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	if err != nil {
		os.Exit(1)
	}
}
