package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Witriol/bgxfer/internal/client"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, describeError(err))
		}
		stop()
		os.Exit(1)
	}
}

func versionString() string {
	if version == "" {
		return "bgxfer (dev)"
	}
	return "bgxfer " + version
}

// describeError prefixes err with its category.
func describeError(err error) string {
	switch {
	case client.IsCommunication(err):
		return "communication error: " + err.Error()
	case client.IsExecution(err):
		return "execution error: " + err.Error()
	default:
		return "error: " + err.Error()
	}
}
