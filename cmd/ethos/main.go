// Command ethos builds Protocol IR artifacts from node RPC schemas and
// generates typed clients from them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/ethos/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	// Commands report their own failures; anything else is a usage error
	// raised by flag or argument parsing.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
