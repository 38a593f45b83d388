// Package main implements the intentguard CLI: natural-language assertions about code,
// checked by a quorum of local model evaluations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(newApp()).ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errVerdictFailed):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(2)
	}
}
