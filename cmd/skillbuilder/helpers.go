package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/presenter"
)

// exitWithError reports err and exits with status 1.
func exitWithError(err error, context string) {
	presenter.Error(err, context)
	os.Exit(1)
}

// readText returns arg, or all of in when arg is "-".
func readText(arg string, in io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", errors.Wrap(err, "failed to read standard input")
	}
	return strings.TrimSpace(string(data)), nil
}

// interruptContext returns a context cancelled by SIGINT or SIGTERM once
// confirm agrees. Declining keeps the command running until the next signal.
func interruptContext(parent context.Context, active func() bool, confirm func(string) bool) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if !active() || confirm("An agent is still running. Stop it and exit?") {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}
