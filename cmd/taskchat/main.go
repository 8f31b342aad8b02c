// Package main is the entry point for the taskchat CLI.
package main

import (
	"context"
	"log"
	"os"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"taskchat/internal/cli"
	"taskchat/internal/commands"
)

func main() {
	psi.Run(submain)
}

// submain runs with a context that psi cancels on SIGINT or SIGTERM.
func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, cli.DefaultFactory)
	return dispatcher.Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}
