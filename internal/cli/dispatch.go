// Package cli parses the command line and dispatches to commands.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"pkt.systems/pslog"

	"taskchat/internal/app"
	"taskchat/internal/commands"
	"taskchat/internal/config"
	"taskchat/internal/exitcode"
	"taskchat/internal/service"
)

// AppFactory builds the App for commands that need one.
// Tests inject one wired to a fake service.
type AppFactory func(ctx context.Context, cfg *config.Config) (*app.App, error)

// DefaultFactory builds the App from config.
func DefaultFactory(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg, app.Options{})
}

// Dispatcher handles command-line parsing and dispatch.
type Dispatcher struct {
	registry *commands.Registry
	factory  AppFactory
}

// NewDispatcher creates a new dispatcher with the given registry and app factory.
// A nil factory means DefaultFactory.
func NewDispatcher(registry *commands.Registry, factory AppFactory) *Dispatcher {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Dispatcher{
		registry: registry,
		factory:  factory,
	}
}

// Run parses arguments and dispatches to the appropriate command.
// Returns the exit code.
func (d *Dispatcher) Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	// No args -> dispatch to "list" command with no args
	if len(args) == 0 {
		args = []string{"list"}
	}

	cmdName := args[0]

	// Flags require a command
	if strings.HasPrefix(cmdName, "-") {
		fmt.Fprintf(errOut, "error: unknown command: %s\n", cmdName)
		return exitcode.UserError
	}

	cmd, ok := d.registry.Find(cmdName)
	if !ok {
		fmt.Fprintf(errOut, "error: unknown command: %s\n", cmdName)
		return exitcode.UserError
	}

	return d.dispatchCommand(ctx, cmd, args[1:], in, out, errOut)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, cmd commands.Command, args []string, in io.Reader, out, errOut io.Writer) int {
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard) // We handle errors ourselves

	// Common flags
	var configDir string
	var quiet bool
	var debug bool

	fs.StringVar(&configDir, "config", "", "")
	fs.BoolVar(&quiet, "quiet", false, "")
	fs.BoolVar(&debug, "debug", false, "")

	cmd.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(errOut, "error: %s\n", flagError(err))
		return exitcode.UserError
	}

	// Check if first positional arg starts with - (should have been parsed as flag)
	positionalArgs := fs.Args()
	if len(positionalArgs) > 0 && strings.HasPrefix(positionalArgs[0], "-") {
		fmt.Fprintf(errOut, "error: unknown flag: %s\n", positionalArgs[0])
		return exitcode.UserError
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return exitcode.UserError
	}
	cfg.Quiet = quiet
	cfg.Debug = debug

	if debug {
		ctx = pslog.ContextWithLogger(ctx, pslog.NewWithOptions(errOut, pslog.Options{
			Mode:     pslog.ModeConsole,
			MinLevel: pslog.DebugLevel,
		}))
	}

	env := &commands.Env{Config: cfg, In: in, Out: out, Err: errOut}
	if !cmd.NeedsApp() {
		return cmd.Run(ctx, env, positionalArgs)
	}

	a, err := d.factory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return exitcode.BackendError
	}
	defer func() {
		if err := a.Close(); err != nil {
			pslog.Ctx(ctx).Warn("close failed", "err", err)
		}
	}()
	env.App = a

	if cmd.NeedsAuth() {
		if code, ok := requireSession(a.Sessions.Current(), errOut); !ok {
			return code
		}
	}

	// A request rejected mid-command ends the session; tell the user how to
	// get a new one.
	cancel := a.Sessions.Subscribe(func(s service.Session) {
		if s.Status == service.Expired {
			fmt.Fprintln(errOut, "session expired (run: taskchat login <email>)")
		}
	})
	defer cancel()

	return cmd.Run(ctx, env, positionalArgs)
}

func requireSession(sess service.Session, errOut io.Writer) (int, bool) {
	if sess.Authenticated() {
		return exitcode.Success, true
	}
	fmt.Fprintln(errOut, "error: not logged in (run: taskchat login <email>)")
	return exitcode.AuthError, false
}

// flagError rewrites flag package errors into the CLI's wording.
func flagError(err error) string {
	errStr := err.Error()
	switch {
	case strings.HasPrefix(errStr, "flag needs an argument:"):
		return "flag needs an argument: " + strings.TrimSpace(strings.TrimPrefix(errStr, "flag needs an argument:"))
	case strings.HasPrefix(errStr, "flag provided but not defined:"):
		return "unknown flag: " + strings.TrimSpace(strings.TrimPrefix(errStr, "flag provided but not defined:"))
	default:
		return errStr
	}
}
