// Package commands provides the command interface and implementations.
package commands

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"taskchat/internal/app"
	"taskchat/internal/apperr"
	"taskchat/internal/config"
	"taskchat/internal/exitcode"
)

// Command defines the interface for CLI commands.
type Command interface {
	// Name returns the primary command name.
	Name() string

	// Aliases returns alternative names for the command.
	Aliases() []string

	// Synopsis returns a short description for help output.
	Synopsis() string

	// Usage returns the usage string for help output.
	Usage() string

	// NeedsApp returns true if the command talks to the service.
	// help, version and init return false and run without a credential store.
	NeedsApp() bool

	// NeedsAuth returns true if the command requires a signed-in session.
	NeedsAuth() bool

	// RegisterFlags registers command-specific flags.
	RegisterFlags(fs *flag.FlagSet)

	// Run executes the command with positional args and returns the exit code.
	Run(ctx context.Context, env *Env, args []string) int
}

// Env is what a command runs against.
type Env struct {
	// Config is always set.
	Config *config.Config

	// App is nil if NeedsApp() returns false.
	App *app.App

	In  io.Reader
	Out io.Writer
	Err io.Writer

	lines *bufio.Reader
}

// ReadLine reads one line from In without the line terminator.
// A final line without a newline is returned with a nil error.
func (e *Env) ReadLine() (string, error) {
	if e.In == nil {
		return "", io.EOF
	}
	if e.lines == nil {
		e.lines = bufio.NewReader(e.In)
	}
	line, err := e.lines.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

// Prompt writes label to Err and reads the answer.
func (e *Env) Prompt(label string) (string, error) {
	fmt.Fprint(e.Err, label)
	return e.ReadLine()
}

// Info prints an informational line to Out unless --quiet was given.
func (e *Env) Info(format string, args ...any) {
	if e.Config.Quiet {
		return
	}
	fmt.Fprintf(e.Out, format+"\n", args...)
}

// Fail prints err and returns its exit code.
func (e *Env) Fail(err error) int {
	fmt.Fprintf(e.Err, "error: %s\n", apperr.MessageOf(err))
	return exitcode.For(err)
}

// Usagef prints a usage error and returns exitcode.UserError.
func (e *Env) Usagef(format string, args ...any) int {
	fmt.Fprintf(e.Err, "error: "+format+"\n", args...)
	return exitcode.UserError
}
