package commands

import (
	"context"
	"errors"
	"flag"
	"io"
	"strings"

	"taskchat/internal/apperr"
	"taskchat/internal/exitcode"
	"taskchat/internal/output"
)

func init() {
	Register(&ChatCmd{})
}

// ChatCmd implements the chat command. Without a message it reads one
// message per line from stdin until EOF and exits with the first failure's code.
type ChatCmd struct{}

func (c *ChatCmd) Name() string      { return "chat" }
func (c *ChatCmd) Aliases() []string { return []string{"ask"} }
func (c *ChatCmd) Synopsis() string  { return "Talk to the task assistant" }
func (c *ChatCmd) Usage() string     { return "taskchat chat [<message...>]" }
func (c *ChatCmd) NeedsApp() bool    { return true }

// NeedsAuth is false so an anonymous user gets the assistant's sign-in notice.
func (c *ChatCmd) NeedsAuth() bool { return false }

func (c *ChatCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *ChatCmd) Run(ctx context.Context, env *Env, args []string) int {
	if len(args) > 0 {
		code, _ := c.send(ctx, env, strings.Join(args, " "))
		return code
	}

	code := exitcode.Success
	for {
		line, err := env.ReadLine()
		if errors.Is(err, io.EOF) {
			return code
		}
		if err != nil {
			return env.Fail(err)
		}
		lineCode, stop := c.send(ctx, env, line)
		if code == exitcode.Success {
			code = lineCode
		}
		if stop {
			return code
		}
	}
}

// send prints the assistant's closing turn and reports whether the session
// no longer allows another message.
func (c *ChatCmd) send(ctx context.Context, env *Env, message string) (int, bool) {
	turn, err := env.App.Chat.Send(ctx, message)
	if turn.ID != "" {
		output.FormatTurn(env.Out, turn)
	}
	if err == nil {
		return exitcode.Success, false
	}
	switch apperr.KindOf(err) {
	case apperr.NotAuthenticated, apperr.SessionExpired:
		return exitcode.For(err), true
	}
	return exitcode.For(err), false
}
