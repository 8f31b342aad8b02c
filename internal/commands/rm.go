package commands

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"taskchat/internal/exitcode"
)

func init() {
	Register(&RmCmd{})
}

// RmCmd implements the rm command.
type RmCmd struct {
	yes bool
}

// SetYes skips the confirmation prompt (for testing).
func (c *RmCmd) SetYes(yes bool) {
	c.yes = yes
}

func (c *RmCmd) Name() string      { return "rm" }
func (c *RmCmd) Aliases() []string { return []string{"delete"} }
func (c *RmCmd) Synopsis() string  { return "Delete a task" }
func (c *RmCmd) Usage() string     { return "taskchat rm [--yes] <id>" }
func (c *RmCmd) NeedsApp() bool    { return true }
func (c *RmCmd) NeedsAuth() bool   { return true }

func (c *RmCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.yes, "yes", false, "")
	fs.BoolVar(&c.yes, "y", false, "")
}

func (c *RmCmd) Run(ctx context.Context, env *Env, args []string) int {
	return runWithTaskID(env, args, func(id int, rest []string) int {
		if len(rest) > 0 {
			return env.Usagef("unexpected argument: %s", rest[0])
		}
		if !c.yes && !confirm(env, "Delete task %d? [y/N] ", id) {
			return env.Usagef("not deleted")
		}
		if err := env.App.Tasks.Delete(ctx, id); err != nil {
			return env.Fail(err)
		}
		env.Info("ok")
		return exitcode.Success
	})
}

func confirm(env *Env, format string, args ...any) bool {
	answer, err := env.Prompt(fmt.Sprintf(format, args...))
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
