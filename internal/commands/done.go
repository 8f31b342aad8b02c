package commands

import (
	"context"
	"flag"

	"taskchat/internal/exitcode"
	"taskchat/internal/output"
)

func init() {
	Register(&DoneCmd{})
}

// DoneCmd implements the done command. Running it on a completed task
// reopens it.
type DoneCmd struct{}

func (c *DoneCmd) Name() string      { return "done" }
func (c *DoneCmd) Aliases() []string { return []string{"toggle"} }
func (c *DoneCmd) Synopsis() string  { return "Toggle a task's completion" }
func (c *DoneCmd) Usage() string     { return "taskchat done <id>" }
func (c *DoneCmd) NeedsApp() bool    { return true }
func (c *DoneCmd) NeedsAuth() bool   { return true }

func (c *DoneCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *DoneCmd) Run(ctx context.Context, env *Env, args []string) int {
	return runWithTaskID(env, args, func(id int, rest []string) int {
		if len(rest) > 0 {
			return env.Usagef("unexpected argument: %s", rest[0])
		}
		task, err := env.App.Tasks.Toggle(ctx, id)
		if err != nil {
			return env.Fail(err)
		}
		if !env.Config.Quiet {
			output.FormatTask(env.Out, task)
		}
		return exitcode.Success
	})
}
