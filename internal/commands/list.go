package commands

import (
	"context"
	"flag"

	"taskchat/internal/exitcode"
	"taskchat/internal/output"
	"taskchat/internal/service"
)

func init() {
	Register(&ListCmd{})
}

// ListCmd implements the list command. It is also what `taskchat` with no
// arguments runs.
type ListCmd struct {
	open bool
}

// SetOpenOnly hides completed tasks (for testing).
func (c *ListCmd) SetOpenOnly(open bool) {
	c.open = open
}

func (c *ListCmd) Name() string      { return "list" }
func (c *ListCmd) Aliases() []string { return []string{"ls"} }
func (c *ListCmd) Synopsis() string  { return "List tasks" }
func (c *ListCmd) Usage() string     { return "taskchat list [--open]" }
func (c *ListCmd) NeedsApp() bool    { return true }
func (c *ListCmd) NeedsAuth() bool   { return true }

func (c *ListCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.open, "open", false, "")
}

func (c *ListCmd) Run(ctx context.Context, env *Env, args []string) int {
	if len(args) > 0 {
		return env.Usagef("unexpected argument: %s", args[0])
	}
	tasks, err := env.App.Tasks.List(ctx)
	if err != nil {
		return env.Fail(err)
	}
	if c.open {
		tasks = openTasks(tasks)
	}
	if len(tasks) == 0 {
		env.Info("no tasks found")
		return exitcode.Success
	}
	output.FormatTasks(env.Out, tasks)
	return exitcode.Success
}

func openTasks(tasks []service.Task) []service.Task {
	open := tasks[:0:0]
	for _, t := range tasks {
		if !t.Completed {
			open = append(open, t)
		}
	}
	return open
}
