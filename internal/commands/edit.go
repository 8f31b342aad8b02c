package commands

import (
	"context"
	"flag"
	"strings"

	"taskchat/internal/apperr"
	"taskchat/internal/exitcode"
	"taskchat/internal/output"
)

func init() {
	Register(&EditCmd{})
}

// EditCmd implements the edit command.
// Omitted parts keep their current value; --description "" clears the description.
type EditCmd struct {
	description optionalString
}

// SetDescription sets the description (for testing).
func (c *EditCmd) SetDescription(d string) {
	c.description = optionalString{value: d, set: true}
}

func (c *EditCmd) Name() string      { return "edit" }
func (c *EditCmd) Aliases() []string { return nil }
func (c *EditCmd) Synopsis() string  { return "Change a task's title or description" }
func (c *EditCmd) Usage() string     { return "taskchat edit [--description <d>] <id> [<title...>]" }
func (c *EditCmd) NeedsApp() bool    { return true }
func (c *EditCmd) NeedsAuth() bool   { return true }

func (c *EditCmd) RegisterFlags(fs *flag.FlagSet) {
	c.description = optionalString{}
	fs.Var(&c.description, "description", "")
	fs.Var(&c.description, "d", "")
}

func (c *EditCmd) Run(ctx context.Context, env *Env, args []string) int {
	return runWithTaskID(env, args, func(id int, rest []string) int {
		title := strings.Join(rest, " ")
		if strings.TrimSpace(title) == "" && !c.description.set {
			return env.Usagef("nothing to change")
		}

		tasks := env.App.Tasks
		if _, err := tasks.List(ctx); err != nil {
			return env.Fail(err)
		}
		current, ok := tasks.Lookup(id)
		if !ok {
			return env.Fail(apperr.Newf(apperr.ValidationError, "task not found: %d", id))
		}

		if strings.TrimSpace(title) == "" {
			title = current.Title
		}
		description := current.Description
		if c.description.set {
			description = c.description.ptr()
		}

		updated, err := tasks.Update(ctx, id, title, description)
		if err != nil {
			return env.Fail(err)
		}
		if !env.Config.Quiet {
			output.FormatTask(env.Out, updated)
		}
		return exitcode.Success
	})
}
