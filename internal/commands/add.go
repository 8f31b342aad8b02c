package commands

import (
	"context"
	"flag"
	"strings"

	"taskchat/internal/exitcode"
	"taskchat/internal/output"
)

func init() {
	Register(&AddCmd{})
}

// AddCmd implements the add command.
type AddCmd struct {
	description optionalString
}

// SetDescription sets the description (for testing).
func (c *AddCmd) SetDescription(d string) {
	c.description = optionalString{value: d, set: true}
}

func (c *AddCmd) Name() string      { return "add" }
func (c *AddCmd) Aliases() []string { return []string{"create"} }
func (c *AddCmd) Synopsis() string  { return "Create a task" }
func (c *AddCmd) Usage() string     { return "taskchat add [--description <d>] <title...>" }
func (c *AddCmd) NeedsApp() bool    { return true }
func (c *AddCmd) NeedsAuth() bool   { return true }

func (c *AddCmd) RegisterFlags(fs *flag.FlagSet) {
	c.description = optionalString{}
	fs.Var(&c.description, "description", "")
	fs.Var(&c.description, "d", "")
}

func (c *AddCmd) Run(ctx context.Context, env *Env, args []string) int {
	title := strings.Join(args, " ")
	if strings.TrimSpace(title) == "" {
		return env.Usagef("title required")
	}

	task, err := env.App.Tasks.Create(ctx, title, c.description.ptr())
	if err != nil {
		return env.Fail(err)
	}
	if !env.Config.Quiet {
		output.FormatTask(env.Out, task)
	}
	return exitcode.Success
}

// optionalString is a string flag that remembers whether it was given, so an
// empty value can clear a field while an absent flag leaves it alone.
type optionalString struct {
	value string
	set   bool
}

func (o *optionalString) String() string { return o.value }

func (o *optionalString) Set(s string) error {
	o.value = s
	o.set = true
	return nil
}

func (o *optionalString) ptr() *string {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}
