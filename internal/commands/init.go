package commands

import (
	"context"
	"flag"
	"fmt"

	"taskchat/internal/config"
	"taskchat/internal/exitcode"
)

func init() {
	Register(&InitCmd{})
}

// InitCmd implements the init command.
type InitCmd struct {
	force bool
}

func (c *InitCmd) Name() string      { return "init" }
func (c *InitCmd) Aliases() []string { return nil }
func (c *InitCmd) Synopsis() string  { return "Write a default config.yaml" }
func (c *InitCmd) Usage() string     { return "taskchat init [--force]" }
func (c *InitCmd) NeedsApp() bool    { return false }
func (c *InitCmd) NeedsAuth() bool   { return false }

func (c *InitCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.force, "force", false, "")
}

func (c *InitCmd) Run(ctx context.Context, env *Env, args []string) int {
	path, err := config.WriteDefault(env.Config.Dir, c.force)
	if err != nil {
		fmt.Fprintf(env.Err, "error: %v\n", err)
		return exitcode.UserError
	}
	env.Info("wrote %s", path)
	return exitcode.Success
}
