package commands

import (
	"context"
	"flag"
	"fmt"

	"taskchat/internal/exitcode"
)

func init() {
	Register(&HelpCmd{})
}

// HelpCmd implements the help command.
type HelpCmd struct{}

func (c *HelpCmd) Name() string      { return "help" }
func (c *HelpCmd) Aliases() []string { return nil }
func (c *HelpCmd) Synopsis() string  { return "Print usage" }
func (c *HelpCmd) Usage() string     { return "taskchat help [<command>]" }
func (c *HelpCmd) NeedsApp() bool    { return false }
func (c *HelpCmd) NeedsAuth() bool   { return false }

func (c *HelpCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *HelpCmd) Run(ctx context.Context, env *Env, args []string) int {
	if len(args) > 0 {
		cmd, ok := DefaultRegistry.Find(args[0])
		if !ok {
			return env.Usagef("unknown command: %s", args[0])
		}
		fmt.Fprintf(env.Out, "%s\n\n  %s\n", cmd.Synopsis(), cmd.Usage())
		return exitcode.Success
	}
	fmt.Fprint(env.Out, helpText)
	return exitcode.Success
}

const helpText = `Usage:
  taskchat                                      List tasks
  taskchat list [common flags] [--open]
  taskchat add [common flags] [--description <d>] <title...>
  taskchat edit [common flags] [--description <d>] <id> [<title...>]
  taskchat done [common flags] <id>             Toggle completion
  taskchat rm [common flags] [--yes] <id>
  taskchat chat [common flags] [<message...>]   Without a message, reads lines from stdin
  taskchat login [common flags] [--password <p>] <email>
  taskchat register [common flags] [--password <p> [--confirm <p>]] <email>
  taskchat logout [common flags]
  taskchat whoami [common flags]
  taskchat init [common flags] [--force]
  taskchat help [<command>]
  taskchat version

Common flags:
  --config <dir>   Override config directory
  --quiet          Suppress informational output
  --debug          Print debug logs to stderr

Settings are read from <config dir>/config.yaml and TASKCHAT_* environment
variables (e.g. TASKCHAT_BASE_URL).
`
