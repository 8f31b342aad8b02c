package commands

import (
	"context"
	"flag"
	"fmt"

	"taskchat/internal/exitcode"
)

func init() {
	Register(&LogoutCmd{})
	Register(&WhoamiCmd{})
}

// LogoutCmd implements the logout command.
type LogoutCmd struct{}

func (c *LogoutCmd) Name() string      { return "logout" }
func (c *LogoutCmd) Aliases() []string { return []string{"signout"} }
func (c *LogoutCmd) Synopsis() string  { return "Remove stored credentials" }
func (c *LogoutCmd) Usage() string     { return "taskchat logout [common flags]" }
func (c *LogoutCmd) NeedsApp() bool    { return true }
func (c *LogoutCmd) NeedsAuth() bool   { return false }

func (c *LogoutCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *LogoutCmd) Run(ctx context.Context, env *Env, args []string) int {
	wasSignedIn := env.App.Sessions.Current().Authenticated()

	// Clears leftovers from an expired session too.
	if err := env.App.Sessions.Logout(ctx); err != nil {
		fmt.Fprintf(env.Err, "error: failed to remove credentials: %v\n", err)
		return exitcode.AuthError
	}

	if !wasSignedIn {
		env.Info("not logged in")
		return exitcode.Success
	}
	env.Info("ok")
	return exitcode.Success
}

// WhoamiCmd implements the whoami command.
type WhoamiCmd struct{}

func (c *WhoamiCmd) Name() string      { return "whoami" }
func (c *WhoamiCmd) Aliases() []string { return nil }
func (c *WhoamiCmd) Synopsis() string  { return "Show the signed-in account" }
func (c *WhoamiCmd) Usage() string     { return "taskchat whoami" }
func (c *WhoamiCmd) NeedsApp() bool    { return true }
func (c *WhoamiCmd) NeedsAuth() bool   { return true }

func (c *WhoamiCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *WhoamiCmd) Run(ctx context.Context, env *Env, args []string) int {
	user := env.App.Sessions.Current().User
	fmt.Fprintf(env.Out, "%s (id %d)\n", user.Email, user.ID)
	return exitcode.Success
}
