package commands

import (
	"context"
	"flag"
	"strings"

	"taskchat/internal/exitcode"
	"taskchat/internal/session"
)

func init() {
	Register(&LoginCmd{})
	Register(&RegisterCmd{})
}

// LoginCmd implements the login command.
type LoginCmd struct {
	password string
}

func (c *LoginCmd) Name() string      { return "login" }
func (c *LoginCmd) Aliases() []string { return []string{"signin"} }
func (c *LoginCmd) Synopsis() string  { return "Sign in with email and password" }
func (c *LoginCmd) Usage() string     { return "taskchat login [--password <p>] <email>" }
func (c *LoginCmd) NeedsApp() bool    { return true }
func (c *LoginCmd) NeedsAuth() bool   { return false }

func (c *LoginCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.password, "password", "", "")
	fs.StringVar(&c.password, "p", "", "")
}

func (c *LoginCmd) Run(ctx context.Context, env *Env, args []string) int {
	email, code, ok := emailArg(env, args)
	if !ok {
		return code
	}
	password := c.password
	if password == "" {
		var err error
		if password, err = env.Prompt("Password: "); err != nil {
			return env.Usagef("password required")
		}
	}

	sess, err := env.App.Sessions.Login(ctx, email, password)
	if err != nil {
		return env.Fail(err)
	}
	env.Info("signed in as %s", sess.User.Email)
	return exitcode.Success
}

// RegisterCmd implements the register command.
type RegisterCmd struct {
	password string
	confirm  string
}

func (c *RegisterCmd) Name() string      { return "register" }
func (c *RegisterCmd) Aliases() []string { return []string{"signup"} }
func (c *RegisterCmd) Synopsis() string  { return "Create an account and sign in" }
func (c *RegisterCmd) Usage() string {
	return "taskchat register [--password <p> [--confirm <p>]] <email>"
}
func (c *RegisterCmd) NeedsApp() bool  { return true }
func (c *RegisterCmd) NeedsAuth() bool { return false }

func (c *RegisterCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.password, "password", "", "")
	fs.StringVar(&c.confirm, "confirm", "", "")
}

func (c *RegisterCmd) Run(ctx context.Context, env *Env, args []string) int {
	email, code, ok := emailArg(env, args)
	if !ok {
		return code
	}

	password, confirm := c.password, c.confirm
	if password == "" {
		var err error
		if password, err = env.Prompt("Password: "); err != nil {
			return env.Usagef("password required")
		}
		if confirm, err = env.Prompt("Confirm password: "); err != nil {
			return env.Usagef("password confirmation required")
		}
	} else if confirm == "" {
		confirm = password
	}
	if err := session.ValidateRegistration(password, confirm); err != nil {
		return env.Fail(err)
	}

	sess, err := env.App.Sessions.Register(ctx, email, password)
	if err != nil {
		return env.Fail(err)
	}
	env.Info("registered and signed in as %s", sess.User.Email)
	return exitcode.Success
}

func emailArg(env *Env, args []string) (string, int, bool) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", env.Usagef("email required"), false
	}
	if len(args) > 1 {
		return "", env.Usagef("unexpected argument: %s", args[1]), false
	}
	return strings.TrimSpace(args[0]), 0, true
}
