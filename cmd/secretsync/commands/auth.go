package commands

import (
	"errors"
	"fmt"

	"github.com/mscno/secretsync/pkg/auth"
)

type AuthCmd struct {
	Login  LoginCmd  `cmd:"" help:"Authenticate with GitHub using device flow."`
	Logout LogoutCmd `cmd:"" help:"Remove stored authentication credentials."`
	Status StatusCmd `cmd:"" help:"Show the account of the stored token."`
}

func newProvider(ctx *cliCtx, g *Globals) *auth.GithubProvider {
	return auth.NewGithubProvider(auth.Config{
		GithubClientID: g.GithubClientID,
		APIURL:         g.APIURL,
		Out:            ctx.Out,
	}, ctx.OSKeyring)
}

type LoginCmd struct{}

func (c *LoginCmd) Run(ctx *cliCtx, g *Globals) error {
	if g.GithubClientID == "" {
		return fmt.Errorf("GitHub Client ID must be provided via --github-client-id flag or SECRETSYNC_GITHUB_CLIENT_ID env var")
	}

	ctx.Logger.Info("Starting GitHub device login flow...")
	login, err := newProvider(ctx, g).Login(ctx)
	if err != nil {
		ctx.Logger.Error("Authentication failed", "error", err)
		return fmt.Errorf("authentication failed: %w", err)
	}
	ctx.Logger.Info("Authentication successful.", "account", login)

	fmt.Fprintf(ctx.Out, "Logged in as %s. Run with --keyring to use the stored token.\n", login)
	return nil
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx *cliCtx, g *Globals) error {
	if err := newProvider(ctx, g).Logout(); err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, "Logged out.")
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx *cliCtx, g *Globals) error {
	login, err := newProvider(ctx, g).Status(ctx)
	if errors.Is(err, auth.ErrTokenNotFound) {
		fmt.Fprintln(ctx.Out, "Not logged in.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Logged in as %s.\n", login)
	return nil
}
