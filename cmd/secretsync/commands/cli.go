package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mscno/secretsync"
	"github.com/mscno/secretsync/pkg/oskeyring"
	"github.com/mscno/secretsync/pkg/secrets"
	"github.com/mscno/secretsync/pkg/sync"
)

type cliCtx struct {
	context.Context
	Logger    *slog.Logger
	OSKeyring *oskeyring.Credentials
	Out       io.Writer
	Environ   []string
}

// Globals are the flags shared by every command.
type Globals struct {
	Token   string `env:"GITHUB_TOKEN" help:"GitHub personal access token with repo scope."`
	User    string `env:"GITHUB_USER" help:"Account whose repositories are synced."`
	Prefix  string `env:"SECRETSYNC_PREFIX" default:"SYNC_" help:"Prefix selecting the environment variables to sync."`
	EnvFile string `help:"Dotenv file with additional prefixed variables." type:"existingfile"`
	APIURL  string `name:"api-url" env:"GITHUB_API_URL" help:"GitHub Enterprise REST endpoint, e.g. https://ghe.example.com/api/v3/."`

	AppID          int64  `name:"app-id" env:"GITHUB_APP_ID" help:"GitHub App ID, used instead of a token."`
	InstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID" help:"GitHub App installation ID."`
	AppKeyFile     string `env:"GITHUB_APP_KEY_FILE" help:"GitHub App private key (PEM)."`

	Pause      time.Duration `default:"100ms" help:"Minimum pause between repositories."`
	NoKeyCache bool          `help:"Fetch the public key for every secret instead of once per repository."`
	DryRun     bool          `help:"Print what would be synced without changing anything."`
	Keyring    bool          `help:"Read the token and account from the OS keyring when not set otherwise."`
	LogLevel   string        `default:"info" enum:"debug,info,warn,error" help:"Log level (debug, info, warn, error)."`

	GithubClientID string `env:"SECRETSYNC_GITHUB_CLIENT_ID" help:"GitHub OAuth App Client ID used by 'auth login'."`
}

type cli struct {
	Globals

	Sync    SyncCmd          `cmd:"" default:"1" help:"Sync prefixed variables to every non-fork repository (default)."`
	Debug   DebugCmd         `cmd:"" help:"Apply one secret to one repository, reporting every step. Also available as --debug <repo> <secret>."`
	Auth    AuthCmd          `cmd:"" help:"Manage the token stored in the OS keyring."`
	Version kong.VersionFlag `help:"Show version"`
}

func newParser(c *cli, version string, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.UsageOnError(),
		kong.Name("secretsync"),
		kong.Description("secretsync pushes SYNC_ prefixed environment variables into the Actions secrets of your GitHub repositories"),
		kong.Vars{"version": version},
	}, options...)
	return kong.New(c, options...)
}

func Execute(version string) {
	var c cli
	parser, err := newParser(&c, version)
	if err != nil {
		panic(err)
	}

	kctx, err := parser.Parse(normalizeArgs(os.Args[1:]))
	parser.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = kctx.Run(&cliCtx{
		Context:   ctx,
		Logger:    newLogger(os.Stderr, c.LogLevel),
		OSKeyring: oskeyring.NewCredentials(oskeyring.SystemBackend{}),
		Out:       os.Stdout,
		Environ:   os.Environ(),
	}, &c.Globals)
	kctx.FatalIfErrorf(err)
}

// normalizeArgs turns "--debug <repo> <secret>" anywhere on the command line
// into the debug command.
func normalizeArgs(args []string) []string {
	for i, arg := range args {
		if arg != "--debug" {
			continue
		}
		end := min(i+3, len(args))
		out := append([]string{"debug"}, args[i+1:end]...)
		out = append(out, args[:i]...)
		return append(out, args[end:]...)
	}
	return args
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func (g *Globals) config(ctx *cliCtx) secretsync.Config {
	cfg := secretsync.Config{
		Token:          g.Token,
		Account:        g.User,
		Prefix:         g.Prefix,
		EnvFile:        g.EnvFile,
		APIURL:         g.APIURL,
		AppID:          g.AppID,
		InstallationID: g.InstallationID,
		AppKeyFile:     g.AppKeyFile,
		Pause:          g.Pause,
		CacheKeys:      !g.NoKeyCache,
		DryRun:         g.DryRun,
		Out:            ctx.Out,
		Logger:         ctx.Logger,
	}
	if g.Keyring {
		cfg.Keyring = ctx.OSKeyring
	}
	if cfg.Prefix == "" {
		cfg.Prefix = secrets.DefaultPrefix
	}
	return cfg
}

type SyncCmd struct{}

func (c *SyncCmd) Run(ctx *cliCtx, g *Globals) error {
	outcome, err := secretsync.Run(ctx, g.config(ctx), ctx.Environ)
	if err != nil {
		return err
	}
	if outcome.Interrupted {
		return fmt.Errorf("sync interrupted: %d of %d repositories attempted", outcome.Succeeded+outcome.Failed, outcome.TotalRepositories)
	}
	logOutcome(ctx.Logger, outcome)
	return nil
}

func logOutcome(logger *slog.Logger, outcome sync.Outcome) {
	for _, f := range outcome.Failures() {
		logger.Debug("failed pair", "repo", f.Repository, "secret", f.Secret, "stage", string(f.Stage), "error", f.Err)
	}
	logger.Info("sync finished", "succeeded", outcome.Succeeded, "failed", outcome.Failed, "total", outcome.TotalRepositories)
}

type DebugCmd struct {
	Repo   string `arg:"" help:"Repository name (owned by --user)."`
	Secret string `arg:"" help:"Secret name without the prefix."`
}

func (c *DebugCmd) Run(ctx *cliCtx, g *Globals) error {
	return secretsync.Debug(ctx, g.config(ctx), ctx.Environ, c.Repo, c.Secret)
}
