// Package secretsync copies SYNC_ prefixed environment values into the
// GitHub Actions secrets of every non-fork repository owned by an account.
package secretsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mscno/secretsync/pkg/discovery"
	"github.com/mscno/secretsync/pkg/oskeyring"
	"github.com/mscno/secretsync/pkg/platform"
	"github.com/mscno/secretsync/pkg/secrets"
	"github.com/mscno/secretsync/pkg/sync"
)

// ConfigurationError reports configuration that makes a run impossible. It is
// raised before any repository is touched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Config is the resolved configuration of one invocation.
type Config struct {
	Token   string
	Account string
	Prefix  string
	EnvFile string
	APIURL  string

	AppID          int64
	InstallationID int64
	AppKeyFile     string

	Pause     time.Duration
	CacheKeys bool
	DryRun    bool

	// Keyring, when set, supplies the token and account if they are empty.
	Keyring *oskeyring.Credentials

	Out    io.Writer
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = secrets.DefaultPrefix
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c Config) credentials() platform.Credentials {
	return platform.Credentials{
		Token:          c.Token,
		AppID:          c.AppID,
		InstallationID: c.InstallationID,
		AppKeyFile:     c.AppKeyFile,
	}
}

// fillFromKeyring copies missing values from the keyring. Lookup errors are
// logged and left for Validate to report.
func (c *Config) fillFromKeyring() {
	if c.Keyring == nil {
		return
	}
	if c.Token == "" && c.AppID == 0 {
		token, err := c.Keyring.Token()
		if err != nil {
			c.Logger.Debug("no token in keyring", "error", err)
		} else {
			c.Token = token
		}
	}
	if c.Account == "" {
		account, err := c.Keyring.Account()
		if err != nil {
			c.Logger.Debug("no account in keyring", "error", err)
		} else {
			c.Account = account
		}
	}
}

// Validate checks that the credentials and the account are present.
func (c Config) Validate() error {
	creds := c.credentials()
	if !creds.IsInstallation() && creds.Token == "" {
		return &ConfigurationError{
			Field:  "token",
			Reason: "set GITHUB_TOKEN (a personal access token with repo scope), pass --token, or run 'secretsync auth login'",
		}
	}
	if err := creds.Validate(); err != nil {
		return &ConfigurationError{Field: "credentials", Reason: err.Error()}
	}
	if c.Account == "" {
		return &ConfigurationError{
			Field:  "account",
			Reason: "set GITHUB_USER (the account whose repositories are synced) or pass --user",
		}
	}
	return nil
}

func (c *Config) prepare() error {
	c.setDefaults()
	c.fillFromKeyring()
	return c.Validate()
}

// resolveSecrets reads the environment, then the env file, and reports the
// entries it skipped.
func (c Config) resolveSecrets(environ []string) ([]secrets.Spec, error) {
	entries := secrets.FromEnviron(environ)
	if c.EnvFile != "" {
		fileEntries, err := secrets.FromDotenv(c.EnvFile)
		if err != nil {
			return nil, &ConfigurationError{Field: "env-file", Reason: err.Error()}
		}
		entries = append(entries, fileEntries...)
	}

	specs, warnings := secrets.Resolve(entries, c.Prefix)
	for _, w := range warnings {
		c.Logger.Warn("skipping secret", "key", w.Key, "reason", w.Reason)
		fmt.Fprintf(c.Out, "warning: %s\n", w)
	}
	return specs, nil
}

func (c Config) newClient(ctx context.Context) (*platform.APIClient, error) {
	creds := c.credentials()
	httpClient, err := platform.NewHTTPClient(ctx, creds, c.APIURL)
	if err != nil {
		return nil, err
	}
	return platform.NewAPIClient(platform.ClientConfig{
		APIURL:       c.APIURL,
		HTTPClient:   httpClient,
		Installation: creds.IsInstallation(),
		Logger:       c.Logger,
	})
}

func (c Config) newSyncer(client platform.Client) *sync.Syncer {
	return sync.NewSyncer(client, sync.Config{
		Out:       c.Out,
		Logger:    c.Logger,
		Pause:     c.Pause,
		CacheKeys: c.CacheKeys,
		DryRun:    c.DryRun,
	})
}

// Run discovers the account's repositories and applies every resolved secret
// to each of them. Individual apply failures are part of the returned
// Outcome; only configuration and discovery failures return an error.
func Run(ctx context.Context, cfg Config, environ []string) (sync.Outcome, error) {
	if err := cfg.prepare(); err != nil {
		return sync.Outcome{}, err
	}

	fmt.Fprintln(cfg.Out, "GitHub secrets sync")
	fmt.Fprintln(cfg.Out, "==============================")
	fmt.Fprintf(cfg.Out, "account: %s\n\n", cfg.Account)

	client, err := cfg.newClient(ctx)
	if err != nil {
		return sync.Outcome{}, err
	}

	fmt.Fprintln(cfg.Out, "fetching repositories...")
	repos, err := discovery.Discover(ctx, client, cfg.Account, cfg.Logger)
	if err != nil {
		return sync.Outcome{}, err
	}
	fmt.Fprintf(cfg.Out, "found %d non-fork repositories\n", len(repos))
	if len(repos) == 0 {
		fmt.Fprintf(cfg.Out, "no non-fork repositories owned by %s, nothing to do\n", cfg.Account)
		return sync.Outcome{}, nil
	}

	specs, err := cfg.resolveSecrets(environ)
	if err != nil {
		return sync.Outcome{}, err
	}
	fmt.Fprintf(cfg.Out, "found %d valid %s variables:\n", len(specs), cfg.Prefix)
	for _, spec := range specs {
		fmt.Fprintf(cfg.Out, "  - %s\n", spec)
	}
	if len(specs) == 0 {
		fmt.Fprintf(cfg.Out, "no %s variables found\n", cfg.Prefix)
		fmt.Fprintf(cfg.Out, "export variables such as %sAPI_KEY=your_value\n", cfg.Prefix)
		return sync.Outcome{TotalRepositories: len(repos)}, nil
	}

	fmt.Fprintln(cfg.Out, "\nsyncing secrets to all repositories...")
	cfg.Logger.Info("starting sync", "repositories", len(repos), "secrets", len(specs), "dry_run", cfg.DryRun)

	outcome := cfg.newSyncer(client).Run(ctx, repos, specs)
	sync.Report(cfg.Out, outcome)
	return outcome, nil
}

// Debug applies a single secret to a single repository of the account,
// reporting every step. The secret is looked up before any client exists, so
// a missing secret never reaches the network.
func Debug(ctx context.Context, cfg Config, environ []string, repo, secretName string) error {
	if err := cfg.prepare(); err != nil {
		return err
	}
	if repo == "" || secretName == "" {
		return &ConfigurationError{Field: "debug", Reason: "both a repository and a secret name are required"}
	}

	fmt.Fprintf(cfg.Out, "debug mode: repository %s, secret %s\n", repo, secretName)

	specs, err := cfg.resolveSecrets(environ)
	if err != nil {
		return err
	}
	spec, ok := secrets.Find(specs, secretName)
	if !ok {
		return &ConfigurationError{
			Field:  "debug",
			Reason: fmt.Sprintf("environment variable %s%s not found", cfg.Prefix, secretName),
		}
	}

	client, err := cfg.newClient(ctx)
	if err != nil {
		return err
	}
	return cfg.newSyncer(client).Diagnose(ctx, cfg.Account, repo, spec)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
