// Package auth obtains a GitHub token through the OAuth device flow and keeps
// it, together with the token owner's login, in the OS keyring.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mscno/secretsync/pkg/oskeyring"
	"github.com/mscno/secretsync/pkg/platform"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

var ErrTokenNotFound = errors.New("no token stored, run 'secretsync auth login' first")

// Scopes requested by the device flow. Writing repository Actions secrets
// needs the classic "repo" scope.
var Scopes = []string{"repo"}

// Config holds configuration for the auth package.
type Config struct {
	GithubClientID string
	// APIURL is the REST endpoint used to look up the token owner.
	APIURL string
	// Endpoint overrides the OAuth endpoints. Defaults to github.com.
	Endpoint oauth2.Endpoint
	// Out receives the device code prompt. Defaults to os.Stdout.
	Out io.Writer
}

// GithubProvider implements the device login against GitHub.
type GithubProvider struct {
	Config      Config
	credentials *oskeyring.Credentials
}

// NewGithubProvider creates a new GithubProvider.
func NewGithubProvider(cfg Config, credentials *oskeyring.Credentials) *GithubProvider {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = github.Endpoint
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &GithubProvider{Config: cfg, credentials: credentials}
}

func (p *GithubProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: p.Config.GithubClientID,
		Scopes:   Scopes,
		Endpoint: p.Config.Endpoint,
	}
}

// Login runs the device flow, resolves the token owner and stores both. It
// returns the login of the authenticated account.
func (p *GithubProvider) Login(ctx context.Context) (string, error) {
	if p.Config.GithubClientID == "" {
		return "", errors.New("GitHub Client ID is required for authentication")
	}

	oauthConfig := p.oauthConfig()
	deviceCode, err := oauthConfig.DeviceAuth(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to request device code: %w", err)
	}

	fmt.Fprintf(p.Config.Out, "Please visit %s and enter the code: %s\n", deviceCode.VerificationURI, deviceCode.UserCode)
	fmt.Fprintln(p.Config.Out, "Waiting for the authentication to complete...")

	token, err := oauthConfig.DeviceAccessToken(ctx, deviceCode)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	login, err := p.lookupLogin(ctx, token.AccessToken)
	if err != nil {
		return "", err
	}

	if err := p.credentials.Save(token.AccessToken, login); err != nil {
		return "", err
	}
	return login, nil
}

// Status returns the stored account after checking the stored token still
// works.
func (p *GithubProvider) Status(ctx context.Context) (string, error) {
	token, err := p.credentials.Token()
	if err != nil {
		if errors.Is(err, oskeyring.ErrNotFound) {
			return "", ErrTokenNotFound
		}
		return "", err
	}
	return p.lookupLogin(ctx, token)
}

// Logout removes the stored token and account.
func (p *GithubProvider) Logout() error {
	if err := p.credentials.Clear(); err != nil {
		return fmt.Errorf("failed to remove credentials from keyring: %w", err)
	}
	return nil
}

func (p *GithubProvider) lookupLogin(ctx context.Context, token string) (string, error) {
	httpClient, err := platform.NewHTTPClient(ctx, platform.Credentials{Token: token}, "")
	if err != nil {
		return "", err
	}
	client, err := platform.NewAPIClient(platform.ClientConfig{APIURL: p.Config.APIURL, HTTPClient: httpClient})
	if err != nil {
		return "", err
	}
	login, err := client.AuthenticatedLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch GitHub user info: %w", err)
	}
	return login, nil
}
