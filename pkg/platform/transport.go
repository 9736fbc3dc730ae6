package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ghinstallation "github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every platform request.
const DefaultTimeout = 30 * time.Second

// Credentials selects how requests are authenticated. Either Token is set, or
// the three App fields are set to act as a GitHub App installation.
type Credentials struct {
	Token string

	AppID          int64
	InstallationID int64
	AppKeyFile     string
}

// IsInstallation reports whether the credentials describe a GitHub App
// installation rather than a personal token.
func (c Credentials) IsInstallation() bool {
	return c.AppID != 0 || c.InstallationID != 0 || c.AppKeyFile != ""
}

// Validate checks that exactly one authentication mode is fully configured.
func (c Credentials) Validate() error {
	if c.IsInstallation() {
		switch {
		case c.Token != "":
			return errors.New("a token and GitHub App credentials are mutually exclusive")
		case c.AppID == 0:
			return errors.New("GitHub App ID is required for installation auth")
		case c.InstallationID == 0:
			return errors.New("GitHub App installation ID is required for installation auth")
		case c.AppKeyFile == "":
			return errors.New("GitHub App private key file is required for installation auth")
		}
		return nil
	}
	if c.Token == "" {
		return errors.New("access token is required")
	}
	return nil
}

// NewHTTPClient builds an authenticated HTTP client for the credentials.
// Token credentials send the token as a bearer header on every request.
// apiURL is only used by installation auth to mint tokens against an
// enterprise server; empty means github.com.
func NewHTTPClient(ctx context.Context, creds Credentials, apiURL string) (*http.Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	if !creds.IsInstallation() {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token, TokenType: "Bearer"})
		client := oauth2.NewClient(ctx, src)
		client.Timeout = DefaultTimeout
		return client, nil
	}

	tr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, creds.AppID, creds.InstallationID, creds.AppKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load GitHub App key: %w", err)
	}
	if apiURL != "" {
		tr.BaseURL = strings.TrimSuffix(apiURL, "/")
	}

	return &http.Client{
		Transport: tr,
		Timeout:   DefaultTimeout,
	}, nil
}
