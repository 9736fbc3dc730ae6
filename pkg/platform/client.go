// Package platform talks to the GitHub REST API: it lists the repositories
// visible to the caller, fetches a repository's Actions public key and
// creates or updates repository Actions secrets.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v71/github"
)

// PerPage is the page size used when listing repositories.
const PerPage = 100

// Client defines the operations the sync needs from the hosting platform.
type Client interface {
	// ListRepositoriesPage returns one page of the caller's repositories of
	// all visibility levels. hasMore is false once the page is empty.
	ListRepositoriesPage(ctx context.Context, page int) (repos []Repository, hasMore bool, err error)
	// GetPublicKey fetches the Actions secret encryption key of a repository.
	GetPublicKey(ctx context.Context, owner, repo string) (PublicKey, error)
	// UpsertSecret creates or updates an Actions secret of a repository.
	UpsertSecret(ctx context.Context, owner, repo, name, encryptedValue, keyID string) error
}

// APIClient implements Client on top of go-github.
type APIClient struct {
	gh           *github.Client
	installation bool
	Logger       *slog.Logger
}

// ClientConfig holds configuration for creating a new APIClient.
type ClientConfig struct {
	// APIURL overrides the REST endpoint, e.g. for GitHub Enterprise
	// (https://ghe.example.com/api/v3). Empty means api.github.com.
	APIURL string
	// HTTPClient must already carry authentication, see NewHTTPClient.
	HTTPClient *http.Client
	// Installation lists repositories through the installation endpoint,
	// which is the only listing an App installation token may call.
	Installation bool
	Logger       *slog.Logger
}

// NewAPIClient creates a new API client instance.
func NewAPIClient(config ClientConfig) (*APIClient, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.HTTPClient == nil {
		return nil, errors.New("an authenticated HTTP client is required")
	}

	gh := github.NewClient(config.HTTPClient)
	if config.APIURL != "" {
		base, err := url.Parse(config.APIURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API URL: %w", err)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		gh.BaseURL = base
	}

	return &APIClient{
		gh:           gh,
		installation: config.Installation,
		Logger:       config.Logger,
	}, nil
}

// ListRepositoriesPage lists one page of repositories.
func (c *APIClient) ListRepositoriesPage(ctx context.Context, page int) ([]Repository, bool, error) {
	opts := github.ListOptions{Page: page, PerPage: PerPage}

	var (
		items []*github.Repository
		resp  *github.Response
		err   error
	)
	if c.installation {
		var listed *github.ListRepositories
		listed, resp, err = c.gh.Apps.ListRepos(ctx, &opts)
		if listed != nil {
			items = listed.Repositories
		}
	} else {
		items, resp, err = c.gh.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
			Type:        "all",
			ListOptions: opts,
		})
	}
	if err != nil {
		return nil, false, newTransportError(fmt.Sprintf("list repositories page %d", page), resp, err)
	}

	repos := make([]Repository, 0, len(items))
	for _, r := range items {
		repos = append(repos, Repository{
			Owner:   r.GetOwner().GetLogin(),
			Name:    r.GetName(),
			Private: r.GetPrivate(),
			Fork:    r.GetFork(),
		})
	}
	c.Logger.Debug("listed repositories", "page", page, "count", len(repos))
	return repos, len(repos) > 0, nil
}

// GetPublicKey fetches the repository's Actions public key.
func (c *APIClient) GetPublicKey(ctx context.Context, owner, repo string) (PublicKey, error) {
	op := fmt.Sprintf("get public key for %s/%s", owner, repo)

	key, resp, err := c.gh.Actions.GetRepoPublicKey(ctx, owner, repo)
	if err != nil {
		return PublicKey{}, newTransportError(op, resp, err)
	}
	if key.GetKey() == "" {
		return PublicKey{}, &MalformedResponseError{Op: op, Missing: "key"}
	}
	if key.GetKeyID() == "" {
		return PublicKey{}, &MalformedResponseError{Op: op, Missing: "key_id"}
	}

	c.Logger.Debug("fetched public key", "repo", owner+"/"+repo, "key_id", key.GetKeyID())
	return PublicKey{KeyID: key.GetKeyID(), Key: key.GetKey()}, nil
}

// UpsertSecret creates or updates the named secret.
func (c *APIClient) UpsertSecret(ctx context.Context, owner, repo, name, encryptedValue, keyID string) error {
	op := fmt.Sprintf("upsert secret %s on %s/%s", name, owner, repo)

	resp, err := c.gh.Actions.CreateOrUpdateRepoSecret(ctx, owner, repo, &github.EncryptedSecret{
		Name:           name,
		KeyID:          keyID,
		EncryptedValue: encryptedValue,
	})
	if err != nil {
		var accepted *github.AcceptedError
		if errors.As(err, &accepted) {
			return nil
		}
		return newTransportError(op, resp, err)
	}

	c.Logger.Debug("upserted secret", "repo", owner+"/"+repo, "secret", name, "status", resp.StatusCode)
	return nil
}

// AuthenticatedLogin returns the login of the token's owner. It is not part
// of Client since the sync never needs it; auth uses it to remember the
// account after a device login.
func (c *APIClient) AuthenticatedLogin(ctx context.Context) (string, error) {
	user, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", newTransportError("get authenticated user", resp, err)
	}
	if user.GetLogin() == "" {
		return "", &MalformedResponseError{Op: "get authenticated user", Missing: "login"}
	}
	return user.GetLogin(), nil
}

func newTransportError(op string, resp *github.Response, err error) *TransportError {
	te := &TransportError{Op: op, Err: err}
	if resp != nil && resp.Response != nil {
		te.StatusCode = resp.StatusCode
	}
	return te
}

// Ensure APIClient implements Client interface
var _ Client = (*APIClient)(nil)
