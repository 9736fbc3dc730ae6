// Package discovery walks the platform's repository listing and keeps the
// repositories a sync should target.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mscno/secretsync/pkg/platform"
)

// PageLister is the part of platform.Client discovery depends on.
type PageLister interface {
	ListRepositoriesPage(ctx context.Context, page int) ([]platform.Repository, bool, error)
}

// Discover lists pages starting at 1 until the platform returns an empty
// page, keeping repositories owned by account that are not forks. Results
// keep the platform's order. An error on any page aborts the walk and no
// repositories are returned.
func Discover(ctx context.Context, lister PageLister, account string, logger *slog.Logger) ([]platform.Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var owned []platform.Repository
	for page := 1; ; page++ {
		repos, hasMore, err := lister.ListRepositoriesPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("discover repositories: page %d: %w", page, err)
		}
		if !hasMore || len(repos) == 0 {
			break
		}

		kept := Owned(repos, account)
		owned = append(owned, kept...)
		logger.Info("fetched repository page", "page", page, "listed", len(repos), "owned", len(kept))
	}

	logger.Info("discovered repositories", "account", account, "count", len(owned))
	return owned, nil
}

// Owned filters out forks and repositories whose owner is not account.
func Owned(repos []platform.Repository, account string) []platform.Repository {
	var kept []platform.Repository
	for _, r := range repos {
		if r.Fork || r.Owner != account {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}
