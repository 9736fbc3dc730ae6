// Package sync applies a set of secrets to a set of repositories. Each
// (repository, secret) pair is applied independently: a failure is recorded
// in the pair's ApplyResult and the run moves on.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mscno/secretsync/pkg/crypto"
	"github.com/mscno/secretsync/pkg/platform"
	"github.com/mscno/secretsync/pkg/secrets"
	"golang.org/x/time/rate"
)

// DefaultPause is the minimum spacing between two repositories.
const DefaultPause = 100 * time.Millisecond

// ErrEmptyValue is returned when a secret reaches the apply step without a value.
var ErrEmptyValue = errors.New("secret value is empty")

// Stage names a step of the apply operation.
type Stage string

const (
	StageFetchKey Stage = "fetch public key"
	StageValidate Stage = "validate value"
	StageEncrypt  Stage = "encrypt"
	StageUpsert   Stage = "upsert"
	StageDone     Stage = "done"
	StagePlanned  Stage = "planned"
)

// ApplyResult is the outcome of applying one secret to one repository. For
// a failure, Stage is the step that failed.
type ApplyResult struct {
	Repository string
	Secret     string
	Stage      Stage
	Err        error
}

// OK reports whether the apply succeeded.
func (r ApplyResult) OK() bool {
	return r.Err == nil
}

// Outcome aggregates a run. A repository counts as succeeded only when every
// secret was applied to it.
type Outcome struct {
	Succeeded         int
	Failed            int
	TotalRepositories int
	TotalSecrets      int
	Results           []ApplyResult
	// Interrupted is set when the context ended before every repository
	// was attempted.
	Interrupted bool
}

// Failures returns the failed apply results in run order.
func (o Outcome) Failures() []ApplyResult {
	var failed []ApplyResult
	for _, r := range o.Results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Config holds configuration for creating a Syncer.
type Config struct {
	// Seal encrypts a value for a base64 public key. Defaults to crypto.Seal.
	Seal crypto.SealFunc
	// Out receives user facing progress. Defaults to os.Stdout.
	Out    io.Writer
	Logger *slog.Logger
	// Pause is the minimum spacing between repositories; zero disables it.
	Pause time.Duration
	// CacheKeys reuses a repository's public key across its secrets.
	CacheKeys bool
	// DryRun prints the planned pairs without calling the platform.
	DryRun bool
}

// Syncer runs the apply loop sequentially.
type Syncer struct {
	client    platform.Client
	seal      crypto.SealFunc
	out       io.Writer
	logger    *slog.Logger
	limiter   *rate.Limiter
	cacheKeys bool
	dryRun    bool
}

// NewSyncer creates a Syncer for client.
func NewSyncer(client platform.Client, config Config) *Syncer {
	if config.Seal == nil {
		config.Seal = crypto.Seal
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	limit := rate.Inf
	if config.Pause > 0 {
		limit = rate.Every(config.Pause)
	}

	return &Syncer{
		client:    client,
		seal:      config.Seal,
		out:       config.Out,
		logger:    config.Logger,
		limiter:   rate.NewLimiter(limit, 1),
		cacheKeys: config.CacheKeys,
		dryRun:    config.DryRun,
	}
}

// keyCache holds the public keys fetched during one repository's secrets.
type keyCache map[string]platform.PublicKey

// Run applies every secret to every repository in order. It never stops on
// an apply failure; it only stops early when ctx is done.
func (s *Syncer) Run(ctx context.Context, repos []platform.Repository, specs []secrets.Spec) Outcome {
	outcome := Outcome{TotalRepositories: len(repos), TotalSecrets: len(specs)}

	for _, repo := range repos {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Warn("sync interrupted", "next_repository", repo.FullName(), "error", err)
			fmt.Fprintf(s.out, "\nsync interrupted before %s: %v\n", repo.FullName(), err)
			outcome.Interrupted = true
			break
		}

		fmt.Fprintf(s.out, "\nsyncing repository %s (%s)\n", repo.FullName(), repo.Visibility())

		var cache keyCache
		if s.cacheKeys {
			cache = keyCache{}
		}

		failed := false
		for _, spec := range specs {
			var res ApplyResult
			if s.dryRun {
				res = ApplyResult{Repository: repo.FullName(), Secret: spec.Name, Stage: StagePlanned}
				fmt.Fprintf(s.out, "  - would set %s\n", spec.Name)
			} else {
				res = s.Apply(ctx, repo, spec, cache)
				s.print(res)
			}
			outcome.Results = append(outcome.Results, res)
			if !res.OK() {
				failed = true
			}
		}

		if failed {
			outcome.Failed++
		} else {
			outcome.Succeeded++
		}
	}

	return outcome
}

func (s *Syncer) print(res ApplyResult) {
	if res.OK() {
		fmt.Fprintf(s.out, "  ✓ set %s\n", res.Secret)
		return
	}
	fmt.Fprintf(s.out, "  ✗ failed to set %s on %s: %s: %v\n", res.Secret, res.Repository, res.Stage, res.Err)
	s.logger.Warn("apply failed", "repo", res.Repository, "secret", res.Secret, "stage", string(res.Stage), "error", res.Err)
}

// Apply fetches the repository key, encrypts the secret and upserts it. A nil
// cache fetches the key on every call; failed fetches are never cached.
func (s *Syncer) Apply(ctx context.Context, repo platform.Repository, spec secrets.Spec, cache keyCache) ApplyResult {
	res := ApplyResult{Repository: repo.FullName(), Secret: spec.Name}
	fail := func(stage Stage, err error) ApplyResult {
		res.Stage = stage
		res.Err = err
		return res
	}

	key, err := s.publicKey(ctx, repo, cache)
	if err != nil {
		return fail(StageFetchKey, err)
	}

	if strings.TrimSpace(spec.Value) == "" {
		return fail(StageValidate, ErrEmptyValue)
	}

	sealed, err := s.seal(key.Key, []byte(spec.Value))
	if err != nil {
		return fail(StageEncrypt, err)
	}
	if sealed == "" {
		return fail(StageEncrypt, &crypto.EncryptionError{Reason: "seal", Err: crypto.ErrEmptyCiphertext})
	}

	if err := s.client.UpsertSecret(ctx, repo.Owner, repo.Name, spec.Name, sealed, key.KeyID); err != nil {
		return fail(StageUpsert, err)
	}

	res.Stage = StageDone
	return res
}

func (s *Syncer) publicKey(ctx context.Context, repo platform.Repository, cache keyCache) (platform.PublicKey, error) {
	if key, ok := cache[repo.FullName()]; ok {
		return key, nil
	}
	key, err := s.client.GetPublicKey(ctx, repo.Owner, repo.Name)
	if err != nil {
		return platform.PublicKey{}, err
	}
	if cache != nil {
		cache[repo.FullName()] = key
	}
	return key, nil
}

// Report prints the final summary of a run.
func Report(w io.Writer, o Outcome) {
	fmt.Fprintln(w, "\n==============================")
	if o.Interrupted {
		fmt.Fprintln(w, "sync interrupted")
	} else {
		fmt.Fprintln(w, "sync complete")
	}
	fmt.Fprintf(w, "succeeded: %d repositories\n", o.Succeeded)
	fmt.Fprintf(w, "failed: %d repositories\n", o.Failed)
	fmt.Fprintf(w, "total: %d repositories\n", o.TotalRepositories)
	fmt.Fprintf(w, "secrets synced: %d\n", o.TotalSecrets)
}
