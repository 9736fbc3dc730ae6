package sync

import (
	"context"
	"fmt"

	"github.com/mscno/secretsync/pkg/secrets"
)

// Diagnose runs the apply steps against a single repository and reports each
// step on its own line, so a failing repository can be investigated without
// a full run. It returns the error of the first failing step.
func (s *Syncer) Diagnose(ctx context.Context, owner, repo string, spec secrets.Spec) error {
	fmt.Fprintf(s.out, "\n=== diagnosing %s/%s with secret %s ===\n", owner, repo, spec.Name)

	fmt.Fprintln(s.out, "1. fetching public key...")
	key, err := s.client.GetPublicKey(ctx, owner, repo)
	if err != nil {
		fmt.Fprintf(s.out, "❌ failed to fetch public key: %v\n", err)
		return fmt.Errorf("%s: %w", StageFetchKey, err)
	}
	fmt.Fprintf(s.out, "✅ public key fetched, key_id: %s\n", key.KeyID)

	fmt.Fprintln(s.out, "2. encrypting...")
	if spec.Value == "" {
		fmt.Fprintf(s.out, "❌ %v\n", ErrEmptyValue)
		return fmt.Errorf("%s: %w", StageValidate, ErrEmptyValue)
	}
	sealed, err := s.seal(key.Key, []byte(spec.Value))
	if err != nil {
		fmt.Fprintf(s.out, "❌ failed to encrypt: %v\n", err)
		return fmt.Errorf("%s: %w", StageEncrypt, err)
	}
	fmt.Fprintf(s.out, "✅ encrypted, ciphertext length: %d\n", len(sealed))

	fmt.Fprintln(s.out, "3. upserting secret...")
	if err := s.client.UpsertSecret(ctx, owner, repo, spec.Name, sealed, key.KeyID); err != nil {
		fmt.Fprintf(s.out, "❌ failed to upsert: %v\n", err)
		return fmt.Errorf("%s: %w", StageUpsert, err)
	}
	fmt.Fprintf(s.out, "✅ secret %s set\n", spec.Name)

	s.logger.Debug("diagnosis passed", "repo", owner+"/"+repo, "secret", spec.Name, "key_id", key.KeyID)
	return nil
}
