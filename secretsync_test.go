package secretsync

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/mscno/secretsync/pkg/oskeyring"
	"github.com/mscno/secretsync/pkg/platform"
	"github.com/mscno/secretsync/testutl"
)

const testToken = "ghp_test"

func testConfig(api *testutl.FakeGitHub, out *bytes.Buffer) Config {
	return Config{
		Token:     testToken,
		Account:   testutl.Login,
		APIURL:    api.URL(),
		CacheKeys: true,
		Out:       out,
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{
		{Owner: testutl.Login, Name: "a"},
		{Owner: testutl.Login, Name: "b", Private: true},
		{Owner: testutl.Login, Name: "c"},
		{Owner: testutl.Login, Name: "forked", Fork: true},
		{Owner: "someone-else", Name: "theirs"},
	})
	api.KeyStatus[testutl.Login+"/b"] = http.StatusInternalServerError

	var out bytes.Buffer
	outcome, err := Run(context.Background(), testConfig(api, &out), []string{
		"PATH=/usr/bin",
		"SYNC_API_KEY=value-1",
		"SYNC_DB_URL= postgres://db ",
		"SYNC_EMPTY=   ",
	})
	assert.NoError(t, err)

	assert.Equal(t, 2, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 3, outcome.TotalRepositories)
	assert.Equal(t, 2, outcome.TotalSecrets)
	assert.Equal(t, 2, len(outcome.Failures()))

	for _, repo := range []string{"a", "c"} {
		got, err := api.Decrypt(testutl.Login+"/"+repo, "API_KEY")
		assert.NoError(t, err)
		assert.Equal(t, "value-1", got)
		got, err = api.Decrypt(testutl.Login+"/"+repo, "DB_URL")
		assert.NoError(t, err)
		assert.Equal(t, "postgres://db", got)
	}
	_, uploaded := api.Uploaded(testutl.Login+"/b", "API_KEY")
	assert.False(t, uploaded)

	assert.Contains(t, out.String(), "warning: skipping SYNC_EMPTY")
	assert.Contains(t, out.String(), "API_KEY=**********")
	assert.NotContains(t, out.String(), "value-1")
	assert.Contains(t, out.String(), "succeeded: 2 repositories")
	assert.Contains(t, out.String(), "failed: 1 repositories")
}

func TestRunMissingConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"missing token", func(c *Config) { c.Token = "" }, "token"},
		{"missing account", func(c *Config) { c.Account = "" }, "account"},
		{"token with app credentials", func(c *Config) { c.AppID = 1 }, "credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := testutl.NewFakeGitHub(t, testToken)
			var out bytes.Buffer
			cfg := testConfig(api, &out)
			tt.mod(&cfg)

			_, err := Run(context.Background(), cfg, []string{"SYNC_A=1"})
			var ce *ConfigurationError
			assert.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
			assert.True(t, IsConfigurationError(err))
			assert.Equal(t, 0, len(api.Requests()))
		})
	}
}

func TestRunDiscoveryFailureIsFatal(t *testing.T) {
	api := testutl.NewFakeGitHub(t, "another-token", []testutl.Repo{{Owner: testutl.Login, Name: "a"}})

	var out bytes.Buffer
	_, err := Run(context.Background(), testConfig(api, &out), []string{"SYNC_A=1"})
	var te *platform.TransportError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.NotContains(t, out.String(), "sync complete")
}

func TestRunNothingToDo(t *testing.T) {
	t.Run("no repositories", func(t *testing.T) {
		api := testutl.NewFakeGitHub(t, testToken)
		var out bytes.Buffer
		outcome, err := Run(context.Background(), testConfig(api, &out), []string{"SYNC_A=1"})
		assert.NoError(t, err)
		assert.Equal(t, 0, outcome.TotalRepositories)
		assert.Contains(t, out.String(), "nothing to do")
	})

	t.Run("no secrets", func(t *testing.T) {
		api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{{Owner: testutl.Login, Name: "a"}})
		var out bytes.Buffer
		outcome, err := Run(context.Background(), testConfig(api, &out), []string{"HOME=/root"})
		assert.NoError(t, err)
		assert.Equal(t, 1, outcome.TotalRepositories)
		assert.Equal(t, 0, len(outcome.Results))
		assert.Contains(t, out.String(), "export variables such as SYNC_API_KEY=your_value")
	})
}

func TestRunEnvFileOverridesEnvironment(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{{Owner: testutl.Login, Name: "a"}})

	envFile := filepath.Join(t.TempDir(), ".env")
	assert.NoError(t, os.WriteFile(envFile, []byte("SYNC_TOKEN=from-file\nSYNC_EXTRA=extra\n"), 0o600))

	var out bytes.Buffer
	cfg := testConfig(api, &out)
	cfg.EnvFile = envFile
	outcome, err := Run(context.Background(), cfg, []string{"SYNC_TOKEN=from-env"})
	assert.NoError(t, err)
	assert.Equal(t, 2, outcome.TotalSecrets)

	got, err := api.Decrypt(testutl.Login+"/a", "TOKEN")
	assert.NoError(t, err)
	assert.Equal(t, "from-file", got)
}

func TestRunMissingEnvFile(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{{Owner: testutl.Login, Name: "a"}})
	var out bytes.Buffer
	cfg := testConfig(api, &out)
	cfg.EnvFile = filepath.Join(t.TempDir(), "missing.env")

	_, err := Run(context.Background(), cfg, nil)
	assert.True(t, IsConfigurationError(err))
}

func TestRunDryRun(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{{Owner: testutl.Login, Name: "a"}})
	var out bytes.Buffer
	cfg := testConfig(api, &out)
	cfg.DryRun = true

	outcome, err := Run(context.Background(), cfg, []string{"SYNC_A=1"})
	assert.NoError(t, err)
	assert.Equal(t, 1, outcome.Succeeded)
	assert.Contains(t, out.String(), "would set A")
	requests := api.Requests()
	assert.Equal(t, 2, len(requests))
	for _, req := range requests {
		assert.True(t, strings.HasPrefix(req, "GET /user/repos?"))
	}
}

func TestRunFallsBackToKeyring(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{{Owner: testutl.Login, Name: "a"}})
	creds := oskeyring.NewCredentials(oskeyring.NewMemoryBackend())
	assert.NoError(t, creds.Save(testToken, testutl.Login))

	var out bytes.Buffer
	cfg := Config{APIURL: api.URL(), Keyring: creds, Out: &out}
	outcome, err := Run(context.Background(), cfg, []string{"SYNC_A=1"})
	assert.NoError(t, err)
	assert.Equal(t, 1, outcome.Succeeded)
}

func TestDebug(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		api := testutl.NewFakeGitHub(t, testToken)
		var out bytes.Buffer
		err := Debug(context.Background(), testConfig(api, &out), []string{"SYNC_API_KEY=val", "SYNC_API_KEY_2=other"}, "myrepo", "API_KEY")
		assert.NoError(t, err)

		got, err := api.Decrypt(testutl.Login+"/myrepo", "API_KEY")
		assert.NoError(t, err)
		assert.Equal(t, "val", got)
		_, uploaded := api.Uploaded(testutl.Login+"/myrepo", "API_KEY_2")
		assert.False(t, uploaded)
		assert.Contains(t, out.String(), "✅ secret API_KEY set")
	})

	t.Run("missing secret makes no requests", func(t *testing.T) {
		api := testutl.NewFakeGitHub(t, testToken)
		var out bytes.Buffer
		err := Debug(context.Background(), testConfig(api, &out), []string{"SYNC_OTHER=val"}, "myrepo", "API_KEY")
		var ce *ConfigurationError
		assert.True(t, errors.As(err, &ce))
		assert.Contains(t, ce.Reason, "SYNC_API_KEY")
		assert.Equal(t, 0, len(api.Requests()))
	})

	t.Run("failing step", func(t *testing.T) {
		api := testutl.NewFakeGitHub(t, testToken)
		api.UpsertStatus[testutl.Login+"/myrepo"] = http.StatusForbidden
		var out bytes.Buffer
		err := Debug(context.Background(), testConfig(api, &out), []string{"SYNC_API_KEY=val"}, "myrepo", "API_KEY")
		var te *platform.TransportError
		assert.True(t, errors.As(err, &te))
		assert.Equal(t, http.StatusForbidden, te.StatusCode)
		assert.Contains(t, err.Error(), "upsert")
		assert.Contains(t, out.String(), "❌ failed to upsert")
	})
}
