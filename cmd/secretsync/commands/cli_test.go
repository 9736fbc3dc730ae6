package commands

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/kong"
	"github.com/mscno/secretsync"
	"github.com/mscno/secretsync/pkg/oskeyring"
	"github.com/mscno/secretsync/testutl"
)

const testToken = "ghp_test"

func testCtx(out *bytes.Buffer, environ ...string) *cliCtx {
	return &cliCtx{
		Context:   context.Background(),
		Logger:    slog.Default(),
		OSKeyring: oskeyring.NewCredentials(oskeyring.NewMemoryBackend()),
		Out:       out,
		Environ:   environ,
	}
}

func testGlobals(api *testutl.FakeGitHub) *Globals {
	return &Globals{
		Token:  testToken,
		User:   testutl.Login,
		Prefix: "SYNC_",
		APIURL: api.URL(),
	}
}

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"no debug", []string{"--dry-run"}, []string{"--dry-run"}},
		{"debug only", []string{"--debug", "repo", "API_KEY"}, []string{"debug", "repo", "API_KEY"}},
		{"flags around", []string{"--user", "me", "--debug", "repo", "API_KEY", "--pause", "0s"}, []string{"debug", "repo", "API_KEY", "--user", "me", "--pause", "0s"}},
		{"missing secret", []string{"--debug", "repo"}, []string{"debug", "repo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeArgs(tt.in))
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("sync is the default command", func(t *testing.T) {
		var c cli
		parser, err := newParser(&c, "test", kong.Exit(func(int) {}))
		assert.NoError(t, err)

		kctx, err := parser.Parse([]string{"--user", "me", "--dry-run"})
		assert.NoError(t, err)
		assert.Equal(t, "sync", kctx.Command())
		assert.Equal(t, "me", c.User)
		assert.True(t, c.DryRun)
		assert.Equal(t, 100*time.Millisecond, c.Pause)
	})

	t.Run("debug flag", func(t *testing.T) {
		var c cli
		parser, err := newParser(&c, "test", kong.Exit(func(int) {}))
		assert.NoError(t, err)

		kctx, err := parser.Parse(normalizeArgs([]string{"--user", "me", "--debug", "myrepo", "API_KEY"}))
		assert.NoError(t, err)
		assert.Equal(t, "debug <repo> <secret>", kctx.Command())
		assert.Equal(t, "myrepo", c.Debug.Repo)
		assert.Equal(t, "API_KEY", c.Debug.Secret)
	})

	t.Run("invalid log level", func(t *testing.T) {
		var c cli
		parser, err := newParser(&c, "test", kong.Exit(func(int) {}))
		assert.NoError(t, err)

		_, err = parser.Parse([]string{"--log-level", "loud"})
		assert.Error(t, err)
	})
}

func TestSyncCmd(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{
		{Owner: testutl.Login, Name: "a"},
		{Owner: testutl.Login, Name: "b"},
	})
	api.UpsertStatus[testutl.Login+"/b"] = http.StatusForbidden

	var out bytes.Buffer
	err := (&SyncCmd{}).Run(testCtx(&out, "SYNC_API_KEY=value"), testGlobals(api))
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "sync complete")
	assert.Contains(t, out.String(), "succeeded: 1 repositories")
	assert.Contains(t, out.String(), "failed: 1 repositories")
}

func TestSyncCmdMissingToken(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken)
	g := testGlobals(api)
	g.Token = ""

	var out bytes.Buffer
	err := (&SyncCmd{}).Run(testCtx(&out), g)
	assert.True(t, secretsync.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")
}

func TestSyncCmdKeyring(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken, []testutl.Repo{{Owner: testutl.Login, Name: "a"}})
	g := &Globals{Prefix: "SYNC_", APIURL: api.URL(), Keyring: true}

	var out bytes.Buffer
	ctx := testCtx(&out, "SYNC_API_KEY=value")
	assert.NoError(t, ctx.OSKeyring.Save(testToken, testutl.Login))

	err := (&SyncCmd{}).Run(ctx, g)
	assert.NoError(t, err)
	got, err := api.Decrypt(testutl.Login+"/a", "API_KEY")
	assert.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestDebugCmd(t *testing.T) {
	t.Run("applies the secret", func(t *testing.T) {
		api := testutl.NewFakeGitHub(t, testToken)
		var out bytes.Buffer
		err := (&DebugCmd{Repo: "myrepo", Secret: "API_KEY"}).Run(testCtx(&out, "SYNC_API_KEY=val"), testGlobals(api))
		assert.NoError(t, err)
		assert.Contains(t, out.String(), "1. fetching public key...")
		assert.Contains(t, out.String(), "3. upserting secret...")
	})

	t.Run("missing secret", func(t *testing.T) {
		api := testutl.NewFakeGitHub(t, testToken)
		var out bytes.Buffer
		err := (&DebugCmd{Repo: "myrepo", Secret: "API_KEY"}).Run(testCtx(&out), testGlobals(api))
		assert.True(t, secretsync.IsConfigurationError(err))
		assert.Equal(t, 0, len(api.Requests()))
	})
}

func TestAuthCmds(t *testing.T) {
	api := testutl.NewFakeGitHub(t, testToken)
	g := testGlobals(api)

	var out bytes.Buffer
	ctx := testCtx(&out)

	assert.NoError(t, (&StatusCmd{}).Run(ctx, g))
	assert.Contains(t, out.String(), "Not logged in.")

	assert.NoError(t, ctx.OSKeyring.Save(testToken, testutl.Login))
	out.Reset()
	assert.NoError(t, (&StatusCmd{}).Run(ctx, g))
	assert.Equal(t, "Logged in as octocat.\n", out.String())

	out.Reset()
	assert.NoError(t, (&LogoutCmd{}).Run(ctx, g))
	_, err := ctx.OSKeyring.Token()
	assert.IsError(t, err, oskeyring.ErrNotFound)

	err = (&LoginCmd{}).Run(ctx, g)
	assert.Contains(t, err.Error(), "GitHub Client ID must be provided")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
