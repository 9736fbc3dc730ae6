// Package testutl provides an in-process fake of the GitHub REST endpoints
// used by secretsync.
package testutl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-michi/michi"
	"github.com/mscno/secretsync/pkg/crypto"
)

// Repo is a repository served by the fake listing endpoints.
type Repo struct {
	Owner   string
	Name    string
	Private bool
	Fork    bool
}

// Upload is a secret received by the fake upsert endpoint.
type Upload struct {
	KeyID          string `json:"key_id"`
	EncryptedValue string `json:"encrypted_value"`
}

// FakeGitHub serves /user, /user/repos, /installation/repositories and the Actions
// secret endpoints from memory.
type FakeGitHub struct {
	Token string
	// Pages are served in order from page 1; later pages are empty.
	Pages [][]Repo
	// KeyStatus forces a status code on the public-key endpoint, by owner/repo.
	KeyStatus map[string]int
	// MissingKeyField drops "key" or "key_id" from the public-key response, by owner/repo.
	MissingKeyField map[string]string
	// UpsertStatus forces a status code on the upsert endpoint, by owner/repo.
	UpsertStatus map[string]int

	Server *httptest.Server

	mu       sync.Mutex
	keys     map[string]*crypto.Keypair
	uploads  map[string]map[string]Upload
	requests []string
	accept   []string
}

// NewFakeGitHub starts a fake API server that is closed with the test.
func NewFakeGitHub(t *testing.T, token string, pages ...[]Repo) *FakeGitHub {
	t.Helper()
	f := &FakeGitHub{
		Token:           token,
		Pages:           pages,
		KeyStatus:       map[string]int{},
		MissingKeyField: map[string]string{},
		UpsertStatus:    map[string]int{},
		keys:            map[string]*crypto.Keypair{},
		uploads:         map[string]map[string]Upload{},
	}

	mux := michi.NewRouter()
	mux.Use(f.authenticate)
	mux.Handle("GET /user", http.HandlerFunc(f.user))
	mux.Handle("GET /user/repos", http.HandlerFunc(f.listUserRepos))
	mux.Handle("GET /installation/repositories", http.HandlerFunc(f.listInstallationRepos))
	mux.Handle("GET /repos/{owner}/{repo}/actions/secrets/public-key", http.HandlerFunc(f.publicKey))
	mux.Handle("PUT /repos/{owner}/{repo}/actions/secrets/{name}", http.HandlerFunc(f.upsert))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the API base URL of the fake.
func (f *FakeGitHub) URL() string {
	return f.Server.URL + "/"
}

// Requests returns "METHOD path?query" for every request received.
func (f *FakeGitHub) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// AcceptHeaders returns the Accept header of every request received.
func (f *FakeGitHub) AcceptHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accept...)
}

// Keypair returns the repository keypair, creating it on first use.
func (f *FakeGitHub) Keypair(fullName string) *crypto.Keypair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keypairLocked(fullName)
}

// KeyID is the key_id served for a repository.
func KeyID(fullName string) string {
	return "key-" + fullName
}

// Uploaded returns the secret stored for a repository, if any.
func (f *FakeGitHub) Uploaded(fullName, name string) (Upload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[fullName][name]
	return u, ok
}

// Decrypt opens an uploaded secret with the repository's private key.
func (f *FakeGitHub) Decrypt(fullName, name string) (string, error) {
	u, ok := f.Uploaded(fullName, name)
	if !ok {
		return "", fmt.Errorf("secret %s not uploaded to %s", name, fullName)
	}
	pt, err := f.Keypair(fullName).Open(u.EncryptedValue)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func (f *FakeGitHub) keypairLocked(fullName string) *crypto.Keypair {
	kp, ok := f.keys[fullName]
	if !ok {
		kp = &crypto.Keypair{}
		if err := kp.Generate(); err != nil {
			panic(err)
		}
		f.keys[fullName] = kp
	}
	return kp
}

func (f *FakeGitHub) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
		f.accept = append(f.accept, r.Header.Get("Accept"))
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+f.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGitHub) page(r *http.Request) []map[string]any {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	out := []map[string]any{}
	if page > len(f.Pages) {
		return out
	}
	for _, repo := range f.Pages[page-1] {
		out = append(out, map[string]any{
			"name":      repo.Name,
			"full_name": repo.Owner + "/" + repo.Name,
			"private":   repo.Private,
			"fork":      repo.Fork,
			"owner":     map[string]any{"login": repo.Owner},
		})
	}
	return out
}

func (f *FakeGitHub) user(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"id": 1, "login": Login})
}

func (f *FakeGitHub) listUserRepos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, f.page(r))
}

func (f *FakeGitHub) listInstallationRepos(w http.ResponseWriter, r *http.Request) {
	repos := f.page(r)
	writeJSON(w, http.StatusOK, map[string]any{"total_count": len(repos), "repositories": repos})
}

func (f *FakeGitHub) publicKey(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	f.mu.Lock()
	status, forced := f.KeyStatus[fullName]
	missing := f.MissingKeyField[fullName]
	kp := f.keypairLocked(fullName)
	f.mu.Unlock()

	if forced {
		writeJSON(w, status, map[string]string{"message": "forced failure"})
		return
	}

	body := map[string]string{"key_id": KeyID(fullName), "key": kp.PublicString()}
	delete(body, missing)
	writeJSON(w, http.StatusOK, body)
}

func (f *FakeGitHub) upsert(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	f.mu.Lock()
	status, forced := f.UpsertStatus[fullName]
	f.mu.Unlock()
	if forced {
		writeJSON(w, status, map[string]string{"message": "forced failure"})
		return
	}

	var u Upload
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	if u.KeyID != KeyID(fullName) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "unknown key_id"})
		return
	}

	f.mu.Lock()
	if f.uploads[fullName] == nil {
		f.uploads[fullName] = map[string]Upload{}
	}
	_, existed := f.uploads[fullName][r.PathValue("name")]
	f.uploads[fullName][r.PathValue("name")] = u
	f.mu.Unlock()

	if existed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Login is served by GET /user for the authenticated token.
const Login = "octocat"
