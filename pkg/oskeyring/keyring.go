// Package oskeyring keeps the GitHub token and account name in the operating
// system's keyring so they need not be exported in every shell.
package oskeyring

import (
	"errors"
	"fmt"
	"sync"

	keyringlib "github.com/zalando/go-keyring"
)

// ServiceName is the keyring service all entries are stored under.
const ServiceName = "secretsync"

const (
	tokenEntry   = "github_token"
	accountEntry = "github_account"
)

// ErrNotFound is returned when the keyring holds no entry for a lookup.
var ErrNotFound = errors.New("credential not found in keyring")

// Backend is the raw keyring interface.
type Backend interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
	Delete(service, user string) error
}

// SystemBackend stores entries in the OS keyring through zalando/go-keyring.
type SystemBackend struct{}

func (SystemBackend) Get(service, user string) (string, error) {
	secret, err := keyringlib.Get(service, user)
	if err != nil {
		if errors.Is(err, keyringlib.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read OS keyring: %w", err)
	}
	return secret, nil
}

func (SystemBackend) Set(service, user, password string) error {
	return keyringlib.Set(service, user, password)
}

func (SystemBackend) Delete(service, user string) error {
	err := keyringlib.Delete(service, user)
	if errors.Is(err, keyringlib.ErrNotFound) {
		return nil
	}
	return err
}

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string]string{}}
}

func (m *MemoryBackend) Get(service, user string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[service+"/"+user]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(service, user, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[service+"/"+user] = password
	return nil
}

func (m *MemoryBackend) Delete(service, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, service+"/"+user)
	return nil
}

var (
	_ Backend = SystemBackend{}
	_ Backend = (*MemoryBackend)(nil)
)

// Credentials reads and writes the stored token and account.
type Credentials struct {
	backend Backend
}

// NewCredentials returns a credential store over backend.
func NewCredentials(backend Backend) *Credentials {
	return &Credentials{backend: backend}
}

// Token returns the stored access token or ErrNotFound.
func (c *Credentials) Token() (string, error) {
	return c.get(tokenEntry)
}

// Account returns the stored account login or ErrNotFound.
func (c *Credentials) Account() (string, error) {
	return c.get(accountEntry)
}

// Save stores the token and, when non-empty, the account.
func (c *Credentials) Save(token, account string) error {
	if token == "" {
		return errors.New("refusing to store an empty token")
	}
	if err := c.backend.Set(ServiceName, tokenEntry, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	if account == "" {
		return nil
	}
	if err := c.backend.Set(ServiceName, accountEntry, account); err != nil {
		return fmt.Errorf("failed to store account in keyring: %w", err)
	}
	return nil
}

// Clear removes both entries. Missing entries are not an error.
func (c *Credentials) Clear() error {
	return errors.Join(
		c.backend.Delete(ServiceName, tokenEntry),
		c.backend.Delete(ServiceName, accountEntry),
	)
}

func (c *Credentials) get(entry string) (string, error) {
	v, err := c.backend.Get(ServiceName, entry)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}
