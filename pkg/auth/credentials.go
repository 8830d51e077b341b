package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"mastogone/pkg/mastodon"
)

// Credential is an access token for one Mastodon instance
type Credential struct {
	Instance     string    `json:"instance"`
	Token        string    `json:"token"`
	Account      string    `json:"account,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// TokenStore is the interface for storing and retrieving access tokens.
// Credentials are keyed by normalized instance URL.
type TokenStore interface {
	// Store saves the token for an instance
	Store(cred *Credential) error

	// Retrieve gets the token for an instance
	Retrieve(instance string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the token for an instance
	Delete(instance string) error

	// Exists checks if a token exists for an instance
	Exists(instance string) bool

	// Name identifies the store in status output
	Name() string
}

// Manager handles token storage with fallback mechanisms
type Manager struct {
	stores []TokenStore
}

// NewManager creates a token manager: system keyring, then an encrypted
// file, then the environment.
func NewManager() (*Manager, error) {
	var stores []TokenStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "tokens.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over the given stores, in order
func NewManagerWithStores(stores ...TokenStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the token in the first store that accepts it and returns
// that store's name
func (m *Manager) Store(cred *Credential) (string, error) {
	if cred == nil || cred.Instance == "" {
		return "", errors.New("instance is required")
	}
	if cred.Token == "" {
		return "", errors.New("token is required")
	}

	c := *cred
	c.Instance = mastodon.NormalizeBaseURL(c.Instance)
	c.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(&c)
		if err == nil {
			return store.Name(), nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to store token: %w", lastErr)
	}
	return "", errors.New("no available token stores")
}

// Retrieve gets the token from the first store that has it, and the name
// of that store
func (m *Manager) Retrieve(instance string) (*Credential, string, error) {
	instance = mastodon.NormalizeBaseURL(instance)
	for _, store := range m.stores {
		if cred, err := store.Retrieve(instance); err == nil && cred != nil {
			return cred, store.Name(), nil
		}
	}
	return nil, "", fmt.Errorf("%w for %s", ErrTokenNotFound, instance)
}

// List returns stored credentials from all stores, newest version per instance
func (m *Manager) List() ([]*Credential, error) {
	byInstance := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, c := range creds {
			if existing, ok := byInstance[c.Instance]; !ok || c.LastModified.After(existing.LastModified) {
				byInstance[c.Instance] = c
			}
		}
	}

	result := make([]*Credential, 0, len(byInstance))
	for _, c := range byInstance {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Instance < result[j].Instance })
	return result, nil
}

// Delete removes the token from every store that has it
func (m *Manager) Delete(instance string) error {
	instance = mastodon.NormalizeBaseURL(instance)

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		err := store.Delete(instance)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete token: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for %s", ErrTokenNotFound, instance)
	}
	return nil
}

// Stores returns the names of the configured stores, in lookup order
func (m *Manager) Stores() []string {
	names := make([]string, len(m.stores))
	for i, s := range m.stores {
		names[i] = s.Name()
	}
	return names
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "mastogone")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "mastogone")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "mastogone")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "mastogone")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeCredential returns a copy with the token masked
func SanitizeCredential(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	c := *cred
	c.Token = MaskToken(cred.Token)
	return &c
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 12 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("token store unavailable")
)
