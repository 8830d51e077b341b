package auth

import (
	"os"
	"time"

	"mastogone/pkg/config"
)

// EnvironmentStore implements TokenStore using MASTOGONE_TOKEN. The
// variable carries one token, so it answers for any instance.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based token store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Name implements TokenStore
func (e *EnvironmentStore) Name() string { return "environment" }

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets the token from the environment
func (e *EnvironmentStore) Retrieve(instance string) (*Credential, error) {
	token := os.Getenv(config.TokenEnv)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	return &Credential{
		Instance:     instance,
		Token:        token,
		LastModified: time.Now(),
	}, nil
}

// List returns nothing: the environment token is not tied to an instance
func (e *EnvironmentStore) List() ([]*Credential, error) {
	return []*Credential{}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(instance string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment token is set
func (e *EnvironmentStore) Exists(instance string) bool {
	return os.Getenv(config.TokenEnv) != ""
}
