package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "mastogone"
	keyringPrefix  = "token:"
	// keyringIndex holds the list of instances, since keyrings cannot be enumerated
	keyringIndex = "index"
)

// KeyringStore implements TokenStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based token store
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Name implements TokenStore
func (k *KeyringStore) Name() string { return "keyring" }

// Store saves the token to the system keychain
func (k *KeyringStore) Store(cred *Credential) error {
	if cred == nil || cred.Instance == "" || cred.Token == "" {
		return ErrInvalidToken
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if err := keyring.Set(keyringService, keyringPrefix+cred.Instance, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(cred.Instance, true)
}

// Retrieve gets the token from the system keychain
func (k *KeyringStore) Retrieve(instance string) (*Credential, error) {
	if instance == "" {
		return nil, ErrInvalidToken
	}

	data, err := keyring.Get(keyringService, keyringPrefix+instance)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// List returns the credentials recorded in the keyring index
func (k *KeyringStore) List() ([]*Credential, error) {
	instances, err := k.index()
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(instances))
	for _, instance := range instances {
		if c, err := k.Retrieve(instance); err == nil {
			creds = append(creds, c)
		}
	}
	return creds, nil
}

// Delete removes the token from the system keychain
func (k *KeyringStore) Delete(instance string) error {
	if instance == "" {
		return ErrInvalidToken
	}

	if err := keyring.Delete(keyringService, keyringPrefix+instance); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(instance, false)
}

// Exists checks if a token exists in the keychain
func (k *KeyringStore) Exists(instance string) bool {
	if instance == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+instance)
	return err == nil
}

func (k *KeyringStore) index() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}

	var instances []string
	if err := json.Unmarshal([]byte(data), &instances); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return instances, nil
}

func (k *KeyringStore) updateIndex(instance string, add bool) error {
	instances, err := k.index()
	if err != nil {
		return err
	}

	out := instances[:0]
	for _, i := range instances {
		if i != instance {
			out = append(out, i)
		}
	}
	if add {
		out = append(out, instance)
	}

	if len(out) == 0 {
		if err := keyring.Delete(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear keyring index: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}
