package auth

import (
	"sync"
)

// MockStore implements TokenStore in memory for tests
type MockStore struct {
	tokens map[string]*Credential
	mu     sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates a new mock token store
func NewMockStore() *MockStore {
	return &MockStore{
		tokens: make(map[string]*Credential),
	}
}

// Name implements TokenStore
func (m *MockStore) Name() string { return "mock" }

// Store saves the token to the mock store
func (m *MockStore) Store(cred *Credential) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if cred == nil || cred.Instance == "" || cred.Token == "" {
		return ErrInvalidToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.tokens[cred.Instance] = &c
	return nil
}

// Retrieve gets the token from the mock store
func (m *MockStore) Retrieve(instance string) (*Credential, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.tokens[instance]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *c
	return &cp, nil
}

// List returns all stored credentials
func (m *MockStore) List() ([]*Credential, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	creds := make([]*Credential, 0, len(m.tokens))
	for _, c := range m.tokens {
		cp := *c
		creds = append(creds, &cp)
	}
	return creds, nil
}

// Delete removes the token from the mock store
func (m *MockStore) Delete(instance string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[instance]; !ok {
		return ErrTokenNotFound
	}
	delete(m.tokens, instance)
	return nil
}

// Exists checks if a token exists in the mock store
func (m *MockStore) Exists(instance string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tokens[instance]
	return ok
}

// Count returns the number of stored tokens
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

// NewMockManager creates a Manager backed by a single mock store
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}
