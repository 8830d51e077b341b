package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"mastogone/pkg/config"
	"mastogone/pkg/storage"
)

const (
	// PassphraseEnv overrides the generated passphrase file
	PassphraseEnv = config.EnvPrefix + "PASSPHRASE"

	vaultVersion    = 2
	vaultSaltSize   = 32
	vaultKeySize    = 32
	vaultIterations = 210000
)

// vaultAAD binds ciphertexts to this file format
var vaultAAD = []byte("mastogone token vault v2")

// vaultFile is the on-disk document. Only the salt and nonce are in the clear.
type vaultFile struct {
	Version    int       `json:"version"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	Modified   time.Time `json:"modified"`
}

// EncryptedFileStore keeps every instance's token in one AES-GCM sealed
// file. The key is derived with PBKDF2 from MASTOGONE_PASSPHRASE or from a
// generated passphrase stored owner-only next to the file.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// NewEncryptedFileStore creates a store backed by path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	pass, err := loadPassphrase(filepath.Join(filepath.Dir(path), ".passphrase"))
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

func (e *EncryptedFileStore) Name() string { return "encrypted-file" }

// Store adds or replaces the instance's token
func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Instance == "" || cred.Token == "" {
		return ErrInvalidToken
	}
	return e.update(func(tokens map[string]Credential) error {
		tokens[cred.Instance] = *cred
		return nil
	})
}

// Retrieve returns the instance's token. A wrong passphrase is an error,
// not ErrTokenNotFound.
func (e *EncryptedFileStore) Retrieve(instance string) (*Credential, error) {
	if instance == "" {
		return nil, ErrInvalidToken
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := e.read()
	if err != nil {
		return nil, err
	}
	cred, ok := tokens[instance]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &cred, nil
}

func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := e.read()
	if err != nil {
		return nil, err
	}
	out := make([]*Credential, 0, len(tokens))
	for _, c := range tokens {
		out = append(out, &c)
	}
	return out, nil
}

// Delete removes the instance's token. The file goes away with its last token.
func (e *EncryptedFileStore) Delete(instance string) error {
	if instance == "" {
		return ErrInvalidToken
	}
	return e.update(func(tokens map[string]Credential) error {
		if _, ok := tokens[instance]; !ok {
			return ErrTokenNotFound
		}
		delete(tokens, instance)
		return nil
	})
}

func (e *EncryptedFileStore) Exists(instance string) bool {
	c, err := e.Retrieve(instance)
	return err == nil && c != nil
}

// update runs fn on the decrypted tokens and writes the result back
func (e *EncryptedFileStore) update(fn func(map[string]Credential) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := e.read()
	if err != nil {
		return err
	}
	if err := fn(tokens); err != nil {
		return err
	}

	if len(tokens) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove token file: %w", err)
		}
		return nil
	}
	return e.write(tokens)
}

// read decrypts the file; a missing file is an empty vault
func (e *EncryptedFileStore) read() (map[string]Credential, error) {
	raw, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return map[string]Credential{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if vf.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported token file version %d", vf.Version)
	}

	gcm, err := e.cipher(vf.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, vf.Nonce, vf.Ciphertext, vaultAAD)
	if err != nil {
		return nil, errors.New("failed to decrypt token file: wrong passphrase or corrupted file")
	}

	tokens := map[string]Credential{}
	if err := json.Unmarshal(plain, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse tokens: %w", err)
	}
	return tokens, nil
}

// write seals tokens under a fresh salt and nonce
func (e *EncryptedFileStore) write(tokens map[string]Credential) error {
	plain, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	vf := vaultFile{
		Version:  vaultVersion,
		Salt:     make([]byte, vaultSaltSize),
		Modified: time.Now().UTC(),
	}
	if _, err := rand.Read(vf.Salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := e.cipher(vf.Salt)
	if err != nil {
		return err
	}
	vf.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(vf.Nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	vf.Ciphertext = gcm.Seal(nil, vf.Nonce, plain, vaultAAD)

	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}
	return storage.WriteAtomic(e.path, data)
}

func (e *EncryptedFileStore) cipher(salt []byte) (cipher.AEAD, error) {
	if len(salt) != vaultSaltSize {
		return nil, errors.New("token file has an invalid salt")
	}
	key := pbkdf2.Key(e.passphrase, salt, vaultIterations, vaultKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadPassphrase prefers MASTOGONE_PASSPHRASE, then the passphrase file,
// and creates that file on first use
func loadPassphrase(file string) ([]byte, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return []byte(p), nil
	}

	if b, err := os.ReadFile(file); err == nil && len(b) > 0 {
		return b, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(buf))
	if err := storage.WriteAtomic(file, pass); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
