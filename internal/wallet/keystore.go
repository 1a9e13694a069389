package wallet

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
)

const keychainService = "feeledger"

// KeyEnv overrides every keystore lookup with a single hex key. Meant for CI
// and containers without a keychain.
const KeyEnv = "FEELEDGER_OPERATOR_KEY"

// ErrKeystoreUnavailable is returned when no keyring backend could be opened.
var ErrKeystoreUnavailable = errors.New("keystore not available")

// KeystoreBackend stores operator private keys by reference.
type KeystoreBackend interface {
	Store(name, hexKey string) (string, error)
	Retrieve(ref string) (string, error)
	Delete(ref string) error
}

// Keystore wraps OS keychain access.
type Keystore struct {
	ring keyring.Keyring
}

// DefaultKeystore returns a keystore backed by the OS keychain. On Linux it
// falls back to an encrypted file under dir, unlocked with the password from
// FEELEDGER_KEYRING_PASSWORD or an interactive prompt.
func DefaultKeystore(dir string) *Keystore {
	cfg := keyring.Config{
		ServiceName:              keychainService,
		KeychainTrustApplication: true,
		FileDir:                  dir,
		FilePasswordFunc:         filePassword,
	}

	// On Linux without a GUI, fall back to file-based storage.
	if runtime.GOOS == "linux" {
		cfg.AllowedBackends = []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.FileBackend,
		}
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		ring, err = keyring.Open(keyring.Config{
			ServiceName:      keychainService,
			AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
			FileDir:          dir,
			FilePasswordFunc: filePassword,
		})
		if err != nil {
			return &Keystore{}
		}
	}
	return &Keystore{ring: ring}
}

// FileKeystore opens a file-backed keystore in dir with a fixed password.
func FileKeystore(dir, password string) (*Keystore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      keychainService,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("opening file keystore: %w", err)
	}
	return &Keystore{ring: ring}, nil
}

func filePassword(prompt string) (string, error) {
	if pw := os.Getenv("FEELEDGER_KEYRING_PASSWORD"); pw != "" {
		return pw, nil
	}
	return keyring.TerminalPrompt(prompt)
}

// Store saves a private key for an operator name and returns its reference.
func (k *Keystore) Store(name, hexKey string) (string, error) {
	if k.ring == nil {
		return "", ErrKeystoreUnavailable
	}
	ref := keychainService + "." + name
	err := k.ring.Set(keyring.Item{
		Key:   ref,
		Data:  []byte(normaliseHexKey(hexKey)),
		Label: "feeledger operator " + name,
	})
	if err != nil {
		return "", fmt.Errorf("keychain store: %w", err)
	}
	return ref, nil
}

// Retrieve fetches a private key by its reference. KeyEnv, when set, wins.
func (k *Keystore) Retrieve(ref string) (string, error) {
	if v := os.Getenv(KeyEnv); v != "" {
		return normaliseHexKey(v), nil
	}
	if k.ring == nil {
		return "", ErrKeystoreUnavailable
	}
	item, err := k.ring.Get(ref)
	if err != nil {
		return "", fmt.Errorf("keychain retrieve: %w", err)
	}
	return string(item.Data), nil
}

// Delete removes a stored key.
func (k *Keystore) Delete(ref string) error {
	if k.ring == nil {
		return nil
	}
	if err := k.ring.Remove(ref); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

// InMemoryKeystore keeps keys in memory (for tests).
type InMemoryKeystore struct {
	data map[string]string
}

// NewInMemoryKeystore creates an in-memory keystore.
func NewInMemoryKeystore() *InMemoryKeystore {
	return &InMemoryKeystore{data: make(map[string]string)}
}

func (k *InMemoryKeystore) Store(name, hexKey string) (string, error) {
	ref := keychainService + "." + name
	k.data[ref] = normaliseHexKey(hexKey)
	return ref, nil
}

func (k *InMemoryKeystore) Retrieve(ref string) (string, error) {
	v, ok := k.data[ref]
	if !ok {
		return "", fmt.Errorf("key not found: %s", ref)
	}
	return v, nil
}

func (k *InMemoryKeystore) Delete(ref string) error {
	delete(k.data, ref)
	return nil
}

// normaliseHexKey trims whitespace and a 0x/0X prefix.
func normaliseHexKey(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
