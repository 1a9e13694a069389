// Package wallet holds the operator accounts that sign remote venue swaps.
// Operator metadata lives in a JSON file; private keys live in the keystore.
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Errors.
var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrOperatorExists   = errors.New("operator already exists")
	ErrInvalidKey       = errors.New("invalid private key")
)

// Operator is the metadata of one signing account.
type Operator struct {
	Name      string         `json:"name"`
	Address   common.Address `json:"address"`
	KeyRef    string         `json:"key_ref"`
	IsDefault bool           `json:"is_default"`
	CreatedAt string         `json:"created_at"`
}

// Store persists operators.
type Store interface {
	Load() ([]*Operator, error)
	Save([]*Operator) error
}

// Manager handles operator CRUD.
type Manager struct {
	store     Store
	keys      KeystoreBackend
	operators map[string]*Operator
	loaded    bool
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets a custom store.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithKeystore sets the key backend.
func WithKeystore(k KeystoreBackend) Option {
	return func(m *Manager) { m.keys = k }
}

// NewManager creates an operator manager. Without options it keeps
// everything in memory.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		store:     &memStore{},
		keys:      NewInMemoryKeystore(),
		operators: make(map[string]*Operator),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Keystore returns the key backend.
func (m *Manager) Keystore() KeystoreBackend { return m.keys }

// Import derives the address of a hex private key, stores the key and
// records the operator. The first operator becomes the default.
func (m *Manager) Import(name, hexKey string) (*Operator, error) {
	if err := m.load(); err != nil {
		return nil, err
	}
	if _, exists := m.operators[name]; exists {
		return nil, ErrOperatorExists
	}

	privKey, err := crypto.HexToECDSA(normaliseHexKey(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	ref, err := m.keys.Store(name, hexKey)
	if err != nil {
		return nil, fmt.Errorf("storing key: %w", err)
	}

	op := &Operator{
		Name:      name,
		Address:   crypto.PubkeyToAddress(privKey.PublicKey),
		KeyRef:    ref,
		IsDefault: len(m.operators) == 0,
		CreatedAt: m.now().UTC().Format(time.RFC3339),
	}
	m.operators[name] = op
	return op, m.persist()
}

// Get returns an operator by name.
func (m *Manager) Get(name string) (*Operator, error) {
	if err := m.load(); err != nil {
		return nil, err
	}
	op, ok := m.operators[name]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	return op, nil
}

// Remove deletes an operator and its key.
func (m *Manager) Remove(name string) error {
	if err := m.load(); err != nil {
		return err
	}
	op, ok := m.operators[name]
	if !ok {
		return ErrOperatorNotFound
	}
	if err := m.keys.Delete(op.KeyRef); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	delete(m.operators, name)
	return m.persist()
}

// List returns all operators sorted by name.
func (m *Manager) List() ([]*Operator, error) {
	if err := m.load(); err != nil {
		return nil, err
	}
	out := make([]*Operator, 0, len(m.operators))
	for _, op := range m.operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetDefault marks an operator as the default.
func (m *Manager) SetDefault(name string) error {
	if err := m.load(); err != nil {
		return err
	}
	if _, ok := m.operators[name]; !ok {
		return ErrOperatorNotFound
	}
	for _, op := range m.operators {
		op.IsDefault = op.Name == name
	}
	return m.persist()
}

// Resolve returns the named operator, or the default one when name is empty.
func (m *Manager) Resolve(name string) (*Operator, error) {
	if name != "" {
		return m.Get(name)
	}
	ops, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if op.IsDefault {
			return op, nil
		}
	}
	if len(ops) == 1 {
		return ops[0], nil
	}
	return nil, ErrOperatorNotFound
}

// Signer returns a signer for the named (or default) operator.
func (m *Manager) Signer(name string) (*Signer, error) {
	op, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	return NewSigner(op, m.keys), nil
}

// --- internal ---

func (m *Manager) load() error {
	if m.loaded {
		return nil
	}
	ops, err := m.store.Load()
	if err != nil {
		return err
	}
	for _, op := range ops {
		m.operators[op.Name] = op
	}
	m.loaded = true
	return nil
}

func (m *Manager) persist() error {
	ops := make([]*Operator, 0, len(m.operators))
	for _, op := range m.operators {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return m.store.Save(ops)
}

// --- in-memory store ---

type memStore struct {
	operators []*Operator
}

func (s *memStore) Load() ([]*Operator, error) { return s.operators, nil }

func (s *memStore) Save(ops []*Operator) error {
	s.operators = ops
	return nil
}

// --- JSON file store ---

// JSONStore persists operators to a JSON file.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed operator store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Load() ([]*Operator, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ops []*Operator
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return ops, nil
}

func (s *JSONStore) Save(ops []*Operator) error {
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
