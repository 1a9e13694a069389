package wallet

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otherPrivKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestImport(t *testing.T) {
	m := NewManager()
	op, err := m.Import("ops", "0x"+testPrivKeyHex)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(testSignerAddr), op.Address)
	assert.Equal(t, "feeledger.ops", op.KeyRef)
	assert.True(t, op.IsDefault, "first operator is the default")
	assert.NotEmpty(t, op.CreatedAt)

	_, err = m.Import("ops", testPrivKeyHex)
	assert.ErrorIs(t, err, ErrOperatorExists)

	_, err = m.Import("bad", "0xnothex")
	assert.ErrorIs(t, err, ErrInvalidKey)

	second, err := m.Import("backup", otherPrivKeyHex)
	require.NoError(t, err)
	assert.False(t, second.IsDefault)
}

func TestResolveAndDefault(t *testing.T) {
	m := NewManager()
	_, err := m.Resolve("")
	assert.ErrorIs(t, err, ErrOperatorNotFound)

	_, err = m.Import("a", testPrivKeyHex)
	require.NoError(t, err)
	_, err = m.Import("b", otherPrivKeyHex)
	require.NoError(t, err)

	op, err := m.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "a", op.Name)

	require.NoError(t, m.SetDefault("b"))
	op, err = m.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "b", op.Name)

	assert.ErrorIs(t, m.SetDefault("ghost"), ErrOperatorNotFound)
	_, err = m.Resolve("ghost")
	assert.ErrorIs(t, err, ErrOperatorNotFound)
}

func TestRemoveDeletesKey(t *testing.T) {
	ks := NewInMemoryKeystore()
	m := NewManager(WithKeystore(ks))
	op, err := m.Import("ops", testPrivKeyHex)
	require.NoError(t, err)

	require.NoError(t, m.Remove("ops"))
	_, err = ks.Retrieve(op.KeyRef)
	assert.Error(t, err)
	assert.ErrorIs(t, m.Remove("ops"), ErrOperatorNotFound)
}

func TestJSONStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operators.json")
	ks := NewInMemoryKeystore()

	m := NewManager(WithStore(NewJSONStore(path)), WithKeystore(ks))
	_, err := m.Import("b", otherPrivKeyHex)
	require.NoError(t, err)
	_, err = m.Import("a", testPrivKeyHex)
	require.NoError(t, err)

	reloaded := NewManager(WithStore(NewJSONStore(path)), WithKeystore(ks))
	ops, err := reloaded.List()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "a", ops[0].Name)
	assert.Equal(t, common.HexToAddress(testSignerAddr), ops[0].Address)
	assert.True(t, ops[1].IsDefault)
}

func TestJSONStoreMissingFile(t *testing.T) {
	ops, err := NewJSONStore(filepath.Join(t.TempDir(), "none.json")).Load()
	require.NoError(t, err)
	assert.Empty(t, ops)
}
