package wallet

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dynamicTx() *types.Transaction {
	to := common.HexToAddress("0x01")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(8453),
		Nonce:     3,
		GasTipCap: big.NewInt(1e9),
		GasFeeCap: big.NewInt(2e9),
		Gas:       100000,
		To:        &to,
		Value:     big.NewInt(0),
	})
}

func TestSignTxRecoversOperator(t *testing.T) {
	m := NewManager()
	_, err := m.Import("ops", testPrivKeyHex)
	require.NoError(t, err)
	s, err := m.Signer("")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testSignerAddr), s.Address())

	raw, err := s.SignTx(dynamicTx(), big.NewInt(8453))
	require.NoError(t, err)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(raw))
	from, err := types.Sender(types.NewLondonSigner(big.NewInt(8453)), &tx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
	assert.Equal(t, uint64(3), tx.Nonce())
}

func TestSignTxKeyMissing(t *testing.T) {
	t.Setenv(KeyEnv, "")
	op := &Operator{Name: "ghost", Address: common.HexToAddress(testSignerAddr), KeyRef: "feeledger.ghost"}
	_, err := NewSigner(op, NewInMemoryKeystore()).SignTx(dynamicTx(), big.NewInt(8453))
	assert.ErrorContains(t, err, "retrieving key")
}

func TestSignTxKeyMismatch(t *testing.T) {
	ks := NewInMemoryKeystore()
	ref, _ := ks.Store("ops", otherPrivKeyHex)
	op := &Operator{Name: "ops", Address: common.HexToAddress(testSignerAddr), KeyRef: ref}
	_, err := NewSigner(op, ks).SignTx(dynamicTx(), big.NewInt(8453))
	assert.ErrorContains(t, err, "stored key belongs to")
}

func TestSignTxChainIDsDiffer(t *testing.T) {
	m := NewManager()
	_, err := m.Import("ops", testPrivKeyHex)
	require.NoError(t, err)
	s, _ := m.Signer("ops")

	tx := types.NewTransaction(0, common.Address{1}, big.NewInt(0), 21000, big.NewInt(1e9), nil)
	a, err := s.SignTx(tx, big.NewInt(1))
	require.NoError(t, err)
	b, err := s.SignTx(tx, big.NewInt(8453))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
