package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs EVM transactions for an operator.
type Signer struct {
	op *Operator
	ks KeystoreBackend
}

// NewSigner creates a signer for the given operator.
func NewSigner(op *Operator, ks KeystoreBackend) *Signer {
	return &Signer{op: op, ks: ks}
}

// SignTx signs an EVM transaction and returns the raw signed bytes.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	hexKey, err := s.ks.Retrieve(s.op.KeyRef)
	if err != nil {
		return nil, fmt.Errorf("retrieving key: %w", err)
	}

	privKey, err := crypto.HexToECDSA(normaliseHexKey(hexKey))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if got := crypto.PubkeyToAddress(privKey.PublicKey); got != s.op.Address {
		return nil, fmt.Errorf("stored key belongs to %s, operator %q is %s", got.Hex(), s.op.Name, s.op.Address.Hex())
	}

	signed, err := types.SignTx(tx, types.NewLondonSigner(chainID), privKey)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling signed tx: %w", err)
	}
	return raw, nil
}

// Address returns the operator's address.
func (s *Signer) Address() common.Address {
	return s.op.Address
}
