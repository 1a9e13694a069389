package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Mohsinsiddi/feeledger/internal/chain"
)

// TxSigner signs transactions for a fixed account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) ([]byte, error)
}

// fallbackGas is used when the node cannot estimate.
const fallbackGas = 300000

// Sender sends write transactions to contracts.
type Sender struct {
	client  *chain.EVMClient
	signer  TxSigner
	chainID *big.Int
}

// NewSender creates a Sender.
func NewSender(client *chain.EVMClient, signer TxSigner, chainID *big.Int) *Sender {
	return &Sender{client: client, signer: signer, chainID: chainID}
}

// From is the sending account.
func (s *Sender) From() common.Address { return s.signer.Address() }

// Send packs method with args, signs an EIP-1559 transaction and broadcasts it.
func (s *Sender) Send(ctx context.Context, to common.Address, a abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	m, ok := a.Methods[method]
	if !ok {
		return common.Hash{}, fmt.Errorf("function %q not found in ABI", method)
	}
	if m.IsConstant() {
		return common.Hash{}, fmt.Errorf("function %q is not a write function", method)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding %s: %w", method, err)
	}

	from := s.signer.Address()
	msg := chain.CallMsg{From: from, To: to, Data: data}

	gas, err := s.client.EstimateGas(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return common.Hash{}, err
		}
		gas = fallbackGas
	}

	gasPrice, err := s.client.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("getting gas price: %w", err)
	}

	nonce, err := s.client.PendingNonce(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("getting nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasPrice,
		GasFeeCap: new(big.Int).Mul(gasPrice, big.NewInt(2)),
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	raw, err := s.signer.SignTx(tx, s.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	hash, err := s.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("broadcasting transaction: %w", err)
	}
	return hash, nil
}

// SendAndWait sends and waits for the receipt.
func (s *Sender) SendAndWait(ctx context.Context, to common.Address, a abi.ABI, method string, args ...interface{}) (*chain.TxReceipt, error) {
	hash, err := s.Send(ctx, to, a, method, args...)
	if err != nil {
		return nil, err
	}
	return s.client.WaitForReceipt(ctx, hash)
}
