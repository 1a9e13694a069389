// Package chaintest runs an in-process JSON-RPC node for tests. Contract
// calls are answered by handlers registered per address; sent transactions
// are decoded, recorded and mined at once.
package chaintest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Handler answers an eth_call (or a mined transaction) against one contract.
// A non-nil error is reported as "execution reverted: <err>".
type Handler func(from common.Address, data []byte) ([]byte, error)

// Node is a fake EVM JSON-RPC endpoint.
type Node struct {
	URL     string
	ChainID *big.Int

	mu        sync.Mutex
	contracts map[common.Address]Handler
	sent      []*types.Transaction
	receipts  map[common.Hash]uint64
	block     uint64
	methods   []string
}

// New starts a node that is shut down when t ends.
func New(t testing.TB, chainID int64) *Node {
	t.Helper()
	n := &Node{
		ChainID:   big.NewInt(chainID),
		contracts: make(map[common.Address]Handler),
		receipts:  make(map[common.Hash]uint64),
		block:     100,
	}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	n.URL = srv.URL
	return n
}

// Handle installs h for calls to addr.
func (n *Node) Handle(addr common.Address, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contracts[addr] = h
}

// Sent returns the transactions broadcast so far.
func (n *Node) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// Methods returns the RPC methods called, in order.
func (n *Node) Methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.methods...)
}

type request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     int               `json:"id"`
}

type callArgs struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.methods = append(n.methods, req.Method)
	n.mu.Unlock()

	result, rpcErr := n.dispatch(req)
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *Node) dispatch(req request) (interface{}, *rpcError) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch req.Method {
	case "eth_chainId":
		return hexutil.EncodeBig(n.ChainID), nil
	case "eth_blockNumber":
		return hexutil.EncodeUint64(n.block), nil
	case "eth_gasPrice":
		return hexutil.EncodeUint64(1_000_000_000), nil
	case "eth_getTransactionCount":
		return hexutil.EncodeUint64(uint64(len(n.sent))), nil
	case "eth_estimateGas":
		return hexutil.EncodeUint64(150000), nil
	case "eth_call":
		var args callArgs
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &args) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
		h, ok := n.contracts[args.To]
		if !ok {
			return "0x", nil
		}
		out, err := h(args.From, args.Data)
		if err != nil {
			return nil, &rpcError{Code: 3, Message: "execution reverted: " + err.Error()}
		}
		return hexutil.Encode(out), nil
	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &raw) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, &rpcError{Code: -32000, Message: fmt.Sprintf("decoding tx: %v", err)}
		}
		from, err := types.Sender(types.LatestSignerForChainID(n.ChainID), tx)
		if err != nil {
			return nil, &rpcError{Code: -32000, Message: "invalid sender"}
		}
		n.sent = append(n.sent, tx)
		n.block++
		status := uint64(1)
		if to := tx.To(); to != nil {
			if h, ok := n.contracts[*to]; ok {
				if _, err := h(from, tx.Data()); err != nil {
					status = 0
				}
			}
		}
		n.receipts[tx.Hash()] = status
		return tx.Hash().Hex(), nil
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &hash) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
		status, ok := n.receipts[hash]
		if !ok {
			return nil, nil
		}
		return map[string]string{
			"status":      hexutil.EncodeUint64(status),
			"blockNumber": hexutil.EncodeUint64(n.block),
			"gasUsed":     hexutil.EncodeUint64(120000),
		}, nil
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}
