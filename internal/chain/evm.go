package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrReverted is returned by Call and EstimateGas when the node reports an
// execution revert. The reason, when present, is kept in the message.
var ErrReverted = errors.New("execution reverted")

// ErrTxFailed is returned by WaitForReceipt for a mined transaction with
// status 0.
var ErrTxFailed = errors.New("transaction reverted")

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message) }

// EVMClient is a minimal JSON-RPC client for EVM chains.
type EVMClient struct {
	url    string
	client *http.Client
	poll   time.Duration
}

// Option configures an EVMClient.
type Option func(*EVMClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *EVMClient) { c.client = hc }
}

// WithPollInterval sets how often WaitForReceipt polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *EVMClient) { c.poll = d }
}

// NewEVMClient creates a new EVM JSON-RPC client pointed at url.
func NewEVMClient(url string, opts ...Option) *EVMClient {
	c := &EVMClient{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		poll: 2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// URL is the endpoint the client talks to.
func (c *EVMClient) URL() string { return c.url }

// CallMsg is an eth_call / eth_estimateGas request.
type CallMsg struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

func (m CallMsg) params() map[string]string {
	p := map[string]string{"to": m.To.Hex()}
	if m.From != (common.Address{}) {
		p["from"] = m.From.Hex()
	}
	if len(m.Data) > 0 {
		p["data"] = hexutil.Encode(m.Data)
	}
	if m.Value != nil && m.Value.Sign() > 0 {
		p["value"] = hexutil.EncodeBig(m.Value)
	}
	return p
}

// ChainID returns the chain's ID.
func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.quantity(ctx, "eth_chainId")
}

// BlockNumber returns the latest block number.
func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.quantity(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// PendingNonce returns the transaction count including pending transactions.
func (c *EVMClient) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.quantity(ctx, "eth_getTransactionCount", addr.Hex(), "pending")
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// GasPrice returns the current gas price.
func (c *EVMClient) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.quantity(ctx, "eth_gasPrice")
}

// EstimateGas estimates gas for msg.
func (c *EVMClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	n, err := c.quantity(ctx, "eth_estimateGas", msg.params(), "latest")
	if err != nil {
		return 0, revertOr(err)
	}
	return n.Uint64(), nil
}

// Call runs a read-only contract call against the latest block and returns
// the raw return data.
func (c *EVMClient) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, &out, "eth_call", msg.params(), "latest"); err != nil {
		return nil, revertOr(err)
	}
	return out, nil
}

// SendRawTransaction broadcasts a signed raw transaction.
func (c *EVMClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// TxReceipt holds the on-chain receipt of a mined transaction.
type TxReceipt struct {
	Hash        common.Hash
	Status      uint64 // 1 = success, 0 = reverted
	BlockNumber uint64
	GasUsed     uint64
}

// TransactionReceipt fetches the receipt for hash.
// Returns nil, nil if the transaction is still pending.
func (c *EVMClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*TxReceipt, error) {
	var r *struct {
		Status      hexutil.Uint64 `json:"status"`
		BlockNumber hexutil.Uint64 `json:"blockNumber"`
		GasUsed     hexutil.Uint64 `json:"gasUsed"`
	}
	if err := c.call(ctx, &r, "eth_getTransactionReceipt", hash.Hex()); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil // still pending
	}
	return &TxReceipt{
		Hash:        hash,
		Status:      uint64(r.Status),
		BlockNumber: uint64(r.BlockNumber),
		GasUsed:     uint64(r.GasUsed),
	}, nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
// A mined transaction with status 0 returns its receipt and ErrTxFailed.
func (c *EVMClient) WaitForReceipt(ctx context.Context, hash common.Hash) (*TxReceipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			if receipt.Status == 0 {
				return receipt, fmt.Errorf("%w (hash: %s)", ErrTxFailed, hash.Hex())
			}
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction %s not mined: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ping tests the RPC endpoint and returns latency + block number.
func (c *EVMClient) Ping(ctx context.Context) (latency time.Duration, blockNum uint64, err error) {
	start := time.Now()
	blockNum, err = c.BlockNumber(ctx)
	return time.Since(start), blockNum, err
}

// --- internal JSON-RPC plumbing ---

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (c *EVMClient) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("parsing %s result: %w", method, err)
	}
	return nil
}

func (c *EVMClient) quantity(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	var n hexutil.Big
	if err := c.call(ctx, &n, method, params...); err != nil {
		return nil, err
	}
	return (*big.Int)(&n), nil
}

// revertOr maps a node revert onto ErrReverted and leaves other errors alone.
func revertOr(err error) error {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	msg := rpcErr.Message
	if !strings.Contains(msg, "revert") && !strings.Contains(msg, "execution") {
		return err
	}
	// Common pattern: "execution reverted: <reason>"
	if idx := strings.Index(msg, "execution reverted:"); idx >= 0 {
		return fmt.Errorf("%w: %s", ErrReverted, strings.TrimSpace(msg[idx+len("execution reverted:"):]))
	}
	return ErrReverted
}
