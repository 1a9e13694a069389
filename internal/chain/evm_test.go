package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// rpcMock creates a test HTTP server that serves a fixed JSON-RPC response
// per method. Pass method→result pairs; any unknown method returns an RPC error.
func rpcMock(t *testing.T, responses map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int    `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if result, ok := responses[req.Method]; ok {
			json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  result,
			})
		} else {
			json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// rpcErrorServer creates a test HTTP server that always returns a JSON-RPC error.
func rpcErrorServer(t *testing.T, code int, msg string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": code, "message": msg},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// rpcBadJSON creates a server that returns malformed JSON.
func rpcBadJSON(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not valid json`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---------------------------------------------------------------------------
// quantities
// ---------------------------------------------------------------------------

func TestQuantities(t *testing.T) {
	srv := rpcMock(t, map[string]interface{}{
		"eth_chainId":             "0x2105",
		"eth_blockNumber":         "0x10",
		"eth_gasPrice":            "0x3b9aca00",
		"eth_getTransactionCount": "0x7",
		"eth_estimateGas":         "0x5208",
	})
	c := NewEVMClient(srv.URL)
	ctx := context.Background()

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8453), id.Int64())

	n, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)

	gp, err := c.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000), gp)

	nonce, err := c.PendingNonce(ctx, common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)

	gas, err := c.EstimateGas(ctx, CallMsg{To: common.HexToAddress("0x02")})
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), gas)
}

func TestCallReturnsBytes(t *testing.T) {
	srv := rpcMock(t, map[string]interface{}{"eth_call": "0x00ff"})
	out, err := NewEVMClient(srv.URL).Call(context.Background(), CallMsg{To: common.HexToAddress("0x02"), Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, out)
}

func TestCallRevertReason(t *testing.T) {
	srv := rpcErrorServer(t, 3, "execution reverted: UniswapV2Library: INSUFFICIENT_LIQUIDITY")
	_, err := NewEVMClient(srv.URL).Call(context.Background(), CallMsg{To: common.HexToAddress("0x02")})
	require.ErrorIs(t, err, ErrReverted)
	assert.Contains(t, err.Error(), "INSUFFICIENT_LIQUIDITY")
}

func TestRPCErrorIsKept(t *testing.T) {
	srv := rpcErrorServer(t, -32000, "header not found")
	_, err := NewEVMClient(srv.URL).BlockNumber(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
	assert.NotErrorIs(t, err, ErrReverted)
}

func TestBadJSON(t *testing.T) {
	srv := rpcBadJSON(t)
	_, err := NewEVMClient(srv.URL).ChainID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing response")
}

func TestUnreachable(t *testing.T) {
	_, err := NewEVMClient("http://127.0.0.1:1").BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC request failed")
}

func TestSendRawTransaction(t *testing.T) {
	want := common.HexToHash("0xabc")
	srv := rpcMock(t, map[string]interface{}{"eth_sendRawTransaction": want.Hex()})
	got, err := NewEVMClient(srv.URL).SendRawTransaction(context.Background(), []byte{0x02, 0x01})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// ---------------------------------------------------------------------------
// receipts
// ---------------------------------------------------------------------------

func TestTransactionReceiptPending(t *testing.T) {
	srv := rpcMock(t, map[string]interface{}{"eth_getTransactionReceipt": nil})
	r, err := NewEVMClient(srv.URL).TransactionReceipt(context.Background(), common.HexToHash("0x1"))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestWaitForReceipt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var result interface{}
		if calls.Add(1) > 2 {
			result = map[string]string{"status": "0x1", "blockNumber": "0x20", "gasUsed": "0x5208"}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": result}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewEVMClient(srv.URL, WithPollInterval(time.Millisecond))
	r, err := c.WaitForReceipt(context.Background(), common.HexToHash("0x1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Status)
	assert.Equal(t, uint64(32), r.BlockNumber)
	assert.Equal(t, uint64(21000), r.GasUsed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitForReceiptReverted(t *testing.T) {
	srv := rpcMock(t, map[string]interface{}{
		"eth_getTransactionReceipt": map[string]string{"status": "0x0", "blockNumber": "0x20", "gasUsed": "0x1"},
	})
	r, err := NewEVMClient(srv.URL).WaitForReceipt(context.Background(), common.HexToHash("0x1"))
	require.ErrorIs(t, err, ErrTxFailed)
	assert.Equal(t, uint64(0), r.Status)
}

func TestWaitForReceiptContextDone(t *testing.T) {
	srv := rpcMock(t, map[string]interface{}{"eth_getTransactionReceipt": nil})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewEVMClient(srv.URL, WithPollInterval(5*time.Millisecond)).WaitForReceipt(ctx, common.HexToHash("0x1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPing(t *testing.T) {
	srv := rpcMock(t, map[string]interface{}{"eth_blockNumber": "0x64"})
	latency, block, err := NewEVMClient(srv.URL).Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block)
	assert.Greater(t, latency, time.Duration(0))
}
