package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/chain"
	"github.com/Mohsinsiddi/feeledger/internal/contract"
	"github.com/Mohsinsiddi/feeledger/internal/logger"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Router errors.
var (
	ErrRemoteNoPair = revert.New(revert.ErrVenueFailure, "Router: PAIR_NOT_FOUND")
	ErrReadOnly     = errors.New("router: no operator configured, swaps are disabled")
	ErrBadResponse  = errors.New("router: unexpected response")
)

// DefaultDeadlineWindow is added to the current time when a swap request
// carries no deadline.
const DefaultDeadlineWindow = 20 * time.Minute

// Router is a UniswapV2-compatible venue reached over JSON-RPC. Reads go to
// the router, factory and pair contracts; swaps are signed by the operator
// and sent as EIP-1559 transactions.
type Router struct {
	caller  *contract.Caller
	sender  *contract.Sender
	router  common.Address
	factory common.Address
	window  time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSender enables swaps, signed by the sender's operator.
func WithSender(s *contract.Sender) RouterOption {
	return func(r *Router) { r.sender = s }
}

// WithDeadlineWindow overrides DefaultDeadlineWindow.
func WithDeadlineWindow(d time.Duration) RouterOption {
	return func(r *Router) { r.window = d }
}

// WithRouterClock sets the clock used for default deadlines.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *logger.Logger) RouterOption {
	return func(r *Router) { r.log = logger.OrNop(l) }
}

// NewRouter returns a read-only router unless WithSender is given.
func NewRouter(client *chain.EVMClient, router, factory common.Address, opts ...RouterOption) *Router {
	r := &Router{
		caller:  contract.NewCaller(client),
		router:  router,
		factory: factory,
		window:  DefaultDeadlineWindow,
		now:     time.Now,
		log:     logger.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("venue", "router", "router", router.Hex())
	return r
}

// Address is the router contract.
func (r *Router) Address() common.Address { return r.router }

// Quote returns the router's getAmountsOut for a direct path.
func (r *Router) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	out, err := r.caller.Call(ctx, r.router, contract.MustABI(contract.V2Router), "getAmountsOut",
		amountIn.ToBig(), []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, revert.Venue(err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != 2 {
		return nil, fmt.Errorf("%w: getAmountsOut returned %v", ErrBadResponse, out[0])
	}
	return toUint256(amounts[1])
}

// Pair resolves the pair of two tokens through the factory.
func (r *Router) Pair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	out, err := r.caller.Call(ctx, r.factory, contract.MustABI(contract.V2Factory), "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, revert.Venue(err)
	}
	pair, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: getPair returned %v", ErrBadResponse, out[0])
	}
	if pair == (common.Address{}) {
		return common.Address{}, ErrRemoteNoPair
	}
	return pair, nil
}

// Reserves returns the pair reserves ordered as (tokenA, tokenB).
func (r *Router) Reserves(ctx context.Context, tokenA, tokenB common.Address) (*uint256.Int, *uint256.Int, error) {
	pair, err := r.Pair(ctx, tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	pairABI := contract.MustABI(contract.V2Pair)
	res, err := r.caller.Call(ctx, pair, pairABI, "getReserves")
	if err != nil {
		return nil, nil, revert.Venue(err)
	}
	t0, err := r.caller.Call(ctx, pair, pairABI, "token0")
	if err != nil {
		return nil, nil, revert.Venue(err)
	}
	r0, ok0 := res[0].(*big.Int)
	r1, ok1 := res[1].(*big.Int)
	token0, ok2 := t0[0].(common.Address)
	if !ok0 || !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("%w: getReserves/token0", ErrBadResponse)
	}
	if token0 != tokenA {
		r0, r1 = r1, r0
	}
	a, err := toUint256(r0)
	if err != nil {
		return nil, nil, err
	}
	b, err := toUint256(r1)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// SwapResult describes a mined remote swap.
type SwapResult struct {
	Approval *chain.TxReceipt // nil when the allowance already sufficed
	Swap     *chain.TxReceipt
	Deadline time.Time
}

// Swap sells req.AmountIn of req.TokenIn for at least req.MinOut of
// req.TokenOut, approving the router first when the operator's allowance is
// short. It waits for both receipts.
func (r *Router) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if r.sender == nil {
		return nil, ErrReadOnly
	}
	if req.TokenIn == req.TokenOut {
		return nil, ErrIdenticalTokens
	}
	if req.AmountIn == nil || req.AmountIn.IsZero() {
		return nil, ErrInsufficientInput
	}
	minOut := req.MinOut
	if minOut == nil {
		minOut = new(uint256.Int)
	}
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = r.now().Add(r.window)
	}
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = r.sender.From()
	}

	res := &SwapResult{Deadline: deadline}
	approval, err := r.ensureAllowance(ctx, req.TokenIn, req.AmountIn)
	if err != nil {
		return nil, err
	}
	res.Approval = approval

	r.log.Info("router: swapping", "in", req.TokenIn.Hex(), "out", req.TokenOut.Hex(),
		"amount", req.AmountIn.Dec(), "minOut", minOut.Dec())
	receipt, err := r.sender.SendAndWait(ctx, r.router, contract.MustABI(contract.V2Router), "swapExactTokensForTokens",
		req.AmountIn.ToBig(), minOut.ToBig(), []common.Address{req.TokenIn, req.TokenOut},
		recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, revert.Venue(err)
	}
	res.Swap = receipt
	return res, nil
}

func (r *Router) ensureAllowance(ctx context.Context, token common.Address, amount *uint256.Int) (*chain.TxReceipt, error) {
	erc20ABI := contract.MustABI(contract.ERC20)
	out, err := r.caller.Call(ctx, token, erc20ABI, "allowance", r.sender.From(), r.router)
	if err != nil {
		return nil, revert.Venue(err)
	}
	current, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: allowance returned %v", ErrBadResponse, out[0])
	}
	if current.Cmp(amount.ToBig()) >= 0 {
		return nil, nil
	}
	r.log.Info("router: approving", "token", token.Hex(), "amount", amount.Dec())
	receipt, err := r.sender.SendAndWait(ctx, token, erc20ABI, "approve", r.router, amount.ToBig())
	if err != nil {
		return nil, fmt.Errorf("approving router: %w", err)
	}
	return receipt, nil
}

func toUint256(b *big.Int) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s does not fit 256 bits", ErrBadResponse, b)
	}
	return v, nil
}

var _ Quoter = (*Router)(nil)
