package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/deploy"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/ledger"
	"github.com/Mohsinsiddi/feeledger/internal/logger"
	"github.com/Mohsinsiddi/feeledger/internal/observability"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
	"github.com/Mohsinsiddi/feeledger/internal/storage"
)

// ErrCheckFailed is returned when a check step does not match the state.
var ErrCheckFailed = errors.New("scenario: check failed")

// StepError reports the step a run stopped at.
type StepError struct {
	Index  int
	Action string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int
	Action   string
	Block    uint64
	Reverted bool
	Reason   string
	// Expected is set when the step was expected to revert and did.
	Expected bool
	Events   int
	Note     string
}

// Result is a completed run.
type Result struct {
	RunID   uuid.UUID
	Steps   []StepResult
	Records []storage.Record
	System  *deploy.System
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.log = logger.OrNop(l) }
}

// WithMetrics records host metrics for the run.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithStore persists the run's events.
func WithStore(s storage.EventStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithClock fixes the host clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.clock = now }
}

// WithDefaults sets the deploy parameters scenario overrides apply to.
func WithDefaults(cfg deploy.Config) Option {
	return func(r *Runner) { r.base = &cfg }
}

// Runner executes scenarios.
type Runner struct {
	log     *logger.Logger
	metrics *observability.Metrics
	store   storage.EventStore
	clock   func() time.Time
	base    *deploy.Config
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run deploys a fresh system and executes sc against it. The run stops at the
// first unexpected outcome; the partial result is returned with the error so
// callers can still inspect the steps and events.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	cfg, err := r.config(sc.Deploy)
	if err != nil {
		return nil, err
	}
	sys, err := deploy.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &env{sys: sys, accounts: map[string]common.Address{
		"owner":    sys.Owner,
		"governor": sys.Governor,
	}}
	for _, name := range sc.Accounts {
		env.accounts[name] = host.AccountFor(name)
	}
	for _, spec := range sc.Tokens {
		if err := env.deployToken(ctx, spec); err != nil {
			return nil, err
		}
	}

	res := &Result{RunID: uuid.New(), System: sys}
	log := r.log.With("scenario", sc.Name, "run", res.RunID.String())
	log.Info("scenario started", "steps", len(sc.Steps))

	var runErr error
	for i, step := range sc.Steps {
		sr, err := r.step(ctx, env, i+1, step)
		res.Steps = append(res.Steps, sr)
		if err != nil {
			runErr = &StepError{Index: i + 1, Action: step.Action, Err: err}
			log.Warn("scenario stopped", "step", i+1, "action", step.Action, "error", err)
			break
		}
	}

	res.Records = Records(res.RunID, sys.Host.Receipts())
	if r.store != nil && len(res.Records) > 0 {
		if err := r.store.Append(ctx, res.RunID, res.Records); err != nil {
			return res, errors.Join(runErr, fmt.Errorf("persisting events: %w", err))
		}
	}
	if runErr == nil {
		log.Info("scenario finished", "events", len(res.Records), "block", sys.Host.Block())
	}
	return res, runErr
}

func (r *Runner) config(o Overrides) (deploy.Config, error) {
	cfg := deploy.DefaultConfig()
	if r.base != nil {
		cfg = *r.base
	}
	cfg.Logger = r.log
	cfg.Metrics = r.metrics
	cfg.Clock = r.clock
	if o.BurnBps != nil {
		cfg.BurnBps = *o.BurnBps
	}
	if o.DexFee != nil {
		cfg.DexFee = *o.DexFee
	}
	if o.Slippage != nil {
		cfg.Slippage = *o.Slippage
	}
	if o.Decimals != nil {
		cfg.Decimals = *o.Decimals
		cfg.LegacyDecimals = *o.Decimals
		cfg.MaxSupply = deploy.Units(18183, *o.Decimals)
		cfg.LegacySupply = cfg.MaxSupply.Clone()
	}
	if o.Cap != "" {
		p, ok := ledger.ParseCapPolicy(o.Cap)
		if !ok {
			return cfg, fmt.Errorf("%w: cap policy %q", ErrInvalidScenario, o.Cap)
		}
		cfg.Cap = p
	}
	if o.Scope != "" {
		s, ok := ledger.ParseFeeScope(o.Scope)
		if !ok {
			return cfg, fmt.Errorf("%w: fee scope %q", ErrInvalidScenario, o.Scope)
		}
		cfg.Scope = s
	}
	if o.MaxSupply != "" {
		v, err := ParseAmount(o.MaxSupply)
		if err != nil {
			return cfg, err
		}
		cfg.MaxSupply = v
		cfg.LegacySupply = v.Clone()
	}
	if o.LegacySupply != "" {
		v, err := ParseAmount(o.LegacySupply)
		if err != nil {
			return cfg, err
		}
		cfg.LegacySupply = v
	}
	return cfg, nil
}

func (r *Runner) step(ctx context.Context, e *env, index int, s Step) (StepResult, error) {
	sr := StepResult{Index: index, Action: s.Action}
	receipt, note, err := actions[s.Action](ctx, e, s)
	sr.Note = note
	if receipt != nil && receipt.Succeeded() {
		sr.Block = receipt.Block
		sr.Events = len(receipt.Logs)
	}
	// Errors without a receipt come from the script itself, not a call.
	if err != nil && receipt == nil {
		return sr, err
	}

	if s.ExpectRevert != "" {
		if err == nil {
			return sr, fmt.Errorf("expected revert %q, call committed", s.ExpectRevert)
		}
		sr.Reverted, sr.Reason = true, revert.Reason(err)
		if s.ExpectRevert != "*" && !strings.Contains(sr.Reason, s.ExpectRevert) {
			return sr, fmt.Errorf("expected revert %q, got %q", s.ExpectRevert, sr.Reason)
		}
		sr.Expected = true
		r.log.Debug("expected revert", "step", index, "reason", sr.Reason)
		return sr, nil
	}
	if err != nil {
		sr.Reverted, sr.Reason = true, revert.Reason(err)
		return sr, err
	}
	return sr, nil
}

// env resolves names used in steps against a deployed system.
type env struct {
	sys      *deploy.System
	accounts map[string]common.Address
}

func (e *env) deployToken(ctx context.Context, spec TokenSpec) error {
	cfg := erc20.Config{
		Name:           spec.Name,
		Symbol:         spec.Symbol,
		Decimals:       spec.Decimals,
		TransferTaxBps: spec.TransferTaxBps,
	}
	if cfg.Name == "" {
		cfg.Name = spec.Symbol
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = 18
	}
	if spec.Genesis != "" {
		v, err := ParseAmount(spec.Genesis)
		if err != nil {
			return err
		}
		cfg.Genesis = v
	}
	_, err := e.sys.DeployToken(ctx, cfg, spec.FeeToken)
	return err
}

// address resolves an account name, a contract name, a token symbol or a hex
// address.
func (e *env) address(name string) (common.Address, error) {
	if a, ok := e.accounts[name]; ok {
		return a, nil
	}
	switch strings.ToLower(name) {
	case "aggregator":
		return e.sys.Aggregator.Address(), nil
	case "desk":
		return e.sys.Desk.Address(), nil
	case "pair":
		return e.sys.Pair, nil
	case "minter":
		return e.sys.Minter.Address(), nil
	case "dead":
		return ledger.DeadAddress, nil
	}
	if tok, err := e.sys.Token(name); err == nil {
		return tok.Address(), nil
	}
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	return common.Address{}, fmt.Errorf("%w: unknown name %q", ErrInvalidScenario, name)
}

func (e *env) from(s Step) (common.Address, error) {
	if s.From == "" {
		return e.sys.Owner, nil
	}
	return e.address(s.From)
}

func (e *env) to(s Step) (common.Address, error) {
	if s.To == "" {
		return common.Address{}, fmt.Errorf("%w: %s needs a recipient", ErrInvalidScenario, s.Action)
	}
	return e.address(s.To)
}

func (e *env) token(symbol string) (erc20.Interface, error) {
	if symbol == "" {
		return e.sys.PSI, nil
	}
	return e.sys.Token(symbol)
}

func amount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidAmount)
	}
	return ParseAmount(s)
}

func flag(s Step) bool {
	return s.Flag == nil || *s.Flag
}

func value(s Step) (uint64, error) {
	if s.Value == nil {
		return 0, fmt.Errorf("%w: %s needs a value", ErrInvalidScenario, s.Action)
	}
	return *s.Value, nil
}

func exclusionSet(name string) (access.Set, error) {
	set, ok := access.ParseSet(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown exclusion set %q", ErrInvalidScenario, name)
	}
	return set, nil
}
