// Package scenario drives a deployed fee ledger system through a YAML script
// of steps and journals every event it emits.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Scenario errors.
var (
	ErrInvalidScenario = errors.New("scenario: invalid")
	ErrInvalidAmount   = errors.New("scenario: invalid amount")
)

// Scenario is a scripted run.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Deploy      Overrides   `yaml:"deploy"`
	Accounts    []string    `yaml:"accounts"`
	Tokens      []TokenSpec `yaml:"tokens"`
	Steps       []Step      `yaml:"steps"`
}

// Overrides adjust the default deployment. Unset fields keep the defaults.
type Overrides struct {
	BurnBps      *uint64 `yaml:"burn_bps"`
	DexFee       *uint64 `yaml:"dex_fee"`
	Slippage     *uint64 `yaml:"slippage_bps"`
	Cap          string  `yaml:"cap"`
	Scope        string  `yaml:"fee_scope"`
	Decimals     *uint8  `yaml:"decimals"`
	MaxSupply    string  `yaml:"max_supply"`
	LegacySupply string  `yaml:"legacy_supply"`
}

// TokenSpec is an extra token deployed before the first step.
type TokenSpec struct {
	Symbol         string `yaml:"symbol"`
	Name           string `yaml:"name"`
	Decimals       uint8  `yaml:"decimals"`
	Genesis        string `yaml:"genesis"`
	FeeToken       bool   `yaml:"fee_token"`
	TransferTaxBps uint64 `yaml:"transfer_tax_bps"`
}

// Step is one action. Which fields apply depends on Action.
type Step struct {
	Action  string  `yaml:"action"`
	From    string  `yaml:"from"`
	To      string  `yaml:"to"`
	Token   string  `yaml:"token"`
	TokenB  string  `yaml:"token_b"`
	Amount  string  `yaml:"amount"`
	AmountB string  `yaml:"amount_b"`
	Value   *uint64 `yaml:"value"`
	Set     string  `yaml:"set"`
	Flag    *bool   `yaml:"flag"`
	Check   Check   `yaml:"expect"`
	// ExpectRevert is a substring of the expected revert reason; "*"
	// accepts any revert.
	ExpectRevert string `yaml:"expect_revert"`
}

// Check lists the values a check step compares. Empty fields are skipped.
type Check struct {
	Balance     string `yaml:"balance"`
	Gathered    string `yaml:"gathered"`
	TotalSupply string `yaml:"total_supply"`
	TotalBurned string `yaml:"total_burned"`
	Native      string `yaml:"native"`
}

func (c Check) empty() bool {
	return c == Check{}
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks names, actions and amounts without running anything.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidScenario)
	}
	seen := map[string]bool{"owner": true, "governor": true}
	for _, a := range sc.Accounts {
		if a == "" || seen[a] {
			return fmt.Errorf("%w: duplicate or empty account %q", ErrInvalidScenario, a)
		}
		seen[a] = true
	}
	for _, t := range sc.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("%w: token without symbol", ErrInvalidScenario)
		}
		if _, err := ParseAmount(t.Genesis); t.Genesis != "" && err != nil {
			return fmt.Errorf("%w: token %s: %v", ErrInvalidScenario, t.Symbol, err)
		}
	}
	for i, s := range sc.Steps {
		if _, ok := actions[s.Action]; !ok {
			return fmt.Errorf("%w: step %d: unknown action %q", ErrInvalidScenario, i+1, s.Action)
		}
		for _, amt := range []string{s.Amount, s.AmountB} {
			if amt == "" || amt == "all" {
				continue
			}
			if _, err := ParseAmount(amt); err != nil {
				return fmt.Errorf("%w: step %d: %v", ErrInvalidScenario, i+1, err)
			}
		}
		if s.Action == "check" && s.Check.empty() {
			return fmt.Errorf("%w: step %d: check without expectations", ErrInvalidScenario, i+1)
		}
	}
	return nil
}

// ParseAmount reads a base-unit amount: a decimal integer with optional
// underscores, optionally followed by an exponent ("1000e9").
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	mantissa, exp, scaled := s, "", false
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mantissa, exp, scaled = s[:i], s[i+1:], true
	}
	out, err := uint256.FromDecimal(mantissa)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if scaled {
		e, err := uint256.FromDecimal(exp)
		if err != nil || !e.IsUint64() || e.Uint64() > 77 {
			return nil, fmt.Errorf("%w: exponent in %q", ErrInvalidAmount, s)
		}
		scale := new(uint256.Int).Exp(uint256.NewInt(10), e)
		if _, overflow := out.MulOverflow(out, scale); overflow {
			return nil, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
		}
	}
	return out, nil
}
