// Package rpc chooses a JSON-RPC endpoint for the remote venue.
package rpc

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoHealthyRPC is returned when no healthy RPC endpoint is available.
var ErrNoHealthyRPC = errors.New("no healthy RPC endpoint available")

// Algorithm defines how an RPC endpoint is selected.
type Algorithm string

const (
	AlgorithmFastest    Algorithm = "fastest"
	AlgorithmRoundRobin Algorithm = "round-robin"
	AlgorithmFailover   Algorithm = "failover"

	// Discard nodes more than this many blocks behind the best.
	staleBlockThreshold = 3
	// Cache winner for this duration before re-benchmarking.
	cacheTTL = 5 * time.Minute
)

// ParseAlgorithm validates a configured algorithm. Empty means fastest.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case "":
		return AlgorithmFastest, nil
	case AlgorithmFastest, AlgorithmRoundRobin, AlgorithmFailover:
		return a, nil
	default:
		return "", fmt.Errorf("unknown rpc algorithm %q (fastest, round-robin, failover)", s)
	}
}

// Endpoint is one RPC endpoint with its measured attributes.
type Endpoint struct {
	URL         string
	Latency     time.Duration
	BlockNumber uint64
	Healthy     bool // meaningful only when Checked
	Checked     bool
}

// Picker selects an endpoint according to its algorithm. Safe for
// concurrent use.
type Picker struct {
	algo        Algorithm
	mu          sync.Mutex
	rrIndex     int
	cachedURL   string
	cacheExpiry time.Time
	now         func() time.Time
}

// NewPicker creates a Picker with the given algorithm.
func NewPicker(algo Algorithm) *Picker {
	return &Picker{algo: algo, now: time.Now}
}

// Pick selects an endpoint from the provided list.
func (p *Picker) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoHealthyRPC
	}

	switch p.algo {
	case AlgorithmRoundRobin:
		return p.pickRoundRobin(endpoints)
	case AlgorithmFailover:
		return pickFailover(endpoints)
	default:
		return p.pickFastest(endpoints)
	}
}

// pickFastest selects the best scoring healthy endpoint that is not stale and
// caches the winner for cacheTTL.
func (p *Picker) pickFastest(endpoints []Endpoint) (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cachedURL != "" && p.now().Before(p.cacheExpiry) {
		for i := range endpoints {
			if endpoints[i].URL == p.cachedURL {
				return &endpoints[i], nil
			}
		}
	}

	var bestBlock uint64
	for _, e := range endpoints {
		if e.BlockNumber > bestBlock {
			bestBlock = e.BlockNumber
		}
	}

	var winner *Endpoint
	var bestScore float64
	for _, e := range healthyEndpoints(endpoints) {
		if bestBlock > 0 && bestBlock-e.BlockNumber > staleBlockThreshold {
			continue
		}
		s := score(e, bestBlock)
		if winner == nil || s > bestScore {
			winner = e
			bestScore = s
		}
	}
	if winner == nil {
		return nil, ErrNoHealthyRPC
	}

	p.cachedURL = winner.URL
	p.cacheExpiry = p.now().Add(cacheTTL)
	return winner, nil
}

func (p *Picker) pickRoundRobin(endpoints []Endpoint) (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := healthyEndpoints(endpoints)
	if len(healthy) == 0 {
		return nil, ErrNoHealthyRPC
	}
	idx := p.rrIndex % len(healthy)
	p.rrIndex = (idx + 1) % len(healthy)
	return healthy[idx], nil
}

// pickFailover takes endpoints in order, skipping ones known to be down.
func pickFailover(endpoints []Endpoint) (*Endpoint, error) {
	for i := range endpoints {
		e := &endpoints[i]
		if e.Checked && !e.Healthy {
			continue
		}
		return e, nil
	}
	return nil, ErrNoHealthyRPC
}

// score rewards low latency and closeness to the best block.
func score(e *Endpoint, bestBlock uint64) float64 {
	var s float64
	if e.Latency > 0 {
		s += 1000.0 / (float64(e.Latency) / float64(time.Millisecond))
	}
	if bestBlock > 0 {
		s += float64(10) - float64(bestBlock-e.BlockNumber)
	}
	return s
}

// healthyEndpoints returns the endpoints eligible for selection. With no
// health data at all every endpoint is a candidate.
func healthyEndpoints(endpoints []Endpoint) []*Endpoint {
	var out []*Endpoint
	for i := range endpoints {
		e := &endpoints[i]
		if !e.Checked || e.Healthy {
			out = append(out, e)
		}
	}
	return out
}
