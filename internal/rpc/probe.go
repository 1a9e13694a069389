package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/Mohsinsiddi/feeledger/internal/chain"
)

// ProbeTimeout bounds a single endpoint ping.
const ProbeTimeout = 5 * time.Second

// Probe pings url and reports it as a checked endpoint. A node more than
// staleBlockThreshold blocks behind bestBlock is unhealthy; pass 0 to skip
// the recency check.
func Probe(ctx context.Context, url string, bestBlock uint64) (Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	latency, block, err := chain.NewEVMClient(url).Ping(ctx)
	ep := Endpoint{
		URL:         url,
		Latency:     latency,
		BlockNumber: block,
		Healthy:     err == nil,
		Checked:     true,
	}
	if err == nil && bestBlock > 0 && bestBlock > block && bestBlock-block > staleBlockThreshold {
		ep.Healthy = false
	}
	return ep, err
}

// Benchmark probes every url in parallel. The result keeps the input order.
func Benchmark(ctx context.Context, urls []string) []Endpoint {
	out := make([]Endpoint, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i], _ = Probe(ctx, url, 0)
		}()
	}
	wg.Wait()
	return out
}

// Select picks the best url for algo. A single url is returned without
// probing; failover uses configuration order.
func Select(ctx context.Context, urls []string, algo Algorithm) (string, error) {
	switch len(urls) {
	case 0:
		return "", ErrNoHealthyRPC
	case 1:
		return urls[0], nil
	}
	winner, err := NewPicker(algo).Pick(Benchmark(ctx, urls))
	if err != nil {
		return "", err
	}
	return winner.URL, nil
}
