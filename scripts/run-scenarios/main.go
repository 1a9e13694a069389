// run-scenarios: runs every scenario script in a directory in parallel, each
// against its own deployment, and prints a summary table.
//
// Run from the module root:
//
//	go run ./scripts/run-scenarios [dir]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Mohsinsiddi/feeledger/internal/scenario"
)

const runTimeout = 30 * time.Second

type result struct {
	file     string
	name     string
	steps    int
	reverts  int
	events   int
	duration time.Duration
	err      string
}

func main() {
	dir := "scenarios"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil || len(files) == 0 {
		fmt.Fprintf(os.Stderr, "no scenarios in %s\n", dir)
		os.Exit(1)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []result
	)
	for _, file := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := runOne(file)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if printTable(results) {
		os.Exit(1)
	}
}

func runOne(file string) result {
	r := result{file: filepath.Base(file)}
	sc, err := scenario.Load(file)
	if err != nil {
		r.err = shortErr(err)
		return r
	}
	r.name = sc.Name

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	start := time.Now()
	res, err := scenario.NewRunner().Run(ctx, sc)
	r.duration = time.Since(start)
	if res != nil {
		r.steps = len(res.Steps)
		r.events = len(res.Records)
		for _, s := range res.Steps {
			if s.Reverted {
				r.reverts++
			}
		}
	}
	if err != nil {
		var stepErr *scenario.StepError
		if errors.As(err, &stepErr) {
			r.err = fmt.Sprintf("step %d: %s", stepErr.Index, shortErr(stepErr.Err))
		} else {
			r.err = shortErr(err)
		}
	}
	return r
}

// printTable writes the summary and reports whether any run failed.
func printTable(results []result) bool {
	sort.Slice(results, func(i, j int) bool { return results[i].file < results[j].file })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSCENARIO\tSTEPS\tREVERTS\tEVENTS\tTIME\tRESULT")
	fmt.Fprintln(w, strings.Repeat("-", 16)+"\t"+
		strings.Repeat("-", 16)+"\t"+
		strings.Repeat("-", 5)+"\t"+
		strings.Repeat("-", 7)+"\t"+
		strings.Repeat("-", 6)+"\t"+
		strings.Repeat("-", 8)+"\t"+
		strings.Repeat("-", 20))

	failed := false
	for _, r := range results {
		outcome := "pass"
		if r.err != "" {
			outcome = "FAIL " + r.err
			failed = true
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.file, r.name, r.steps, r.reverts, r.events, r.duration.Round(time.Millisecond), outcome)
	}
	w.Flush()
	return failed
}

func shortErr(err error) string {
	s := err.Error()
	if len(s) > 60 {
		return s[:60] + "…"
	}
	return s
}
