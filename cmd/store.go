package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mohsinsiddi/feeledger/internal/storage"
	"github.com/Mohsinsiddi/feeledger/internal/storage/migrations"
	"github.com/Mohsinsiddi/feeledger/internal/storage/postgres"
	"github.com/Mohsinsiddi/feeledger/internal/ui"
)

var errNoDatabase = errors.New("no database configured: run `feeledger config set database_url <dsn>`")

// openStore connects to the configured postgres database and applies the
// migrations. The returned func closes the pool.
func openStore(ctx context.Context, dsn string) (storage.EventStore, func(), error) {
	if dsn == "" {
		return nil, nil, errNoDatabase
	}
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.RunPostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}
	log.Debug("event store ready", "dsn", redactDSN(dsn))
	return postgres.NewEventStore(pool), pool.Close, nil
}

// redactDSN hides the password of a URL-style connection string.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

// eventRows turns records into viewer rows, naming known contracts.
func eventRows(records []storage.Record, labels map[common.Address]string) []ui.EventRow {
	rows := make([]ui.EventRow, 0, len(records))
	for _, r := range records {
		contract, ok := labels[r.Contract]
		if !ok {
			contract = ui.TruncateAddr(r.Contract.Hex())
		}
		rows = append(rows, ui.EventRow{
			Block:    r.Block,
			Index:    r.LogIndex,
			TxHash:   r.TxHash.Hex(),
			Contract: contract,
			Event:    r.Event,
			Args:     formatArgs(r.Args, labels),
		})
	}
	return rows
}

// formatArgs renders args as sorted name=value pairs. Addresses of known
// contracts are replaced by their label.
func formatArgs(args map[string]string, labels map[common.Address]string) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, k := range names {
		v := args[k]
		if common.IsHexAddress(v) {
			if l, ok := labels[common.HexToAddress(v)]; ok {
				v = l
			}
		}
		out = append(out, k+"="+v)
	}
	return out
}
