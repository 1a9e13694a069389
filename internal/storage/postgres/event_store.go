package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Mohsinsiddi/feeledger/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

var _ storage.EventStore = (*EventStore)(nil)

// Append adds records in one transaction. Fails the entire batch on any
// duplicate.
func (s *EventStore) Append(ctx context.Context, runID uuid.UUID, records []storage.Record) error {
	if err := storage.Validate(runID, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO ledger_events (
			run_id, block, log_index, tx_hash, contract, event, args, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, r := range records {
		args, err := json.Marshal(r.Args)
		if err != nil {
			return fmt.Errorf("encode args: %w", err)
		}
		_, err = tx.Exec(ctx, query,
			runID.String(),
			int64(r.Block),
			r.LogIndex,
			r.TxHash.Hex(),
			r.Contract.Hex(),
			r.Event,
			args,
			r.Time.UTC(),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert ledger event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListByRun returns a run's records ordered by block and log index.
func (s *EventStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]storage.Record, error) {
	query := `
		SELECT block, log_index, tx_hash, contract, event, args, created_at
		FROM ledger_events
		WHERE run_id = $1
		ORDER BY block ASC, log_index ASC
	`
	rows, err := s.pool.Query(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	defer rows.Close()

	out, err := scanRecords(runID, rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out, nil
}

// Runs returns every run ordered by start time, then id.
func (s *EventStore) Runs(ctx context.Context) ([]storage.Run, error) {
	query := `
		SELECT run_id, COUNT(*), MIN(block), MAX(block), MIN(created_at)
		FROM ledger_events
		GROUP BY run_id
		ORDER BY MIN(created_at) ASC, run_id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []storage.Run
	for rows.Next() {
		var (
			id          string
			count       int64
			first, last int64
			started     time.Time
		)
		if err := rows.Scan(&id, &count, &first, &last, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", id, err)
		}
		out = append(out, storage.Run{
			ID:         runID,
			Events:     int(count),
			FirstBlock: uint64(first),
			LastBlock:  uint64(last),
			StartedAt:  started,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func scanRecords(runID uuid.UUID, rows pgx.Rows) ([]storage.Record, error) {
	var out []storage.Record
	for rows.Next() {
		var (
			block    int64
			logIndex int
			txHash   string
			contract string
			r        storage.Record
			args     []byte
		)
		if err := rows.Scan(&block, &logIndex, &txHash, &contract, &r.Event, &args, &r.Time); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		if err := json.Unmarshal(args, &r.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
		r.RunID = runID
		r.Block = uint64(block)
		r.LogIndex = logIndex
		r.TxHash = common.HexToHash(txHash)
		r.Contract = common.HexToAddress(contract)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return out, nil
}
