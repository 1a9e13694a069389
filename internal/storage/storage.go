// Package storage persists the event journal of simulation runs. Stores are
// append-only: a record is keyed by (run, block, log index) and never updated.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Storage errors.
var (
	// ErrNotFound is returned when a run has no records.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same run, block and
	// log index already exists.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Record is one decoded event of a run.
type Record struct {
	RunID    uuid.UUID
	Block    uint64
	LogIndex int
	TxHash   common.Hash
	Contract common.Address
	// Event is the event name, "unknown" for logs that did not decode.
	Event string
	Args  map[string]string
	Time  time.Time
}

// Run summarises the records of one run.
type Run struct {
	ID         uuid.UUID
	Events     int
	FirstBlock uint64
	LastBlock  uint64
	StartedAt  time.Time
}

// EventStore provides access to the event journal.
type EventStore interface {
	// Append adds records to a run atomically. Every record's RunID must be
	// runID. Returns ErrDuplicateKey if any (run, block, log index) exists,
	// in which case nothing is written.
	Append(ctx context.Context, runID uuid.UUID, records []Record) error

	// ListByRun returns the records of a run ordered by block and log
	// index. Returns ErrNotFound if the run has no records.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]Record, error)

	// Runs returns every run ordered by start time.
	Runs(ctx context.Context) ([]Run, error)
}

// Validate checks the records of an Append call.
func Validate(runID uuid.UUID, records []Record) error {
	if runID == uuid.Nil {
		return ErrInvalidInput
	}
	for _, r := range records {
		if r.RunID != runID || r.Event == "" || r.LogIndex < 0 {
			return ErrInvalidInput
		}
	}
	return nil
}
