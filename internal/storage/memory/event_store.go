package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Mohsinsiddi/feeledger/internal/storage"
)

type eventKey struct {
	RunID    uuid.UUID
	Block    uint64
	LogIndex int
}

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu    sync.RWMutex
	byRun map[uuid.UUID][]storage.Record
	keys  map[eventKey]bool
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		byRun: make(map[uuid.UUID][]storage.Record),
		keys:  make(map[eventKey]bool),
	}
}

var _ storage.EventStore = (*EventStore)(nil)

// Append adds records atomically. Fails the entire batch on any duplicate.
func (s *EventStore) Append(_ context.Context, runID uuid.UUID, records []storage.Record) error {
	if err := storage.Validate(runID, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[eventKey]bool, len(records))
	for _, r := range records {
		key := eventKey{RunID: runID, Block: r.Block, LogIndex: r.LogIndex}
		if s.keys[key] || batch[key] {
			return storage.ErrDuplicateKey
		}
		batch[key] = true
	}
	for _, r := range records {
		s.byRun[runID] = append(s.byRun[runID], copyRecord(r))
	}
	for k := range batch {
		s.keys[k] = true
	}
	return nil
}

// ListByRun returns a run's records ordered by block and log index.
func (s *EventStore) ListByRun(_ context.Context, runID uuid.UUID) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.byRun[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]storage.Record, 0, len(records))
	for _, r := range records {
		out = append(out, copyRecord(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Block != out[j].Block {
			return out[i].Block < out[j].Block
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

// Runs returns every run ordered by start time, then id.
func (s *EventStore) Runs(_ context.Context) ([]storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Run, 0, len(s.byRun))
	for id, records := range s.byRun {
		run := storage.Run{ID: id, Events: len(records)}
		for i, r := range records {
			if i == 0 || r.Block < run.FirstBlock {
				run.FirstBlock = r.Block
			}
			if r.Block > run.LastBlock {
				run.LastBlock = r.Block
			}
			if i == 0 || r.Time.Before(run.StartedAt) {
				run.StartedAt = r.Time
			}
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func copyRecord(r storage.Record) storage.Record {
	out := r
	out.Args = make(map[string]string, len(r.Args))
	for k, v := range r.Args {
		out.Args[k] = v
	}
	return out
}
