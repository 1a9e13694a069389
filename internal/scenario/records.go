package scenario

import (
	"github.com/google/uuid"

	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/storage"
)

// UnknownEvent names logs that do not decode against the known event set.
const UnknownEvent = "unknown"

// Records converts committed receipts into journal records for runID.
func Records(runID uuid.UUID, receipts []*host.Receipt) []storage.Record {
	var out []storage.Record
	for _, r := range receipts {
		for _, l := range r.Logs {
			rec := storage.Record{
				RunID:    runID,
				Block:    l.BlockNumber,
				LogIndex: int(l.Index),
				TxHash:   l.TxHash,
				Contract: l.Address,
				Event:    UnknownEvent,
				Args:     map[string]string{},
				Time:     r.Time,
			}
			if d, ok := events.Decode(l); ok {
				rec.Event = d.Event.Name
				rec.Args = d.Named()
			}
			out = append(out, rec)
		}
	}
	return out
}
