package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	run := uuid.New()
	tests := []struct {
		name    string
		runID   uuid.UUID
		records []Record
		wantErr bool
	}{
		{"empty batch", run, nil, false},
		{"valid", run, []Record{{RunID: run, Event: "Transfer"}}, false},
		{"nil run", uuid.Nil, nil, true},
		{"foreign run", run, []Record{{RunID: uuid.New(), Event: "Transfer"}}, true},
		{"no event name", run, []Record{{RunID: run}}, true},
		{"negative index", run, []Record{{RunID: run, Event: "Burn", LogIndex: -1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.runID, tt.records)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
