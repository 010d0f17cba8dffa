package domain

import (
	"encoding/json"
	"time"
)

// LedgerEnvelope is the outbox payload describing one appended ledger record,
// pushed to downstream receivers after commit.
type LedgerEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityName string          `json:"entity_name"`
	Creator    int64           `json:"creator"`
	RecordID   int64           `json:"record_id"`
	Success    bool            `json:"success"`
	OccurredAt time.Time       `json:"occurred_at"`
	Attrs      json.RawMessage `json:"attrs"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Creator       int64
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
