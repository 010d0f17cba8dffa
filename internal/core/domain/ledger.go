package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownName signals that an event or entity type name could not be
// resolved for the caller during event validation.
var ErrUnknownName = errors.New("unknown name")

// ErrNotPermitted signals that no permission edge connects the resolved event
// type to the entity's type.
type ErrNotPermitted struct {
	Event  string
	Entity string
}

func (e *ErrNotPermitted) Error() string {
	return fmt.Sprintf("event %s not permitted on entity %s", e.Event, e.Entity)
}

// EventInput is a validated request to append one ledger record. Attrs holds
// the full incoming payload; the store projects it through the event type's
// declared attribute set at write time.
type EventInput struct {
	EventType  string
	EntityType string
	EntityName string
	Success    bool
	RollbackID *int64
	Notes      string
	Attrs      map[string]any
}

// EventRecord is one immutable, timestamped ledger entry.
type EventRecord struct {
	ID         int64
	TypeID     int64
	EntityID   int64
	Time       time.Time
	Success    bool
	RollbackID *int64
	Notes      string
	Attrs      json.RawMessage
}

// EntityInstance is one concrete audited object, created implicitly the first
// time an event names it.
type EntityInstance struct {
	ID       int64
	Name     string
	TypeID   int64
	Created  time.Time
	Modified time.Time
}
