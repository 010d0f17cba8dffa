package domain

import "time"

// Reserved names seeded into every account at registration. Schema mutations
// are recorded as ledger events against these.
const (
	MetaEntityType   = "audit_metadata"
	MetaEntityEditor = "main_entity_editor"
	MetaEventEditor  = "main_event_editor"
)

// Event type names for the self-audit records schema mutations produce.
const (
	OpCreateEntity     = "create_entity"
	OpEditEntityEvents = "edit_entity_events"
	OpCreateEventType  = "create_event_type"
	OpEditEventAttrs   = "edit_event_type_attributes"
)

// EntityType is an account-scoped category of auditable object.
type EntityType struct {
	ID        int64
	Name      string
	Creator   int64
	CreatedAt time.Time
}

// EventType is an account-scoped category of occurrence. Attrs is the set of
// attribute names events of this type may carry; anything else is dropped at
// write time.
type EventType struct {
	ID        int64
	Name      string
	Creator   int64
	Attrs     []string
	CreatedAt time.Time
}

// EntityTypeView is one row of the entity type listing: the type name plus
// the de-duplicated names of event types permitted on it.
type EntityTypeView struct {
	Name   string   `json:"name"`
	Events []string `json:"events"`
}

type EventTypeView struct {
	Name       string   `json:"name"`
	Attributes []string `json:"attributes"`
}

// EdgeEditResult summarises a bulk permission-edge edit. Unresolvable names
// in the add list are skipped and counted, never fatal to the batch.
type EdgeEditResult struct {
	InvalidAdds   int      `json:"invalid_adds"`
	InvalidEvents []string `json:"invalid_events"`
	Removed       int64    `json:"removed"`
}

// AuditEntry is what the schema registry hands the audit sink. The sink turns
// it into a regular ledger event on the reserved audit_metadata entity.
type AuditEntry struct {
	EventType  string
	EntityName string
	Success    bool
	Notes      string
	Attrs      map[string]any
}
