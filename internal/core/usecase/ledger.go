package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/internal/core/ports"
)

// Schema for the incoming event payload envelope. Only the invariant fields
// are constrained here; everything else is free-form and filtered against the
// event type's declared attribute set at write time.
const eventPayloadSchemaJSON = `{
	"type": "object",
	"required": ["event_type", "entity_type", "success", "entity_name"],
	"properties": {
		"event_type": {"type": "string", "minLength": 1},
		"entity_type": {"type": "string", "minLength": 1},
		"entity_name": {"type": "string", "minLength": 1},
		"success": {"type": "boolean"},
		"rollback_id": {"type": ["integer", "null"]},
		"notes": {"type": ["string", "null"]}
	}
}`

var eventPayloadSchema = mustCompileEventPayloadSchema()

func mustCompileEventPayloadSchema() *santhosh.Schema {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("event.json", strings.NewReader(eventPayloadSchemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("event.json")
}

// Ledger validates and appends event records and serves filtered listings.
// It is also the sink schema mutations are audited through, via
// LedgerAuditSink.
type Ledger struct {
	store ports.LedgerStore
}

func NewLedger(store ports.LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// Add appends one event record. The payload must carry the four mandatory
// fields; attribute filtering, name resolution and the permission check all
// happen inside the store's single append transaction.
func (l *Ledger) Add(ctx context.Context, creator int64, payload map[string]any) (string, error) {
	if err := eventPayloadSchema.Validate(map[string]any(payload)); err != nil {
		return "", domain.Invalid("Missing Mandatory Event Parameter(s)")
	}

	input := buildEventInput(payload)
	if err := l.store.Append(ctx, creator, input); err != nil {
		var notPermitted *domain.ErrNotPermitted
		switch {
		case errors.Is(err, domain.ErrUnknownName):
			return "", domain.Invalid("Invalid Name(s) Received")
		case errors.As(err, &notPermitted):
			return "", domain.Invalid("Invalid Event (%s) on Entity (%s)", notPermitted.Event, notPermitted.Entity)
		default:
			return "", domain.DatabaseError(err)
		}
	}

	return fmt.Sprintf("%s event occurred on %s instance %s", input.EventType, input.EntityType, input.EntityName), nil
}

// View lists the caller's event records newest first. Filter keys from the
// fixed column allow-list become exact-match predicates; all other keys match
// against the stored attribute bag. entityName, when set, restricts results
// to that named instance.
func (l *Ledger) View(ctx context.Context, creator int64, filters map[string]any, entityName string) ([]domain.EventRecord, error) {
	filter, err := domain.SplitEventFilter(filters)
	if err != nil {
		return nil, domain.Invalid("Invalid filter attribute name")
	}
	records, err := l.store.List(ctx, creator, filter, entityName)
	if err != nil {
		return nil, domain.DatabaseError(err)
	}
	return records, nil
}

func (l *Ledger) ViewEntityInstances(ctx context.Context, creator int64) ([]domain.EntityInstance, error) {
	instances, err := l.store.ListEntityInstances(ctx, creator)
	if err != nil {
		return nil, domain.DatabaseError(err)
	}
	return instances, nil
}

func buildEventInput(payload map[string]any) domain.EventInput {
	input := domain.EventInput{Attrs: payload}
	input.EventType, _ = payload["event_type"].(string)
	input.EntityType, _ = payload["entity_type"].(string)
	input.EntityName, _ = payload["entity_name"].(string)
	input.Success, _ = payload["success"].(bool)
	if notes, ok := payload["notes"].(string); ok {
		input.Notes = notes
	}
	if rollback, ok := payload["rollback_id"].(float64); ok {
		id := int64(rollback)
		input.RollbackID = &id
	}
	return input
}
