package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/internal/core/ports"
)

// EventTypeManager creates event types and maintains their declared attribute
// sets. Mutations are self-audited like entity type mutations, targeting the
// reserved main_event_editor instance.
type EventTypeManager struct {
	repo  ports.SchemaRepository
	audit ports.AuditSink
}

func NewEventTypeManager(repo ports.SchemaRepository, audit ports.AuditSink) *EventTypeManager {
	return &EventTypeManager{repo: repo, audit: audit}
}

func (m *EventTypeManager) Add(ctx context.Context, creator int64, name string) (string, error) {
	entry := domain.AuditEntry{
		EventType:  domain.OpCreateEventType,
		EntityName: domain.MetaEventEditor,
		Attrs:      map[string]any{"name": name},
	}

	if name == "" {
		entry.Notes = "Missing event name parameter"
		_ = m.audit.Record(ctx, creator, entry)
		return "", domain.Invalid("%s", entry.Notes)
	}

	if _, err := m.repo.InsertEventType(ctx, creator, name); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			entry.Notes = fmt.Sprintf("Event %s Already Exists", name)
			_ = m.audit.Record(ctx, creator, entry)
			return "", domain.Invalid("%s", entry.Notes)
		}
		entry.Notes = domain.DatabaseErrorMessage
		_ = m.audit.Record(ctx, creator, entry)
		return "", domain.DatabaseError(err)
	}

	entry.Success = true
	entry.Notes = "Event Added"
	_ = m.audit.Record(ctx, creator, entry)
	return fmt.Sprintf("Event %s Added", name), nil
}

// EditAttributes applies set semantics to the event type's declared attribute
// names: duplicates in toAdd collapse, removing a non-member is a no-op. The
// resulting set is returned sorted.
func (m *EventTypeManager) EditAttributes(ctx context.Context, creator int64, eventName string, toAdd, toRemove []string) ([]string, error) {
	entry := domain.AuditEntry{
		EventType:  domain.OpEditEventAttrs,
		EntityName: domain.MetaEventEditor,
		Attrs: map[string]any{
			"to_add":    toAdd,
			"to_remove": toRemove,
		},
	}

	eventType, err := m.repo.FindEventType(ctx, creator, eventName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			entry.Notes = fmt.Sprintf("Event %s does not exist", eventName)
			_ = m.audit.Record(ctx, creator, entry)
			return nil, domain.Invalid("%s", entry.Notes)
		}
		entry.Notes = domain.DatabaseErrorMessage
		_ = m.audit.Record(ctx, creator, entry)
		return nil, domain.DatabaseError(err)
	}

	set := make(map[string]struct{}, len(eventType.Attrs))
	for _, attr := range eventType.Attrs {
		set[attr] = struct{}{}
	}
	for _, attr := range toAdd {
		set[attr] = struct{}{}
	}
	for _, attr := range toRemove {
		delete(set, attr)
	}

	attrs := make([]string, 0, len(set))
	for attr := range set {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	if err := m.repo.UpdateEventTypeAttrs(ctx, eventType.ID, attrs); err != nil {
		entry.Notes = domain.DatabaseErrorMessage
		_ = m.audit.Record(ctx, creator, entry)
		return nil, domain.DatabaseError(err)
	}

	entry.Success = true
	entry.Notes = "Attributes Edited"
	_ = m.audit.Record(ctx, creator, entry)
	return attrs, nil
}

// View lists event types with their attribute sets, optionally filtered to
// one name.
func (m *EventTypeManager) View(ctx context.Context, creator int64, name string) ([]domain.EventTypeView, error) {
	views, err := m.repo.ListEventTypes(ctx, creator, name)
	if err != nil {
		return nil, domain.DatabaseError(err)
	}
	return views, nil
}
