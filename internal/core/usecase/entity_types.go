package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/internal/core/ports"
)

// EntityTypeManager creates entity types and edits their permission edges.
// Every mutation, failed or successful, is recorded through the audit sink
// against the reserved audit_metadata entity.
type EntityTypeManager struct {
	repo  ports.SchemaRepository
	audit ports.AuditSink
}

func NewEntityTypeManager(repo ports.SchemaRepository, audit ports.AuditSink) *EntityTypeManager {
	return &EntityTypeManager{repo: repo, audit: audit}
}

func (m *EntityTypeManager) Add(ctx context.Context, creator int64, name string) (string, error) {
	entry := domain.AuditEntry{
		EventType:  domain.OpCreateEntity,
		EntityName: domain.MetaEntityEditor,
		Attrs:      map[string]any{"name": name},
	}

	if name == "" {
		entry.Notes = "Missing entity name parameter"
		_ = m.audit.Record(ctx, creator, entry)
		return "", domain.Invalid("%s", entry.Notes)
	}

	if _, err := m.repo.InsertEntityType(ctx, creator, name); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			entry.Notes = fmt.Sprintf("Entity %s Already Exists", name)
			_ = m.audit.Record(ctx, creator, entry)
			return "", domain.Invalid("%s", entry.Notes)
		}
		entry.Notes = domain.DatabaseErrorMessage
		_ = m.audit.Record(ctx, creator, entry)
		return "", domain.DatabaseError(err)
	}

	entry.Success = true
	entry.Notes = "Entity Added"
	_ = m.audit.Record(ctx, creator, entry)
	return fmt.Sprintf("Entity %s Added", name), nil
}

// EditEvents adds and removes permission edges between the named entity type
// and the named event types. Unresolvable names in toAdd are skipped and
// counted; removals of absent edges are no-ops. One summary audit record is
// written after the edit commits.
func (m *EntityTypeManager) EditEvents(ctx context.Context, creator int64, entityName string, toAdd, toRemove []string) (domain.EdgeEditResult, error) {
	entry := domain.AuditEntry{
		EventType:  domain.OpEditEntityEvents,
		EntityName: domain.MetaEntityEditor,
		Attrs: map[string]any{
			"to_add":         toAdd,
			"to_remove":      toRemove,
			"invalid_adds":   0,
			"invalid_events": []string{},
			"removed":        0,
		},
	}

	entityID, err := m.repo.FindEntityTypeID(ctx, creator, entityName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			entry.Notes = fmt.Sprintf("Attempt to modify events of entity %s, which does not exist", entityName)
			_ = m.audit.Record(ctx, creator, entry)
			return domain.EdgeEditResult{}, domain.Invalid("%s", entry.Notes)
		}
		entry.Notes = domain.DatabaseErrorMessage
		_ = m.audit.Record(ctx, creator, entry)
		return domain.EdgeEditResult{}, domain.DatabaseError(err)
	}

	resolved, err := m.repo.FindEventTypeIDs(ctx, creator, toAdd)
	if err != nil {
		entry.Notes = domain.DatabaseErrorMessage
		_ = m.audit.Record(ctx, creator, entry)
		return domain.EdgeEditResult{}, domain.DatabaseError(err)
	}

	addIDs := make([]int64, 0, len(toAdd))
	invalid := make([]string, 0)
	for _, name := range toAdd {
		id, ok := resolved[name]
		if !ok {
			invalid = append(invalid, name)
			continue
		}
		addIDs = append(addIDs, id)
	}

	removed, err := m.repo.EditEdges(ctx, creator, entityID, addIDs, toRemove)
	if err != nil {
		entry.Notes = domain.DatabaseErrorMessage
		_ = m.audit.Record(ctx, creator, entry)
		return domain.EdgeEditResult{}, domain.DatabaseError(err)
	}

	result := domain.EdgeEditResult{
		InvalidAdds:   len(invalid),
		InvalidEvents: invalid,
		Removed:       removed,
	}

	entry.Success = true
	entry.Notes = "Entity Events Edited"
	entry.Attrs["invalid_adds"] = result.InvalidAdds
	entry.Attrs["invalid_events"] = result.InvalidEvents
	entry.Attrs["removed"] = result.Removed
	_ = m.audit.Record(ctx, creator, entry)

	return result, nil
}

// View lists entity types with their de-duplicated permitted event names,
// optionally filtered to one name.
func (m *EntityTypeManager) View(ctx context.Context, creator int64, name string) ([]domain.EntityTypeView, error) {
	views, err := m.repo.ListEntityTypes(ctx, creator, name)
	if err != nil {
		return nil, domain.DatabaseError(err)
	}
	return views, nil
}
