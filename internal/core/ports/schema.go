package ports

import (
	"context"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
)

type SchemaRepository interface {
	// InsertEntityType and InsertEventType return domain.ErrConflict when the
	// name is already taken for this creator; conflict detection relies on
	// the store's uniqueness constraint, never on a prior existence check.
	InsertEntityType(ctx context.Context, creator int64, name string) (int64, error)
	InsertEventType(ctx context.Context, creator int64, name string) (int64, error)

	FindEntityTypeID(ctx context.Context, creator int64, name string) (int64, error)
	FindEventType(ctx context.Context, creator int64, name string) (domain.EventType, error)
	// FindEventTypeIDs resolves the given names for this creator; names with
	// no match are simply absent from the result.
	FindEventTypeIDs(ctx context.Context, creator int64, names []string) (map[string]int64, error)

	// EditEdges applies a bulk permission-edge edit in one transaction:
	// duplicate-tolerant insert of the resolved add IDs, then removal of
	// edges to the named event types, returning the number of rows removed.
	EditEdges(ctx context.Context, creator, entityTypeID int64, addEventTypeIDs []int64, removeNames []string) (int64, error)

	UpdateEventTypeAttrs(ctx context.Context, eventTypeID int64, attrs []string) error

	ListEntityTypes(ctx context.Context, creator int64, name string) ([]domain.EntityTypeView, error)
	ListEventTypes(ctx context.Context, creator int64, name string) ([]domain.EventTypeView, error)
}
