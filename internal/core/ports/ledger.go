package ports

import (
	"context"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
)

type LedgerStore interface {
	// Append resolves the named entity and event types, checks the permission
	// edge, creates the entity instance on first reference, projects the
	// attribute payload through the event type's declared set and inserts the
	// record — all in a single transaction. Returns domain.ErrUnknownName or
	// *domain.ErrNotPermitted on validation failure, in which case nothing is
	// written.
	Append(ctx context.Context, creator int64, input domain.EventInput) error

	List(ctx context.Context, creator int64, filter domain.EventFilter, entityName string) ([]domain.EventRecord, error)
	ListEntityInstances(ctx context.Context, creator int64) ([]domain.EntityInstance, error)
}

// AuditSink receives the schema registry's self-audit entries. Implementations
// are expected to be best-effort: a failed audit write must never undo or
// block the mutation it describes.
type AuditSink interface {
	Record(ctx context.Context, creator int64, entry domain.AuditEntry) error
}
