package ports

import (
	"context"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
)

type AccountRepository interface {
	// Create inserts the account and seeds its reserved audit metadata
	// (entity type, editor instances, meta event types and their permission
	// edges) in one transaction. Returns domain.ErrConflict when the email
	// is already registered.
	Create(ctx context.Context, email, verifier, salt string) (int64, error)
	FindByEmail(ctx context.Context, email string) (domain.Account, error)
}

type TokenRepository interface {
	Insert(ctx context.Context, userID int64, tokenHash, name string) error
	// FindUserByHash resolves a token hash to the owning account, or
	// domain.ErrNotFound.
	FindUserByHash(ctx context.Context, tokenHash string) (int64, error)
}
