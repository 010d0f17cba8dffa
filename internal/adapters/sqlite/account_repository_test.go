package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/atvirokodosprendimai/auditledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/migrations"
)

func newTestDB(t *testing.T) *gormsqlite.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := gormsqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(context.Background(), sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestAccountCreateBootstrapsAuditMetadata(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)
	schemas := NewSchemaRepository(db)
	ledger := NewLedgerStore(db)

	userID, err := accounts.Create(ctx, "user@example.com", "verifier", "salt")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if userID == 0 {
		t.Fatal("expected non-zero user id")
	}

	entities, err := schemas.ListEntityTypes(ctx, userID, "")
	if err != nil {
		t.Fatalf("list entity types: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != domain.MetaEntityType {
		t.Fatalf("entity types = %+v, want only %s", entities, domain.MetaEntityType)
	}
	if len(entities[0].Events) != 4 {
		t.Errorf("audit_metadata permits %d events, want 4: %v", len(entities[0].Events), entities[0].Events)
	}

	events, err := schemas.ListEventTypes(ctx, userID, "")
	if err != nil {
		t.Fatalf("list event types: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("event types = %d, want 4", len(events))
	}
	byName := map[string][]string{}
	for _, event := range events {
		byName[event.Name] = event.Attributes
	}
	if attrs := byName[domain.OpCreateEntity]; len(attrs) != 1 || attrs[0] != "name" {
		t.Errorf("%s attrs = %v", domain.OpCreateEntity, attrs)
	}
	if attrs := byName[domain.OpEditEntityEvents]; len(attrs) != 5 {
		t.Errorf("%s attrs = %v", domain.OpEditEntityEvents, attrs)
	}

	instances, err := ledger.ListEntityInstances(ctx, userID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("instances = %d, want 2", len(instances))
	}
	names := map[string]bool{}
	for _, instance := range instances {
		names[instance.Name] = true
	}
	if !names[domain.MetaEntityEditor] || !names[domain.MetaEventEditor] {
		t.Errorf("editor instances missing: %v", names)
	}
}

func TestAccountCreateConflictOnDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)

	if _, err := accounts.Create(ctx, "user@example.com", "v1", "s1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := accounts.Create(ctx, "user@example.com", "v2", "s2")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second create error = %v, want ErrConflict", err)
	}
}

func TestAccountCreateConcurrentDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)

	// Two simultaneous registrations of the same email: exactly one wins,
	// the other hits the uniqueness constraint.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := accounts.Create(ctx, "user@example.com", "v", "s")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 || conflicts != 1 {
		t.Fatalf("created = %d, conflicts = %d, want 1 and 1", created, conflicts)
	}

	account, err := accounts.FindByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("find after race: %v", err)
	}
	if account.ID == 0 {
		t.Error("winning registration left no account")
	}
}

func TestAccountFindByEmail(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)

	userID, err := accounts.Create(ctx, "user@example.com", "verifier", "salt")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	account, err := accounts.FindByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if account.ID != userID || account.Password != "verifier" || account.Salt != "salt" {
		t.Errorf("account = %+v", account)
	}

	_, err = accounts.FindByEmail(ctx, "other@example.com")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown email error = %v, want ErrNotFound", err)
	}
}

func TestTokenRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)
	tokens := NewTokenRepository(db)

	userID, err := accounts.Create(ctx, "user@example.com", "verifier", "salt")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := tokens.Insert(ctx, userID, "hash-abc", "ci"); err != nil {
		t.Fatalf("insert token: %v", err)
	}

	got, err := tokens.FindUserByHash(ctx, "hash-abc")
	if err != nil {
		t.Fatalf("find token: %v", err)
	}
	if got != userID {
		t.Errorf("user = %d, want %d", got, userID)
	}

	_, err = tokens.FindUserByHash(ctx, "hash-missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing hash error = %v, want ErrNotFound", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	sqlDB, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(ctx, sqlDB); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
