package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/auditledger/internal/adapters/events"
	"github.com/atvirokodosprendimai/auditledger/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/auditledger/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/auditledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/auditledger/internal/core/ports"
	"github.com/atvirokodosprendimai/auditledger/internal/core/usecase"
	"github.com/atvirokodosprendimai/auditledger/migrations"
)

type Config struct {
	Addr           string
	DBPath         string
	TokenSalt      string
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration
	OutboxInterval time.Duration
	OutboxBatch    int
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config, log logrus.FieldLogger) (*http.Server, io.Closer, error) {
	db, err := gormsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	accountRepo := sqliteadapter.NewAccountRepository(db)
	tokenRepo := sqliteadapter.NewTokenRepository(db)
	schemaRepo := sqliteadapter.NewSchemaRepository(db)
	ledgerStore := sqliteadapter.NewLedgerStore(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)

	authorizer := usecase.NewAuthorizer(accountRepo, tokenRepo, cfg.TokenSalt)
	ledger := usecase.NewLedger(ledgerStore)
	auditSink := usecase.NewLedgerAuditSink(ledger, log)
	entityTypes := usecase.NewEntityTypeManager(schemaRepo, auditSink)
	eventTypes := usecase.NewEventTypeManager(schemaRepo, auditSink)

	var publisher ports.EventPublisher = events.NewLogPublisher(log)
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, log, cfg.OutboxInterval, cfg.OutboxBatch)
	dispatcher.Start(context.Background())

	handler := httpapi.NewHandler(authorizer, entityTypes, eventTypes, ledger, log)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{dispatcher, db}}, nil
}
