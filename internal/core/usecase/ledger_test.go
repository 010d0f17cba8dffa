package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
)

type stubLedgerStore struct {
	appendFn func(ctx context.Context, creator int64, input domain.EventInput) error
	listFn   func(ctx context.Context, creator int64, filter domain.EventFilter, entityName string) ([]domain.EventRecord, error)
}

func (s *stubLedgerStore) Append(ctx context.Context, creator int64, input domain.EventInput) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, creator, input)
	}
	return nil
}

func (s *stubLedgerStore) List(ctx context.Context, creator int64, filter domain.EventFilter, entityName string) ([]domain.EventRecord, error) {
	if s.listFn != nil {
		return s.listFn(ctx, creator, filter, entityName)
	}
	return nil, nil
}

func (s *stubLedgerStore) ListEntityInstances(context.Context, int64) ([]domain.EntityInstance, error) {
	return nil, nil
}

func validPayload() map[string]any {
	return map[string]any{
		"event_type":  "deploy",
		"entity_type": "server",
		"entity_name": "web-1",
		"success":     true,
	}
}

func TestLedgerAddRejectsMissingMandatoryFields(t *testing.T) {
	ledger := NewLedger(&stubLedgerStore{
		appendFn: func(context.Context, int64, domain.EventInput) error {
			t.Fatal("store must not be reached when the payload gate fails")
			return nil
		},
	})

	payloads := []map[string]any{
		{},
		{"event_type": "deploy", "entity_type": "server", "entity_name": "web-1"},
		{"event_type": "deploy", "entity_type": "server", "success": true},
		{"event_type": "", "entity_type": "server", "entity_name": "web-1", "success": true},
		{"event_type": "deploy", "entity_type": "server", "entity_name": "web-1", "success": "yes"},
	}
	for i, payload := range payloads {
		_, err := ledger.Add(context.Background(), 1, payload)
		var status *domain.StatusError
		if !errors.As(err, &status) {
			t.Fatalf("payload %d: expected StatusError, got %v", i, err)
		}
		if status.Code != 400 || status.Message != "Missing Mandatory Event Parameter(s)" {
			t.Errorf("payload %d: got %d %q", i, status.Code, status.Message)
		}
	}
}

func TestLedgerAddMapsStoreErrors(t *testing.T) {
	t.Run("unknown name", func(t *testing.T) {
		ledger := NewLedger(&stubLedgerStore{
			appendFn: func(context.Context, int64, domain.EventInput) error {
				return domain.ErrUnknownName
			},
		})
		_, err := ledger.Add(context.Background(), 1, validPayload())
		var status *domain.StatusError
		if !errors.As(err, &status) || status.Message != "Invalid Name(s) Received" || status.Code != 400 {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("no permission edge", func(t *testing.T) {
		ledger := NewLedger(&stubLedgerStore{
			appendFn: func(context.Context, int64, domain.EventInput) error {
				return &domain.ErrNotPermitted{Event: "deploy", Entity: "server"}
			},
		})
		_, err := ledger.Add(context.Background(), 1, validPayload())
		var status *domain.StatusError
		if !errors.As(err, &status) || status.Message != "Invalid Event (deploy) on Entity (server)" {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		ledger := NewLedger(&stubLedgerStore{
			appendFn: func(context.Context, int64, domain.EventInput) error {
				return errors.New("disk full")
			},
		})
		_, err := ledger.Add(context.Background(), 1, validPayload())
		var status *domain.StatusError
		if !errors.As(err, &status) || status.Code != 500 || status.Message != domain.DatabaseErrorMessage {
			t.Fatalf("got %v", err)
		}
	})
}

func TestLedgerAddBuildsEventInput(t *testing.T) {
	var got domain.EventInput
	ledger := NewLedger(&stubLedgerStore{
		appendFn: func(_ context.Context, creator int64, input domain.EventInput) error {
			if creator != 9 {
				t.Errorf("creator = %d, want 9", creator)
			}
			got = input
			return nil
		},
	})

	payload := validPayload()
	payload["rollback_id"] = float64(17)
	payload["notes"] = "compensating action"
	payload["host"] = "web-1"

	message, err := ledger.Add(context.Background(), 9, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message != "deploy event occurred on server instance web-1" {
		t.Errorf("message = %q", message)
	}
	if got.EventType != "deploy" || got.EntityType != "server" || got.EntityName != "web-1" || !got.Success {
		t.Errorf("input = %+v", got)
	}
	if got.RollbackID == nil || *got.RollbackID != 17 {
		t.Errorf("RollbackID = %v, want 17", got.RollbackID)
	}
	if got.Notes != "compensating action" {
		t.Errorf("Notes = %q", got.Notes)
	}
	if got.Attrs["host"] != "web-1" {
		t.Errorf("Attrs missing host: %v", got.Attrs)
	}
}

func TestLedgerViewRejectsInvalidFilterKey(t *testing.T) {
	ledger := NewLedger(&stubLedgerStore{})

	_, err := ledger.View(context.Background(), 1, map[string]any{"bad key!": "v"}, "")
	var status *domain.StatusError
	if !errors.As(err, &status) || status.Code != 400 {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if status.Message != "Invalid filter attribute name" {
		t.Errorf("message = %q", status.Message)
	}
}

func TestLedgerViewPassesFilterThrough(t *testing.T) {
	var gotFilter domain.EventFilter
	var gotEntity string
	ledger := NewLedger(&stubLedgerStore{
		listFn: func(_ context.Context, _ int64, filter domain.EventFilter, entityName string) ([]domain.EventRecord, error) {
			gotFilter = filter
			gotEntity = entityName
			return []domain.EventRecord{{ID: 1}}, nil
		},
	})

	records, err := ledger.View(context.Background(), 1, map[string]any{"success": true, "host": "web-1"}, "web-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if gotEntity != "web-1" {
		t.Errorf("entityName = %q", gotEntity)
	}
	if gotFilter.Columns["events.success"] != true || gotFilter.Attrs["host"] != "web-1" {
		t.Errorf("filter = %+v", gotFilter)
	}
}
