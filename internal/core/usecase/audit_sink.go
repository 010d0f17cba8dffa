package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/internal/core/ports"
)

const auditSinkMaxRetries = 2

// LedgerAuditSink records schema-registry mutations as regular ledger events
// against the reserved audit_metadata entity. Writes are best-effort with a
// bounded retry: a dropped audit record is logged, never allowed to fail or
// recurse into the mutation that produced it.
type LedgerAuditSink struct {
	ledger *Ledger
	log    logrus.FieldLogger
}

var _ ports.AuditSink = (*LedgerAuditSink)(nil)

func NewLedgerAuditSink(ledger *Ledger, log logrus.FieldLogger) *LedgerAuditSink {
	return &LedgerAuditSink{ledger: ledger, log: log}
}

func (s *LedgerAuditSink) Record(ctx context.Context, creator int64, entry domain.AuditEntry) error {
	payload, err := auditPayload(entry)
	if err != nil {
		s.log.WithError(err).WithField("event_type", entry.EventType).Warn("audit entry not encodable, dropped")
		return err
	}

	backoff := retry.WithMaxRetries(auditSinkMaxRetries, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.ledger.Add(ctx, creator, payload)
		var status *domain.StatusError
		if errors.As(err, &status) && status.Code < 500 {
			// A validation failure will not heal on retry.
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event_type": entry.EventType,
			"creator":    creator,
			"success":    entry.Success,
		}).Warn("audit record dropped")
	}
	return err
}

// auditPayload builds the ledger payload for an audit entry, round-tripping
// the free attributes through JSON so the payload carries only generic JSON
// types regardless of what the registry put in.
func auditPayload(entry domain.AuditEntry) (map[string]any, error) {
	payload := map[string]any{
		"event_type":  entry.EventType,
		"entity_type": domain.MetaEntityType,
		"entity_name": entry.EntityName,
		"success":     entry.Success,
		"notes":       entry.Notes,
	}
	for key, value := range entry.Attrs {
		if _, reserved := payload[key]; reserved {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode audit attribute %s: %w", key, err)
		}
		var generic any
		if err := json.Unmarshal(encoded, &generic); err != nil {
			return nil, fmt.Errorf("decode audit attribute %s: %w", key, err)
		}
		payload[key] = generic
	}
	return payload, nil
}
