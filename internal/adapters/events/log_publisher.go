package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
)

// LogPublisher is the default receiver when no webhook is configured: every
// dispatched envelope is written to the structured log.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, envelope domain.LedgerEnvelope) error {
	p.log.WithFields(logrus.Fields{
		"topic":       topic,
		"event_id":    envelope.EventID,
		"event_type":  envelope.EventType,
		"entity_type": envelope.EntityType,
		"entity_name": envelope.EntityName,
		"creator":     envelope.Creator,
		"record_id":   envelope.RecordID,
	}).Info("outbox publish")
	return nil
}
