package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/auditledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
)

type entityInstanceModel struct {
	ID       int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name     string    `gorm:"column:name;not null"`
	Type     int64     `gorm:"column:type;not null"`
	Created  time.Time `gorm:"column:created;not null"`
	Modified time.Time `gorm:"column:modified;not null"`
}

func (entityInstanceModel) TableName() string {
	return "entity_instances"
}

type eventModel struct {
	ID       int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Type     int64     `gorm:"column:type;not null"`
	EntityID int64     `gorm:"column:entity_id;not null"`
	Creator  int64     `gorm:"column:creator;not null"`
	Time     time.Time `gorm:"column:time;not null"`
	Success  bool      `gorm:"column:success;not null"`
	RbID     *int64    `gorm:"column:rb_id"`
	Notes    string    `gorm:"column:notes;not null"`
	Data     string    `gorm:"column:data;not null"`
}

func (eventModel) TableName() string {
	return "events"
}

// Payload keys with dedicated columns; never projected into the attribute bag.
var reservedEventKeys = map[string]struct{}{
	"event_type":  {},
	"entity_type": {},
	"entity_name": {},
	"success":     {},
	"rollback_id": {},
	"notes":       {},
}

type LedgerStore struct {
	db *gormsqlite.DB
}

func NewLedgerStore(db *gormsqlite.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Append performs the whole name-and-permission resolution, instance
// creation, attribute projection, record insert and outbox insert in one
// write transaction, so an event can never reference a type deleted between
// check and use, and nothing is written when validation fails.
func (s *LedgerStore) Append(ctx context.Context, creator int64, input domain.EventInput) error {
	return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var eventType eventTypeModel
		err := tx.Where("name = ? AND creator = ?", input.EventType, creator).First(&eventType).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUnknownName
			}
			return fmt.Errorf("resolve event type: %w", err)
		}

		var entityType entityTypeModel
		err = tx.Where("name = ? AND creator = ?", input.EntityType, creator).First(&entityType).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUnknownName
			}
			return fmt.Errorf("resolve entity type: %w", err)
		}

		var edges int64
		err = tx.Model(&entityEventModel{}).
			Where("entity_id = ? AND event_id = ?", entityType.ID, eventType.ID).
			Count(&edges).Error
		if err != nil {
			return fmt.Errorf("check permission edge: %w", err)
		}
		if edges == 0 {
			return &domain.ErrNotPermitted{Event: input.EventType, Entity: input.EntityType}
		}

		now := time.Now().UTC()
		instance, err := resolveInstance(tx, input.EntityName, entityType.ID, now)
		if err != nil {
			return err
		}

		declared, err := toEventTypeDomain(eventType)
		if err != nil {
			return err
		}
		data, err := projectAttrs(input.Attrs, declared.Attrs)
		if err != nil {
			return err
		}

		event := eventModel{
			Type:     eventType.ID,
			EntityID: instance.ID,
			Creator:  creator,
			Time:     now,
			Success:  input.Success,
			RbID:     input.RollbackID,
			Notes:    input.Notes,
			Data:     string(data),
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		envelope := domain.LedgerEnvelope{
			EventID:    uuid.NewString(),
			EventType:  input.EventType,
			EntityType: input.EntityType,
			EntityName: input.EntityName,
			Creator:    creator,
			RecordID:   event.ID,
			Success:    input.Success,
			OccurredAt: now,
			Attrs:      data,
		}
		return insertOutbox(tx, envelope)
	})
}

// resolveInstance finds the named instance of the entity type, creating it on
// first reference. The modified stamp advances on every event it receives.
func resolveInstance(tx *gormsqlite.Tx, name string, typeID int64, now time.Time) (entityInstanceModel, error) {
	var instance entityInstanceModel
	err := tx.Where("name = ? AND type = ?", name, typeID).First(&instance).Error
	switch {
	case err == nil:
		update := tx.Model(&entityInstanceModel{}).Where("id = ?", instance.ID).Update("modified", now)
		if update.Error != nil {
			return entityInstanceModel{}, fmt.Errorf("touch instance: %w", update.Error)
		}
		return instance, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		instance = entityInstanceModel{Name: name, Type: typeID, Created: now, Modified: now}
		if err := tx.Create(&instance).Error; err != nil {
			return entityInstanceModel{}, fmt.Errorf("create instance: %w", err)
		}
		return instance, nil
	default:
		return entityInstanceModel{}, fmt.Errorf("resolve instance: %w", err)
	}
}

// projectAttrs keeps only attribute keys the event type declares. Reserved
// payload keys live in their own columns and never enter the bag.
func projectAttrs(payload map[string]any, declared []string) (json.RawMessage, error) {
	bag := make(map[string]any, len(declared))
	for _, attr := range declared {
		if _, reserved := reservedEventKeys[attr]; reserved {
			continue
		}
		if value, ok := payload[attr]; ok {
			bag[attr] = value
		}
	}
	encoded, err := json.Marshal(bag)
	if err != nil {
		return nil, fmt.Errorf("encode attribute bag: %w", err)
	}
	return encoded, nil
}

func insertOutbox(tx *gormsqlite.Tx, envelope domain.LedgerEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	outbox := outboxEventModel{
		EventID:       envelope.EventID,
		Creator:       envelope.Creator,
		Topic:         fmt.Sprintf("audit.%d.%s", envelope.Creator, envelope.EventType),
		PayloadJSON:   string(payload),
		Status:        "pending",
		Attempts:      0,
		NextAttemptAt: envelope.OccurredAt,
		LastError:     "",
		CreatedAt:     envelope.OccurredAt,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (s *LedgerStore) List(ctx context.Context, creator int64, filter domain.EventFilter, entityName string) ([]domain.EventRecord, error) {
	var models []eventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&eventModel{}).Where("events.creator = ?", creator)
		if entityName != "" {
			query = query.
				Joins("INNER JOIN entity_instances ON entity_instances.id = events.entity_id").
				Where("entity_instances.name = ?", entityName)
		}
		for column, value := range filter.Columns {
			query = query.Where(column+" = ?", value)
		}
		for key, value := range filter.Attrs {
			query = query.Where("json_extract(events.data, ?) = ?", "$."+key, value)
		}
		return query.Order("events.time DESC, events.id DESC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	records := make([]domain.EventRecord, 0, len(models))
	for _, model := range models {
		records = append(records, domain.EventRecord{
			ID:         model.ID,
			TypeID:     model.Type,
			EntityID:   model.EntityID,
			Time:       model.Time,
			Success:    model.Success,
			RollbackID: model.RbID,
			Notes:      model.Notes,
			Attrs:      json.RawMessage(model.Data),
		})
	}
	return records, nil
}

func (s *LedgerStore) ListEntityInstances(ctx context.Context, creator int64) ([]domain.EntityInstance, error) {
	var models []entityInstanceModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("type IN (SELECT id FROM entity_types WHERE creator = ?)", creator).
			Order("id ASC").
			Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list entity instances: %w", err)
	}

	instances := make([]domain.EntityInstance, 0, len(models))
	for _, model := range models {
		instances = append(instances, domain.EntityInstance{
			ID:       model.ID,
			Name:     model.Name,
			TypeID:   model.Type,
			Created:  model.Created,
			Modified: model.Modified,
		})
	}
	return instances, nil
}
