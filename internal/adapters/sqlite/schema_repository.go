package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/auditledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
)

type entityTypeModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;not null"`
	Creator   int64     `gorm:"column:creator;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (entityTypeModel) TableName() string {
	return "entity_types"
}

type eventTypeModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;not null"`
	Creator   int64     `gorm:"column:creator;not null"`
	Attrs     string    `gorm:"column:attrs;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (eventTypeModel) TableName() string {
	return "event_types"
}

// entityEventModel is one permission edge: events of type EventID may be
// recorded on entities of type EntityID.
type entityEventModel struct {
	EntityID int64 `gorm:"column:entity_id;primaryKey"`
	EventID  int64 `gorm:"column:event_id;primaryKey"`
}

func (entityEventModel) TableName() string {
	return "entity_events"
}

type SchemaRepository struct {
	db *gormsqlite.DB
}

func NewSchemaRepository(db *gormsqlite.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

func (r *SchemaRepository) InsertEntityType(ctx context.Context, creator int64, name string) (int64, error) {
	model := entityTypeModel{Name: name, Creator: creator, CreatedAt: time.Now().UTC()}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "creator"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return fmt.Errorf("insert entity type: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return model.ID, nil
}

func (r *SchemaRepository) InsertEventType(ctx context.Context, creator int64, name string) (int64, error) {
	model := eventTypeModel{Name: name, Creator: creator, Attrs: "[]", CreatedAt: time.Now().UTC()}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "creator"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return fmt.Errorf("insert event type: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return model.ID, nil
}

func (r *SchemaRepository) FindEntityTypeID(ctx context.Context, creator int64, name string) (int64, error) {
	var model entityTypeModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("name = ? AND creator = ?", name, creator).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("find entity type: %w", err)
	}
	return model.ID, nil
}

func (r *SchemaRepository) FindEventType(ctx context.Context, creator int64, name string) (domain.EventType, error) {
	var model eventTypeModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("name = ? AND creator = ?", name, creator).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.EventType{}, domain.ErrNotFound
		}
		return domain.EventType{}, fmt.Errorf("find event type: %w", err)
	}
	return toEventTypeDomain(model)
}

func (r *SchemaRepository) FindEventTypeIDs(ctx context.Context, creator int64, names []string) (map[string]int64, error) {
	resolved := make(map[string]int64, len(names))
	if len(names) == 0 {
		return resolved, nil
	}
	var models []eventTypeModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("creator = ? AND name IN ?", creator, names).Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("resolve event types: %w", err)
	}
	for _, model := range models {
		resolved[model.Name] = model.ID
	}
	return resolved, nil
}

// EditEdges inserts the resolved add edges (duplicates are no-ops) and
// deletes edges to the named event types, all in one transaction. The
// returned count is rows actually deleted, so removing an absent edge
// contributes nothing.
func (r *SchemaRepository) EditEdges(ctx context.Context, creator, entityTypeID int64, addEventTypeIDs []int64, removeNames []string) (int64, error) {
	var removed int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if len(addEventTypeIDs) > 0 {
			edges := make([]entityEventModel, 0, len(addEventTypeIDs))
			for _, eventID := range addEventTypeIDs {
				edges = append(edges, entityEventModel{EntityID: entityTypeID, EventID: eventID})
			}
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error
			if err != nil {
				return fmt.Errorf("insert edges: %w", err)
			}
		}
		if len(removeNames) > 0 {
			res := tx.Where(
				"entity_id = ? AND event_id IN (SELECT id FROM event_types WHERE creator = ? AND name IN ?)",
				entityTypeID, creator, removeNames,
			).Delete(&entityEventModel{})
			if res.Error != nil {
				return fmt.Errorf("delete edges: %w", res.Error)
			}
			removed = res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *SchemaRepository) UpdateEventTypeAttrs(ctx context.Context, eventTypeID int64, attrs []string) error {
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attrs: %w", err)
	}
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&eventTypeModel{}).Where("id = ?", eventTypeID).Update("attrs", string(encoded)).Error
	})
	if err != nil {
		return fmt.Errorf("update attrs: %w", err)
	}
	return nil
}

func (r *SchemaRepository) ListEntityTypes(ctx context.Context, creator int64, name string) ([]domain.EntityTypeView, error) {
	type row struct {
		Entity string
		Event  *string
	}
	var rows []row
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Table("entity_types").
			Select("entity_types.name AS entity, event_types.name AS event").
			Joins("LEFT JOIN entity_events ON entity_events.entity_id = entity_types.id").
			Joins("LEFT JOIN event_types ON event_types.id = entity_events.event_id").
			Where("entity_types.creator = ?", creator)
		if name != "" {
			query = query.Where("entity_types.name = ?", name)
		}
		return query.Order("entity_types.name ASC, event_types.name ASC").Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}

	views := make([]domain.EntityTypeView, 0)
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.Entity]
		if !ok {
			i = len(views)
			index[r.Entity] = i
			views = append(views, domain.EntityTypeView{Name: r.Entity, Events: []string{}})
		}
		if r.Event != nil {
			views[i].Events = append(views[i].Events, *r.Event)
		}
	}
	return views, nil
}

func (r *SchemaRepository) ListEventTypes(ctx context.Context, creator int64, name string) ([]domain.EventTypeView, error) {
	var models []eventTypeModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Where("creator = ?", creator)
		if name != "" {
			query = query.Where("name = ?", name)
		}
		return query.Order("name ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}

	views := make([]domain.EventTypeView, 0, len(models))
	for _, model := range models {
		eventType, err := toEventTypeDomain(model)
		if err != nil {
			return nil, err
		}
		views = append(views, domain.EventTypeView{Name: eventType.Name, Attributes: eventType.Attrs})
	}
	return views, nil
}

func toEventTypeDomain(model eventTypeModel) (domain.EventType, error) {
	attrs := []string{}
	if model.Attrs != "" {
		if err := json.Unmarshal([]byte(model.Attrs), &attrs); err != nil {
			return domain.EventType{}, fmt.Errorf("decode attrs of %s: %w", model.Name, err)
		}
	}
	return domain.EventType{
		ID:        model.ID,
		Name:      model.Name,
		Creator:   model.Creator,
		Attrs:     attrs,
		CreatedAt: model.CreatedAt,
	}, nil
}
