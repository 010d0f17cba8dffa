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

type userModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Email     string    `gorm:"column:email;not null"`
	Password  string    `gorm:"column:password;not null"`
	Salt      string    `gorm:"column:salt;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (userModel) TableName() string {
	return "users"
}

type AccountRepository struct {
	db *gormsqlite.DB
}

func NewAccountRepository(db *gormsqlite.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// metaEventAttrs maps each reserved schema-mutation event type to the
// attribute names its audit records carry.
var metaEventAttrs = map[string][]string{
	domain.OpCreateEntity:     {"name"},
	domain.OpEditEntityEvents: {"to_add", "to_remove", "invalid_adds", "invalid_events", "removed"},
	domain.OpCreateEventType:  {"name"},
	domain.OpEditEventAttrs:   {"to_add", "to_remove"},
}

// Create inserts the account and seeds its reserved audit metadata in the
// same transaction: the audit_metadata entity type, the two editor
// instances, the four schema-mutation event types and their permission
// edges. Conflict detection relies on the email uniqueness constraint.
func (r *AccountRepository) Create(ctx context.Context, email, verifier, salt string) (int64, error) {
	now := time.Now().UTC()
	user := userModel{Email: email, Password: verifier, Salt: salt, CreatedAt: now}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).Create(&user)
		if res.Error != nil {
			return fmt.Errorf("insert user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return seedAuditMetadata(tx, user.ID, now)
	})
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

func seedAuditMetadata(tx *gormsqlite.Tx, userID int64, now time.Time) error {
	meta := entityTypeModel{Name: domain.MetaEntityType, Creator: userID, CreatedAt: now}
	if err := tx.Create(&meta).Error; err != nil {
		return fmt.Errorf("seed audit entity type: %w", err)
	}

	for _, name := range []string{domain.MetaEntityEditor, domain.MetaEventEditor} {
		editor := entityInstanceModel{Name: name, Type: meta.ID, Created: now, Modified: now}
		if err := tx.Create(&editor).Error; err != nil {
			return fmt.Errorf("seed editor instance %s: %w", name, err)
		}
	}

	for _, name := range []string{domain.OpCreateEntity, domain.OpEditEntityEvents, domain.OpCreateEventType, domain.OpEditEventAttrs} {
		attrs, err := json.Marshal(metaEventAttrs[name])
		if err != nil {
			return fmt.Errorf("encode attrs for %s: %w", name, err)
		}
		event := eventTypeModel{Name: name, Creator: userID, Attrs: string(attrs), CreatedAt: now}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("seed event type %s: %w", name, err)
		}
		edge := entityEventModel{EntityID: meta.ID, EventID: event.ID}
		if err := tx.Create(&edge).Error; err != nil {
			return fmt.Errorf("seed permission edge %s: %w", name, err)
		}
	}
	return nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	var model userModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("email = ?", email).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("find user: %w", err)
	}
	return domain.Account{
		ID:        model.ID,
		Email:     model.Email,
		Password:  model.Password,
		Salt:      model.Salt,
		CreatedAt: model.CreatedAt,
	}, nil
}
