package trading

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Database persists the saga log.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateSaga(ctx context.Context, saga *TradeSaga) error {
	return d.db.WithContext(ctx).Create(saga).Error
}

func (d *Database) UpdateSaga(ctx context.Context, saga *TradeSaga) error {
	saga.UpdatedAt = time.Now()
	return d.db.WithContext(ctx).Save(saga).Error
}

// GetSaga returns nil, nil when the saga does not exist.
func (d *Database) GetSaga(ctx context.Context, id string) (*TradeSaga, error) {
	var saga TradeSaga
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&saga).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &saga, nil
}

// GetCommittedSaga finds a completed trade submitted under key by userID.
func (d *Database) GetCommittedSaga(ctx context.Context, key, userID string) (*TradeSaga, error) {
	var saga TradeSaga
	err := d.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ? AND status = ?", key, userID, SagaCommitted).
		First(&saga).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &saga, nil
}

// GetStaleSagas returns pending sagas last touched before cutoff.
func (d *Database) GetStaleSagas(ctx context.Context, cutoff time.Time) ([]TradeSaga, error) {
	var sagas []TradeSaga
	err := d.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", SagaPending, cutoff).
		Order("created_at ASC").
		Find(&sagas).Error
	if err != nil {
		return nil, err
	}
	return sagas, nil
}
