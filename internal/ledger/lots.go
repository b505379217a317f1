package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewLotID returns a time-ordered lot identifier.
func NewLotID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (d *Database) CreateLot(ctx context.Context, lot *types.StockLot) error {
	if lot.ID == "" {
		lot.ID = NewLotID()
	}
	if lot.Version == 0 {
		lot.Version = 1
	}
	return d.db.WithContext(ctx).Create(lot).Error
}

// ListLots returns a user's lots in one company, oldest first.
func (d *Database) ListLots(ctx context.Context, userID, companyID string) ([]types.StockLot, error) {
	var lots []types.StockLot
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND company_id = ?", userID, companyID).
		Order("created_at ASC, id ASC").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// ListUserLots returns every open lot a user holds, grouped by company.
func (d *Database) ListUserLots(ctx context.Context, userID string) ([]types.StockLot, error) {
	var lots []types.StockLot
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("company_id ASC, created_at ASC, id ASC").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// ConsumeLot deletes a fully sold lot if it is still at version.
func (d *Database) ConsumeLot(ctx context.Context, lotID string, version int64) error {
	result := d.db.WithContext(ctx).
		Where("id = ? AND version = ?", lotID, version).
		Delete(&types.StockLot{})
	return swapped(result, func() (bool, error) { return d.lotMissing(ctx, lotID) })
}

// ReduceLot sets a partially sold lot's quantity if it is still at version.
func (d *Database) ReduceLot(ctx context.Context, lotID string, version, quantity int64) error {
	result := d.db.WithContext(ctx).Model(&types.StockLot{}).
		Where("id = ? AND version = ?", lotID, version).
		Updates(map[string]interface{}{
			"quantity":   quantity,
			"version":    version + 1,
			"updated_at": time.Now(),
		})
	return swapped(result, func() (bool, error) { return d.lotMissing(ctx, lotID) })
}

// SetLotQuantity unconditionally restores a lot's quantity.
func (d *Database) SetLotQuantity(ctx context.Context, lotID string, quantity int64) error {
	result := d.db.WithContext(ctx).Model(&types.StockLot{}).
		Where("id = ?", lotID).
		Updates(map[string]interface{}{
			"quantity":   quantity,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RestoreLots re-inserts previously deleted lots under their original ids.
// Lots that already exist are left untouched.
func (d *Database) RestoreLots(ctx context.Context, lots []types.StockLot) error {
	if len(lots) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&lots).Error
}

// DeleteLots removes lots by id. Missing ids are ignored.
func (d *Database) DeleteLots(ctx context.Context, lotIDs ...string) error {
	if len(lotIDs) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Where("id IN ?", lotIDs).Delete(&types.StockLot{}).Error
}

func (d *Database) lotMissing(ctx context.Context, lotID string) (bool, error) {
	var lot types.StockLot
	err := d.db.WithContext(ctx).Select("id").Where("id = ?", lotID).First(&lot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	return false, err
}
