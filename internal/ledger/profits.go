package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GetUserProfit returns nil, nil when the pair has no aggregate yet.
func (d *Database) GetUserProfit(ctx context.Context, userID, companyID string) (*types.UserProfit, error) {
	var profit types.UserProfit
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND company_id = ?", userID, companyID).
		First(&profit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profit, nil
}

func (d *Database) ListUserProfits(ctx context.Context, userID string) ([]types.UserProfit, error) {
	var profits []types.UserProfit
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&profits).Error; err != nil {
		return nil, err
	}
	return profits, nil
}

// AddUserProfit upserts the (user, company) aggregate. A version of zero means
// the caller saw no record and one is created under id; otherwise the existing
// record is incremented if it is still at version.
func (d *Database) AddUserProfit(ctx context.Context, id, userID, companyID string, profit, invested decimal.Decimal, version int64) (*types.UserProfit, error) {
	if version == 0 {
		record := &types.UserProfit{
			ID:             id,
			UserID:         userID,
			CompanyID:      companyID,
			Profit:         profit,
			InvestedAmount: invested,
			ROI:            types.ComputeROI(profit, invested),
			Version:        1,
		}
		if err := d.db.WithContext(ctx).Create(record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ErrConcurrentModification
			}
			return nil, err
		}
		return record, nil
	}

	record, err := d.GetUserProfit(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	if record.Version != version {
		return nil, ErrConcurrentModification
	}
	record.Profit = record.Profit.Add(profit)
	record.InvestedAmount = record.InvestedAmount.Add(invested)
	if err := d.swapUserProfit(ctx, record, version); err != nil {
		return nil, err
	}
	return record, nil
}

// ReverseUserProfit subtracts a previously added increment.
func (d *Database) ReverseUserProfit(ctx context.Context, id string, profit, invested decimal.Decimal) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		var record types.UserProfit
		if err := d.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		version := record.Version
		record.Profit = record.Profit.Sub(profit)
		record.InvestedAmount = record.InvestedAmount.Sub(invested)
		err := d.swapUserProfit(ctx, &record, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
	}
	return fmt.Errorf("reverse user profit %s: %w", id, ErrConcurrentModification)
}

// DeleteUserProfit removes an aggregate created by a trade that is being
// compensated. Missing records are ignored.
func (d *Database) DeleteUserProfit(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Where("id = ?", id).Delete(&types.UserProfit{}).Error
}

func (d *Database) swapUserProfit(ctx context.Context, record *types.UserProfit, version int64) error {
	record.ROI = types.ComputeROI(record.Profit, record.InvestedAmount)
	record.Version = version + 1
	record.UpdatedAt = time.Now()

	result := d.db.WithContext(ctx).Model(&types.UserProfit{}).
		Where("id = ? AND version = ?", record.ID, version).
		Updates(map[string]interface{}{
			"profit":          record.Profit,
			"invested_amount": record.InvestedAmount,
			"roi":             record.ROI,
			"version":         record.Version,
			"updated_at":      record.UpdatedAt,
		})
	return swapped(result, func() (bool, error) {
		var count int64
		err := d.db.WithContext(ctx).Model(&types.UserProfit{}).Where("id = ?", record.ID).Count(&count).Error
		return count == 0, err
	})
}
