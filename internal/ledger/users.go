package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultWalletBalance is the cash a new user starts with.
var DefaultWalletBalance = decimal.NewFromInt(15)

func (d *Database) CreateUser(ctx context.Context, user *types.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Version == 0 {
		user.Version = 1
	}
	return d.db.WithContext(ctx).Create(user).Error
}

// GetUser returns nil, nil when the user does not exist.
func (d *Database) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var user types.User
	if err := d.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUserAfterTransaction applies a completed trade to the user, provided
// the stored version still equals version. Buys re-check the wallet against
// the stored balance so a stale read cannot overdraw.
func (d *Database) UpdateUserAfterTransaction(ctx context.Context, t types.TransactionType, amount decimal.Decimal, userID string, profit decimal.Decimal, version int64) (*types.User, error) {
	if !t.Valid() {
		return nil, ErrInvalidTransactionType
	}

	user, err := d.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	if user.Version != version {
		return nil, ErrConcurrentModification
	}
	if t == types.TransactionBuy && user.WalletBalance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	types.UserDeltaFor(t, amount, profit).Apply(user)
	if err := d.swapUser(ctx, user, version); err != nil {
		return nil, err
	}
	return user, nil
}

// RollbackUserAfterTransaction reverts UpdateUserAfterTransaction. It retries
// on version conflicts since the reversal is relative.
func (d *Database) RollbackUserAfterTransaction(ctx context.Context, t types.TransactionType, amount decimal.Decimal, userID string, profit decimal.Decimal) (*types.User, error) {
	if !t.Valid() {
		return nil, ErrInvalidTransactionType
	}
	undo := types.UserDeltaFor(t, amount, profit).Inverse()

	for attempt := 0; attempt < maxRetries; attempt++ {
		user, err := d.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrNotFound
		}

		version := user.Version
		undo.Apply(user)
		err = d.swapUser(ctx, user, version)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("rollback user %s: %w", userID, ErrConcurrentModification)
}

func (d *Database) swapUser(ctx context.Context, user *types.User, version int64) error {
	user.Version = version + 1
	user.UpdatedAt = time.Now()

	result := d.db.WithContext(ctx).Model(&types.User{}).
		Where("id = ? AND version = ?", user.ID, version).
		Updates(map[string]interface{}{
			"wallet_balance":        user.WalletBalance,
			"stock_balance":         user.StockBalance,
			"total_profit":          user.TotalProfit,
			"total_invested_amount": user.TotalInvestedAmount,
			"number_of_assets":      user.NumberOfAssets,
			"number_of_trades":      user.NumberOfTrades,
			"version":               user.Version,
			"updated_at":            user.UpdatedAt,
		})
	return swapped(result, func() (bool, error) {
		existing, err := d.GetUser(ctx, user.ID)
		return existing == nil, err
	})
}
