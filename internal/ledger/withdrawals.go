package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrInvalidAmount is returned for withdrawals of zero or less.
var ErrInvalidAmount = errors.New("amount must be positive")

// Withdraw takes amount out of the user's wallet, provided the stored version
// still equals version, and records the audit row in the same database
// transaction.
func (d *Database) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, version int64) (*types.User, *types.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}

	var (
		user       *types.User
		withdrawal *types.Withdrawal
	)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := &Database{db: tx}

		current, err := store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNotFound
		}
		if current.Version != version {
			return ErrConcurrentModification
		}
		if current.WalletBalance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		opening := current.WalletBalance
		current.WalletBalance = opening.Sub(amount)
		if err := store.swapUser(ctx, current, version); err != nil {
			return err
		}

		record := &types.Withdrawal{
			ID:             uuid.New().String(),
			UserID:         userID,
			Date:           current.UpdatedAt,
			OpeningBalance: opening,
			ClosingBalance: current.WalletBalance,
			Amount:         amount,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		user, withdrawal = current, record
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return user, withdrawal, nil
}

// ListWithdrawals returns a user's withdrawals, newest first.
func (d *Database) ListWithdrawals(ctx context.Context, userID string) ([]types.Withdrawal, error) {
	var withdrawals []types.Withdrawal
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date DESC, id DESC").
		Find(&withdrawals).Error
	if err != nil {
		return nil, err
	}
	return withdrawals, nil
}
