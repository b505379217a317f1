package migrations

import (
	"github.com/ksred/stock-ledger/internal/types"
	"gorm.io/gorm"
)

// AddWithdrawals creates the wallet withdrawal audit table
func AddWithdrawals(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Withdrawal{}); err != nil {
		return err
	}

	// Per-user history, newest first
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_withdrawals_user_date
		 ON withdrawals(user_id, date)`).Error
}
