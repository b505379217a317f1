package migrations

import (
	"github.com/ksred/stock-ledger/internal/types"
	"gorm.io/gorm"
)

// CreateLedger creates the ledger tables and the indexes trades read through
func CreateLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.User{},
		&types.Company{},
		&types.StockLot{},
		&types.Transaction{},
		&types.UserProfit{},
	); err != nil {
		return err
	}

	indexes := []string{
		// FIFO scans of a holding
		`CREATE INDEX IF NOT EXISTS idx_stock_lots_fifo
		 ON stock_lots(user_id, company_id, created_at, id)`,

		// Paginated history filtered by type
		`CREATE INDEX IF NOT EXISTS idx_transactions_type_date
		 ON transactions(type, date)`,

		// Per-user history
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_date
		 ON transactions(user_id, date)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
