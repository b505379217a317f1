package migrations

import (
	"github.com/ksred/stock-ledger/internal/trading"
	"gorm.io/gorm"
)

// AddTradeSagas creates the saga log table
func AddTradeSagas(db *gorm.DB) error {
	if err := db.AutoMigrate(&trading.TradeSaga{}); err != nil {
		return err
	}

	indexes := []string{
		// Recovery scans for stale pending sagas
		`CREATE INDEX IF NOT EXISTS idx_trade_sagas_status_updated
		 ON trade_sagas(status, updated_at)`,

		// Idempotent replays
		`CREATE INDEX IF NOT EXISTS idx_trade_sagas_idempotency
		 ON trade_sagas(idempotency_key, user_id, status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
