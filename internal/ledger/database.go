package ledger

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
)

// maxRetries bounds the read-modify-write loops used by compensating updates.
const maxRetries = 5

// Database is the ledger store. Every call is a single statement or a
// version-guarded compare-and-swap; callers compose them into trades.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// swapped turns a CAS result into an error. missing is consulted only when no
// row matched, to tell a deleted record from a lost race.
func swapped(result *gorm.DB, missing func() (bool, error)) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	gone, err := missing()
	if err != nil {
		return err
	}
	if gone {
		return ErrNotFound
	}
	return ErrConcurrentModification
}
