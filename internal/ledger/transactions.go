package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/internal/types"
	"gorm.io/gorm"
)

// TransactionPageSize is the number of transactions per listing page.
const TransactionPageSize = 10

type TransactionFilter struct {
	UserID string
	Type   types.TransactionType
	Page   int
	Order  string // asc or desc by date
}

func (d *Database) AddTransaction(ctx context.Context, tx *types.Transaction) error {
	if !tx.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	return d.db.WithContext(ctx).Create(tx).Error
}

// GetTransaction returns nil, nil when the transaction does not exist.
func (d *Database) GetTransaction(ctx context.Context, id string) (*types.Transaction, error) {
	var tx types.Transaction
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

// DeleteTransaction is only used to compensate a failed trade. Deleting a
// missing transaction is not an error.
func (d *Database) DeleteTransaction(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Where("id = ?", id).Delete(&types.Transaction{}).Error
}

func (d *Database) ListTransactions(ctx context.Context, filter TransactionFilter) (*types.TransactionPage, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, ErrInvalidTransactionType
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	order := "date DESC"
	if strings.EqualFold(filter.Order, "asc") {
		order = "date ASC"
	}

	query := d.db.WithContext(ctx).Model(&types.Transaction{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	transactions := make([]types.Transaction, 0, TransactionPageSize)
	err := query.Order(order).Order("id ASC").
		Offset((page - 1) * TransactionPageSize).
		Limit(TransactionPageSize).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}

	return &types.TransactionPage{
		Transactions: transactions,
		Page:         page,
		PageSize:     TransactionPageSize,
		TotalRecords: total,
		TotalPages:   int((total + TransactionPageSize - 1) / TransactionPageSize),
	}, nil
}
