package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func (d *Database) CreateCompany(ctx context.Context, company *types.Company) error {
	if company.ID == "" {
		company.ID = uuid.New().String()
	}
	if company.Version == 0 {
		company.Version = 1
	}
	return d.db.WithContext(ctx).Create(company).Error
}

// GetCompany returns nil, nil when the company does not exist.
func (d *Database) GetCompany(ctx context.Context, companyID string) (*types.Company, error) {
	var company types.Company
	if err := d.db.WithContext(ctx).Where("id = ?", companyID).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

// CompanyFilter narrows ListCompanies. A nil MaxPrice lists everything.
type CompanyFilter struct {
	MaxPrice *decimal.Decimal
}

// ListCompanies returns companies ordered by acronym. Prices are stored as
// text, so the price bound is applied after the read.
func (d *Database) ListCompanies(ctx context.Context, filter CompanyFilter) ([]types.Company, error) {
	var companies []types.Company
	if err := d.db.WithContext(ctx).Order("acronym ASC").Find(&companies).Error; err != nil {
		return nil, err
	}
	if filter.MaxPrice == nil {
		return companies, nil
	}

	affordable := make([]types.Company, 0, len(companies))
	for _, company := range companies {
		if company.CurrentPrice.LessThanOrEqual(*filter.MaxPrice) {
			affordable = append(affordable, company)
		}
	}
	return affordable, nil
}

// UpdateCompanyAfterTransaction bumps the buy or sell counter and the trade
// counter in one statement.
func (d *Database) UpdateCompanyAfterTransaction(ctx context.Context, t types.TransactionType, companyID string) (*types.Company, error) {
	if !t.Valid() {
		return nil, ErrInvalidTransactionType
	}
	return d.incrementCompany(ctx, companyID, types.CompanyDeltaFor(t))
}

// RollbackCompanyAfterTransaction reverts UpdateCompanyAfterTransaction.
func (d *Database) RollbackCompanyAfterTransaction(ctx context.Context, t types.TransactionType, companyID string) (*types.Company, error) {
	if !t.Valid() {
		return nil, ErrInvalidTransactionType
	}
	return d.incrementCompany(ctx, companyID, types.CompanyDeltaFor(t).Inverse())
}

func (d *Database) incrementCompany(ctx context.Context, companyID string, delta types.CompanyDelta) (*types.Company, error) {
	result := d.db.WithContext(ctx).Model(&types.Company{}).
		Where("id = ?", companyID).
		Updates(map[string]interface{}{
			"number_of_buys":   gorm.Expr("number_of_buys + ?", delta.NumberOfBuys),
			"number_of_sells":  gorm.Expr("number_of_sells + ?", delta.NumberOfSells),
			"number_of_trades": gorm.Expr("number_of_trades + ?", delta.NumberOfTrades),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return d.GetCompany(ctx, companyID)
}
