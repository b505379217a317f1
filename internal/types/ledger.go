package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionBuy  TransactionType = "Buy"
	TransactionSell TransactionType = "Sell"
)

// Valid reports whether t is one of the two trade directions
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// User holds a trader's cash and the cached aggregates derived from their lots.
// StockBalance and TotalProfit are caches: lots and UserProfit records are the
// source of truth and the scheduled jobs re-derive them.
type User struct {
	ID                  string          `gorm:"primaryKey" json:"id"`
	FirstName           string          `json:"first_name"`
	LastName            string          `json:"last_name"`
	Username            string          `gorm:"uniqueIndex" json:"username"`
	WalletBalance       decimal.Decimal `gorm:"type:text;not null" json:"wallet_balance"`
	StockBalance        decimal.Decimal `gorm:"type:text;not null" json:"stock_balance"`
	PreviousBalance     decimal.Decimal `gorm:"type:text;not null" json:"previous_balance"`
	TotalProfit         decimal.Decimal `gorm:"type:text;not null" json:"total_profit"`
	NumberOfAssets      int64           `gorm:"not null;default:0" json:"number_of_assets"`
	TotalInvestedAmount decimal.Decimal `gorm:"type:text;not null" json:"total_invested_amount"`
	NumberOfTrades      int64           `gorm:"not null;default:0" json:"number_of_trades"`
	Version             int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Company is a tradable instrument. Prices are owned by the visitor-ingestion
// job; trades only touch the counters.
type Company struct {
	ID              string          `gorm:"primaryKey" json:"id"`
	Name            string          `json:"name"`
	Acronym         string          `gorm:"uniqueIndex" json:"acronym"`
	Description     string          `json:"description"`
	CurrentPrice    decimal.Decimal `gorm:"type:text;not null" json:"current_price"`
	TempPrice       decimal.Decimal `gorm:"type:text;not null" json:"temp_price"`
	CurrentChange   decimal.Decimal `gorm:"type:text;not null" json:"current_change"`
	CurrentVisitors int64           `gorm:"not null;default:0" json:"current_visitors"`
	NumberOfBuys    int64           `gorm:"not null;default:0" json:"number_of_buys"`
	NumberOfSells   int64           `gorm:"not null;default:0" json:"number_of_sells"`
	NumberOfTrades  int64           `gorm:"not null;default:0" json:"number_of_trades"`
	CurrentReturn   decimal.Decimal `gorm:"type:text;not null" json:"current_return"`
	Version         int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StockLot is the remaining quantity of a single buy. IDs are UUIDv7 so that
// (created_at, id) orders lots by creation.
type StockLot struct {
	ID        string          `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"index:idx_stock_lots_holding,priority:1;not null" json:"user_id"`
	CompanyID string          `gorm:"index:idx_stock_lots_holding,priority:2;not null" json:"company_id"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	BuyPrice  decimal.Decimal `gorm:"type:text;not null" json:"buy_price"`
	Version   int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is the audit record of a completed trade. Price is the unit
// buy price for buys and the total proceeds for sells.
type Transaction struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	UserID         string          `gorm:"index;not null" json:"user_id"`
	CompanyID      string          `gorm:"index;not null" json:"company_id"`
	Type           TransactionType `gorm:"index;not null" json:"type"`
	Date           time.Time       `gorm:"index" json:"date"`
	OpeningBalance decimal.Decimal `gorm:"type:text;not null" json:"opening_balance"`
	ClosingBalance decimal.Decimal `gorm:"type:text;not null" json:"closing_balance"`
	Quantity       int64           `gorm:"not null" json:"quantity"`
	Price          decimal.Decimal `gorm:"type:text;not null" json:"price"`
	Profit         decimal.Decimal `gorm:"type:text;not null" json:"profit"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Withdrawal is the audit record of cash taken out of a wallet.
type Withdrawal struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	UserID         string          `gorm:"index;not null" json:"user_id"`
	Date           time.Time       `gorm:"index" json:"date"`
	OpeningBalance decimal.Decimal `gorm:"type:text;not null" json:"opening_balance"`
	ClosingBalance decimal.Decimal `gorm:"type:text;not null" json:"closing_balance"`
	Amount         decimal.Decimal `gorm:"type:text;not null" json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// UserProfit aggregates realized gains per (user, company).
type UserProfit struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	UserID         string          `gorm:"uniqueIndex:idx_user_profits_pair;not null" json:"user_id"`
	CompanyID      string          `gorm:"uniqueIndex:idx_user_profits_pair;not null" json:"company_id"`
	Profit         decimal.Decimal `gorm:"type:text;not null" json:"profit"`
	InvestedAmount decimal.Decimal `gorm:"type:text;not null" json:"invested_amount"`
	ROI            decimal.Decimal `gorm:"type:text;not null" json:"roi"`
	Version        int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ComputeROI returns profit as a percentage of invested amount, zero when
// nothing has been invested.
func ComputeROI(profit, invested decimal.Decimal) decimal.Decimal {
	if invested.IsZero() {
		return decimal.Zero
	}
	return profit.Div(invested).Mul(decimal.NewFromInt(100)).Round(4)
}

// UserDelta is a relative change to a user's balances and counters.
type UserDelta struct {
	WalletBalance       decimal.Decimal `json:"wallet_balance"`
	StockBalance        decimal.Decimal `json:"stock_balance"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
	TotalInvestedAmount decimal.Decimal `json:"total_invested_amount"`
	NumberOfAssets      int64           `json:"number_of_assets"`
	NumberOfTrades      int64           `json:"number_of_trades"`
}

// UserDeltaFor returns the change a completed trade makes to its user.
func UserDeltaFor(t TransactionType, amount, profit decimal.Decimal) UserDelta {
	switch t {
	case TransactionBuy:
		return UserDelta{
			WalletBalance:       amount.Neg(),
			StockBalance:        amount,
			TotalInvestedAmount: amount,
			NumberOfAssets:      1,
			NumberOfTrades:      1,
		}
	default:
		return UserDelta{
			WalletBalance:  amount,
			StockBalance:   amount.Neg(),
			TotalProfit:    profit,
			NumberOfAssets: -1,
			NumberOfTrades: 1,
		}
	}
}

// Inverse undoes d.
func (d UserDelta) Inverse() UserDelta {
	return UserDelta{
		WalletBalance:       d.WalletBalance.Neg(),
		StockBalance:        d.StockBalance.Neg(),
		TotalProfit:         d.TotalProfit.Neg(),
		TotalInvestedAmount: d.TotalInvestedAmount.Neg(),
		NumberOfAssets:      -d.NumberOfAssets,
		NumberOfTrades:      -d.NumberOfTrades,
	}
}

// Apply adds d to u in place.
func (d UserDelta) Apply(u *User) {
	u.WalletBalance = u.WalletBalance.Add(d.WalletBalance)
	u.StockBalance = u.StockBalance.Add(d.StockBalance)
	u.TotalProfit = u.TotalProfit.Add(d.TotalProfit)
	u.TotalInvestedAmount = u.TotalInvestedAmount.Add(d.TotalInvestedAmount)
	u.NumberOfAssets += d.NumberOfAssets
	u.NumberOfTrades += d.NumberOfTrades
}

// CompanyDelta is a relative change to a company's trade counters.
type CompanyDelta struct {
	NumberOfBuys   int64 `json:"number_of_buys"`
	NumberOfSells  int64 `json:"number_of_sells"`
	NumberOfTrades int64 `json:"number_of_trades"`
}

func CompanyDeltaFor(t TransactionType) CompanyDelta {
	if t == TransactionBuy {
		return CompanyDelta{NumberOfBuys: 1, NumberOfTrades: 1}
	}
	return CompanyDelta{NumberOfSells: 1, NumberOfTrades: 1}
}

func (d CompanyDelta) Inverse() CompanyDelta {
	return CompanyDelta{
		NumberOfBuys:   -d.NumberOfBuys,
		NumberOfSells:  -d.NumberOfSells,
		NumberOfTrades: -d.NumberOfTrades,
	}
}
