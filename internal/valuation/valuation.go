package valuation

import (
	"time"

	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Quote is a company's price record as read at one moment. Settled is the
// last fully processed price; Provisional is the intraday estimate that
// applies to positions opened before the next settlement.
type Quote struct {
	CompanyID   string          `json:"company_id"`
	Settled     decimal.Decimal `json:"settled"`
	Provisional decimal.Decimal `json:"provisional"`
}

// QuoteFor snapshots a company's prices.
func QuoteFor(company *types.Company) Quote {
	return Quote{
		CompanyID:   company.ID,
		Settled:     company.CurrentPrice,
		Provisional: company.TempPrice,
	}
}

// Policy picks the unit price a lot is liquidated at.
type Policy struct {
	loc *time.Location
}

// NewPolicy returns a policy whose day boundary is midnight in loc.
// A nil loc means time.Local.
func NewPolicy(loc *time.Location) Policy {
	if loc == nil {
		loc = time.Local
	}
	return Policy{loc: loc}
}

// Location returns the reference time zone for day boundaries.
func (p Policy) Location() *time.Location {
	if p.loc == nil {
		return time.Local
	}
	return p.loc
}

// SameDay reports whether a and b fall on the same calendar day.
func (p Policy) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(p.Location()).Date()
	by, bm, bd := b.In(p.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// UnitPrice returns the provisional price for lots opened on the day of the
// sale and the settled price for anything older.
func (p Policy) UnitPrice(lot types.StockLot, quote Quote, soldAt time.Time) decimal.Decimal {
	if p.SameDay(lot.CreatedAt, soldAt) {
		return quote.Provisional
	}
	return quote.Settled
}

// Value prices quantity units of lot.
func (p Policy) Value(lot types.StockLot, quantity int64, quote Quote, soldAt time.Time) decimal.Decimal {
	return p.UnitPrice(lot, quote, soldAt).Mul(decimal.NewFromInt(quantity))
}
