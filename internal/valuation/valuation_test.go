package valuation

import (
	"testing"
	"time"

	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
)

func TestUnitPrice(t *testing.T) {
	policy := NewPolicy(time.UTC)
	soldAt := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	quote := Quote{Settled: decimal.NewFromInt(100), Provisional: decimal.NewFromInt(105)}

	tests := []struct {
		name      string
		createdAt time.Time
		want      decimal.Decimal
	}{
		{"opened earlier today", soldAt.Add(-2 * time.Hour), quote.Provisional},
		{"opened at midnight", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), quote.Provisional},
		{"opened yesterday", soldAt.Add(-24 * time.Hour), quote.Settled},
		{"opened just before midnight", time.Date(2024, 3, 14, 23, 59, 59, 0, time.UTC), quote.Settled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.UnitPrice(types.StockLot{CreatedAt: tt.createdAt}, quote, soldAt)
			if !got.Equal(tt.want) {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSameDay_UsesReferenceLocation(t *testing.T) {
	cairo := time.FixedZone("EET", 2*60*60)
	lotTime := time.Date(2024, 3, 14, 23, 0, 0, 0, time.UTC) // 01:00 on the 15th in EET
	saleTime := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

	if NewPolicy(time.UTC).SameDay(lotTime, saleTime) {
		t.Error("Expected different days in UTC")
	}
	if !NewPolicy(cairo).SameDay(lotTime, saleTime) {
		t.Error("Expected the same day in EET")
	}
}

func TestValue(t *testing.T) {
	policy := NewPolicy(time.UTC)
	soldAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	quote := Quote{Settled: decimal.RequireFromString("10.25"), Provisional: decimal.RequireFromString("11.5")}

	old := types.StockLot{CreatedAt: soldAt.AddDate(0, 0, -3)}
	if got := policy.Value(old, 4, quote, soldAt); !got.Equal(decimal.NewFromInt(41)) {
		t.Errorf("Expected 41, got %s", got)
	}
}

func TestQuoteFor(t *testing.T) {
	company := &types.Company{
		ID:           "c1",
		CurrentPrice: decimal.NewFromInt(50),
		TempPrice:    decimal.NewFromInt(52),
	}
	quote := QuoteFor(company)
	if !quote.Settled.Equal(company.CurrentPrice) || !quote.Provisional.Equal(company.TempPrice) {
		t.Errorf("Quote prices do not match company: %+v", quote)
	}
	if quote.CompanyID != "c1" {
		t.Errorf("Quote identity does not match company: %+v", quote)
	}
}
