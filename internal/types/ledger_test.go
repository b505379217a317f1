package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeROI(t *testing.T) {
	tests := []struct {
		profit, invested, want string
	}{
		{"6", "62", "9.6774"},
		{"-5", "50", "-10"},
		{"10", "0", "0"},
	}
	for _, tt := range tests {
		got := ComputeROI(decimal.RequireFromString(tt.profit), decimal.RequireFromString(tt.invested))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ComputeROI(%s, %s) = %s, want %s", tt.profit, tt.invested, got, tt.want)
		}
	}
}

func TestUserDelta_InverseRestoresUser(t *testing.T) {
	user := User{
		WalletBalance:       decimal.NewFromInt(100),
		StockBalance:        decimal.NewFromInt(40),
		TotalProfit:         decimal.NewFromInt(3),
		TotalInvestedAmount: decimal.NewFromInt(40),
		NumberOfAssets:      2,
		NumberOfTrades:      5,
	}
	before := user

	for _, tt := range []TransactionType{TransactionBuy, TransactionSell} {
		delta := UserDeltaFor(tt, decimal.NewFromInt(25), decimal.NewFromInt(4))
		delta.Apply(&user)
		delta.Inverse().Apply(&user)

		if !user.WalletBalance.Equal(before.WalletBalance) ||
			!user.StockBalance.Equal(before.StockBalance) ||
			!user.TotalProfit.Equal(before.TotalProfit) ||
			!user.TotalInvestedAmount.Equal(before.TotalInvestedAmount) ||
			user.NumberOfAssets != before.NumberOfAssets ||
			user.NumberOfTrades != before.NumberOfTrades {
			t.Errorf("%s delta and inverse did not cancel: %+v", tt, user)
		}
	}
}

func TestUserDeltaFor_Sell(t *testing.T) {
	delta := UserDeltaFor(TransactionSell, decimal.NewFromInt(68), decimal.NewFromInt(6))
	if !delta.WalletBalance.Equal(decimal.NewFromInt(68)) || !delta.StockBalance.Equal(decimal.NewFromInt(-68)) {
		t.Errorf("Unexpected balances %+v", delta)
	}
	if !delta.TotalProfit.Equal(decimal.NewFromInt(6)) || !delta.TotalInvestedAmount.IsZero() {
		t.Errorf("Unexpected profit fields %+v", delta)
	}
	if delta.NumberOfAssets != -1 || delta.NumberOfTrades != 1 {
		t.Errorf("Unexpected counters %+v", delta)
	}
}

func TestCompanyDeltaFor(t *testing.T) {
	buy := CompanyDeltaFor(TransactionBuy)
	if buy.NumberOfBuys != 1 || buy.NumberOfSells != 0 || buy.NumberOfTrades != 1 {
		t.Errorf("Unexpected buy counters %+v", buy)
	}

	undo := CompanyDeltaFor(TransactionSell).Inverse()
	if undo.NumberOfBuys != 0 || undo.NumberOfSells != -1 || undo.NumberOfTrades != -1 {
		t.Errorf("Unexpected sell inverse %+v", undo)
	}
}
