package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLedgerTestDB(t *testing.T) (*Database, func()) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.AutoMigrate(
		&types.User{},
		&types.Company{},
		&types.StockLot{},
		&types.Transaction{},
		&types.UserProfit{},
		&types.Withdrawal{},
	); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewDatabase(db), func() { sqlDB.Close() }
}

func createTestUser(t *testing.T, d *Database, id string, wallet int64) *types.User {
	user := &types.User{
		ID:            id,
		Username:      id,
		WalletBalance: decimal.NewFromInt(wallet),
	}
	if err := d.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

func TestUpdateUserAfterTransaction_Buy(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createTestUser(t, d, "user-1", 100)

	updated, err := d.UpdateUserAfterTransaction(ctx, types.TransactionBuy, decimal.NewFromInt(30), "user-1", decimal.Zero, 1)
	if err != nil {
		t.Fatalf("UpdateUserAfterTransaction failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Expected version 2, got %d", updated.Version)
	}

	stored, err := d.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !stored.WalletBalance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("Expected wallet 70, got %s", stored.WalletBalance)
	}
	if !stored.StockBalance.Equal(decimal.NewFromInt(30)) || !stored.TotalInvestedAmount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Unexpected stock balance %s or invested %s", stored.StockBalance, stored.TotalInvestedAmount)
	}
	if stored.NumberOfAssets != 1 || stored.NumberOfTrades != 1 {
		t.Errorf("Unexpected counters assets=%d trades=%d", stored.NumberOfAssets, stored.NumberOfTrades)
	}
}

func TestUpdateUserAfterTransaction_StaleVersion(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createTestUser(t, d, "user-1", 100)
	if _, err := d.UpdateUserAfterTransaction(ctx, types.TransactionBuy, decimal.NewFromInt(10), "user-1", decimal.Zero, 1); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	_, err := d.UpdateUserAfterTransaction(ctx, types.TransactionBuy, decimal.NewFromInt(10), "user-1", decimal.Zero, 1)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}

	stored, _ := d.GetUser(ctx, "user-1")
	if !stored.WalletBalance.Equal(decimal.NewFromInt(90)) {
		t.Errorf("Expected wallet 90 after rejected update, got %s", stored.WalletBalance)
	}
}

func TestUpdateUserAfterTransaction_RechecksWallet(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createTestUser(t, d, "user-1", 20)

	_, err := d.UpdateUserAfterTransaction(ctx, types.TransactionBuy, decimal.NewFromInt(21), "user-1", decimal.Zero, 1)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}
}

func TestUpdateUserAfterTransaction_Errors(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := d.UpdateUserAfterTransaction(ctx, types.TransactionBuy, decimal.NewFromInt(1), "missing", decimal.Zero, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	createTestUser(t, d, "user-1", 20)
	if _, err := d.UpdateUserAfterTransaction(ctx, types.TransactionType("Hold"), decimal.NewFromInt(1), "user-1", decimal.Zero, 1); !errors.Is(err, ErrInvalidTransactionType) {
		t.Errorf("Expected ErrInvalidTransactionType, got %v", err)
	}
}

func TestRollbackUserAfterTransaction_Sell(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createTestUser(t, d, "user-1", 50)
	amount, profit := decimal.NewFromInt(68), decimal.NewFromInt(6)

	if _, err := d.UpdateUserAfterTransaction(ctx, types.TransactionSell, amount, "user-1", profit, 1); err != nil {
		t.Fatalf("UpdateUserAfterTransaction failed: %v", err)
	}
	rolled, err := d.RollbackUserAfterTransaction(ctx, types.TransactionSell, amount, "user-1", profit)
	if err != nil {
		t.Fatalf("RollbackUserAfterTransaction failed: %v", err)
	}

	if !rolled.WalletBalance.Equal(decimal.NewFromInt(50)) || !rolled.TotalProfit.IsZero() {
		t.Errorf("Expected wallet 50 and no profit, got %s and %s", rolled.WalletBalance, rolled.TotalProfit)
	}
	if rolled.NumberOfTrades != 0 || rolled.NumberOfAssets != 0 {
		t.Errorf("Expected counters restored, got assets=%d trades=%d", rolled.NumberOfAssets, rolled.NumberOfTrades)
	}
	if rolled.Version != 3 {
		t.Errorf("Expected version 3 after update and rollback, got %d", rolled.Version)
	}
}

func TestCompanyCounters(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	company := &types.Company{ID: "company-x", Acronym: "CX", CurrentPrice: decimal.NewFromInt(10), TempPrice: decimal.NewFromInt(10)}
	if err := d.CreateCompany(ctx, company); err != nil {
		t.Fatalf("CreateCompany failed: %v", err)
	}

	if _, err := d.UpdateCompanyAfterTransaction(ctx, types.TransactionBuy, "company-x"); err != nil {
		t.Fatalf("Buy update failed: %v", err)
	}
	if _, err := d.UpdateCompanyAfterTransaction(ctx, types.TransactionSell, "company-x"); err != nil {
		t.Fatalf("Sell update failed: %v", err)
	}
	updated, err := d.RollbackCompanyAfterTransaction(ctx, types.TransactionSell, "company-x")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if updated.NumberOfBuys != 1 || updated.NumberOfSells != 0 || updated.NumberOfTrades != 1 {
		t.Errorf("Unexpected counters buys=%d sells=%d trades=%d", updated.NumberOfBuys, updated.NumberOfSells, updated.NumberOfTrades)
	}
	if updated.Version != 4 {
		t.Errorf("Expected version 4, got %d", updated.Version)
	}

	if _, err := d.UpdateCompanyAfterTransaction(ctx, types.TransactionBuy, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing company, got %v", err)
	}
}

func TestLots_ConsumeAndReduceAreVersionGuarded(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	lot := &types.StockLot{UserID: "user-1", CompanyID: "company-x", Quantity: 5, BuyPrice: decimal.NewFromInt(10)}
	if err := d.CreateLot(ctx, lot); err != nil {
		t.Fatalf("CreateLot failed: %v", err)
	}

	if err := d.ReduceLot(ctx, lot.ID, 1, 3); err != nil {
		t.Fatalf("ReduceLot failed: %v", err)
	}
	if err := d.ReduceLot(ctx, lot.ID, 1, 1); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification on stale reduce, got %v", err)
	}
	if err := d.ConsumeLot(ctx, lot.ID, 1); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification on stale consume, got %v", err)
	}
	if err := d.ConsumeLot(ctx, lot.ID, 2); err != nil {
		t.Fatalf("ConsumeLot failed: %v", err)
	}
	if err := d.ConsumeLot(ctx, lot.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on consumed lot, got %v", err)
	}
}

func TestRestoreLots_Idempotent(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	created := time.Now().Add(-time.Hour).UTC()
	lot := types.StockLot{ID: NewLotID(), UserID: "user-1", CompanyID: "company-x", Quantity: 4, BuyPrice: decimal.NewFromInt(7), Version: 1, CreatedAt: created}
	if err := d.CreateLot(ctx, &lot); err != nil {
		t.Fatalf("CreateLot failed: %v", err)
	}
	if err := d.ConsumeLot(ctx, lot.ID, 1); err != nil {
		t.Fatalf("ConsumeLot failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := d.RestoreLots(ctx, []types.StockLot{lot}); err != nil {
			t.Fatalf("RestoreLots pass %d failed: %v", i+1, err)
		}
	}

	held, err := d.ListLots(ctx, "user-1", "company-x")
	if err != nil {
		t.Fatalf("ListLots failed: %v", err)
	}
	if len(held) != 1 || held[0].ID != lot.ID || held[0].Quantity != 4 {
		t.Fatalf("Expected the original lot restored once, got %+v", held)
	}
	if !held[0].CreatedAt.Equal(created) {
		t.Errorf("Expected creation time %v preserved, got %v", created, held[0].CreatedAt)
	}
}

func TestListLots_OldestFirst(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, offset := range []int{2, 0, 1} {
		lot := &types.StockLot{
			ID:        fmt.Sprintf("lot-%d", i),
			UserID:    "user-1",
			CompanyID: "company-x",
			Quantity:  1,
			BuyPrice:  decimal.NewFromInt(1),
			CreatedAt: base.Add(time.Duration(offset) * time.Hour),
		}
		if err := d.CreateLot(ctx, lot); err != nil {
			t.Fatalf("CreateLot failed: %v", err)
		}
	}

	held, err := d.ListLots(ctx, "user-1", "company-x")
	if err != nil {
		t.Fatalf("ListLots failed: %v", err)
	}
	want := []string{"lot-1", "lot-2", "lot-0"}
	for i, id := range want {
		if held[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, held[i].ID)
		}
	}
}

func TestAddUserProfit(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	created, err := d.AddUserProfit(ctx, "profit-1", "user-1", "company-x", decimal.NewFromInt(6), decimal.NewFromInt(62), 0)
	if err != nil {
		t.Fatalf("AddUserProfit create failed: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("Expected version 1, got %d", created.Version)
	}

	if _, err := d.AddUserProfit(ctx, "profit-2", "user-1", "company-x", decimal.NewFromInt(1), decimal.NewFromInt(1), 0); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification on duplicate create, got %v", err)
	}

	updated, err := d.AddUserProfit(ctx, "profit-1", "user-1", "company-x", decimal.NewFromInt(4), decimal.NewFromInt(38), 1)
	if err != nil {
		t.Fatalf("AddUserProfit update failed: %v", err)
	}
	if !updated.Profit.Equal(decimal.NewFromInt(10)) || !updated.InvestedAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected aggregate profit=%s invested=%s", updated.Profit, updated.InvestedAmount)
	}
	if !updated.ROI.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected ROI 10, got %s", updated.ROI)
	}

	if _, err := d.AddUserProfit(ctx, "profit-1", "user-1", "company-x", decimal.NewFromInt(1), decimal.NewFromInt(1), 1); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification on stale update, got %v", err)
	}

	if err := d.ReverseUserProfit(ctx, "profit-1", decimal.NewFromInt(4), decimal.NewFromInt(38)); err != nil {
		t.Fatalf("ReverseUserProfit failed: %v", err)
	}
	reversed, err := d.GetUserProfit(ctx, "user-1", "company-x")
	if err != nil {
		t.Fatalf("GetUserProfit failed: %v", err)
	}
	if !reversed.Profit.Equal(decimal.NewFromInt(6)) || !reversed.InvestedAmount.Equal(decimal.NewFromInt(62)) {
		t.Errorf("Unexpected reversed aggregate profit=%s invested=%s", reversed.Profit, reversed.InvestedAmount)
	}

	if err := d.DeleteUserProfit(ctx, "profit-1"); err != nil {
		t.Fatalf("DeleteUserProfit failed: %v", err)
	}
	if gone, _ := d.GetUserProfit(ctx, "user-1", "company-x"); gone != nil {
		t.Error("Expected profit aggregate deleted")
	}
}

func TestListTransactions(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		txType := types.TransactionBuy
		if i%3 == 0 {
			txType = types.TransactionSell
		}
		tx := &types.Transaction{
			ID:        fmt.Sprintf("tx-%02d", i),
			UserID:    "user-1",
			CompanyID: "company-x",
			Type:      txType,
			Date:      base.Add(time.Duration(i) * time.Minute),
			Quantity:  1,
			Price:     decimal.NewFromInt(10),
		}
		if err := d.AddTransaction(ctx, tx); err != nil {
			t.Fatalf("AddTransaction failed: %v", err)
		}
	}

	page, err := d.ListTransactions(ctx, TransactionFilter{Page: 1})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if page.TotalRecords != 15 || page.TotalPages != 2 || len(page.Transactions) != TransactionPageSize {
		t.Errorf("Unexpected first page total=%d pages=%d len=%d", page.TotalRecords, page.TotalPages, len(page.Transactions))
	}
	if page.Transactions[0].ID != "tx-14" {
		t.Errorf("Expected newest first, got %s", page.Transactions[0].ID)
	}

	second, err := d.ListTransactions(ctx, TransactionFilter{Page: 2, Order: "asc"})
	if err != nil {
		t.Fatalf("ListTransactions page 2 failed: %v", err)
	}
	if len(second.Transactions) != 5 || second.Transactions[0].ID != "tx-10" {
		t.Errorf("Unexpected second ascending page: len=%d", len(second.Transactions))
	}

	sells, err := d.ListTransactions(ctx, TransactionFilter{Type: types.TransactionSell})
	if err != nil {
		t.Fatalf("ListTransactions by type failed: %v", err)
	}
	if sells.TotalRecords != 5 {
		t.Errorf("Expected 5 sells, got %d", sells.TotalRecords)
	}

	if _, err := d.ListTransactions(ctx, TransactionFilter{Type: "Hold"}); !errors.Is(err, ErrInvalidTransactionType) {
		t.Errorf("Expected ErrInvalidTransactionType, got %v", err)
	}
	if err := d.AddTransaction(ctx, &types.Transaction{Type: "Hold"}); !errors.Is(err, ErrInvalidTransactionType) {
		t.Errorf("Expected AddTransaction to reject invalid type, got %v", err)
	}
}

func TestListCompanies_MaxPrice(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// "9.5" sorts after "10" as text, so the bound must compare numerically
	for _, c := range []struct{ acronym, price string }{{"BBB", "10"}, {"AAA", "9.5"}, {"CCC", "100"}} {
		company := &types.Company{Acronym: c.acronym, CurrentPrice: decimal.RequireFromString(c.price), TempPrice: decimal.RequireFromString(c.price)}
		if err := d.CreateCompany(ctx, company); err != nil {
			t.Fatalf("CreateCompany failed: %v", err)
		}
	}

	all, err := d.ListCompanies(ctx, CompanyFilter{})
	if err != nil {
		t.Fatalf("ListCompanies failed: %v", err)
	}
	if len(all) != 3 || all[0].Acronym != "AAA" || all[2].Acronym != "CCC" {
		t.Errorf("Expected all companies by acronym, got %+v", all)
	}

	limit := decimal.NewFromInt(10)
	affordable, err := d.ListCompanies(ctx, CompanyFilter{MaxPrice: &limit})
	if err != nil {
		t.Fatalf("ListCompanies with max price failed: %v", err)
	}
	if len(affordable) != 2 || affordable[0].Acronym != "AAA" || affordable[1].Acronym != "BBB" {
		t.Errorf("Expected AAA and BBB at or under 10, got %+v", affordable)
	}
}

func TestWithdraw(t *testing.T) {
	d, cleanup := setupLedgerTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createTestUser(t, d, "user-1", 100)

	user, withdrawal, err := d.Withdraw(ctx, "user-1", decimal.NewFromInt(30), 1)
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if !user.WalletBalance.Equal(decimal.NewFromInt(70)) || user.Version != 2 {
		t.Errorf("Expected wallet 70 at version 2, got %s at %d", user.WalletBalance, user.Version)
	}
	if !withdrawal.OpeningBalance.Equal(decimal.NewFromInt(100)) || !withdrawal.ClosingBalance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("Unexpected audit balances %s -> %s", withdrawal.OpeningBalance, withdrawal.ClosingBalance)
	}

	if _, _, err := d.Withdraw(ctx, "user-1", decimal.NewFromInt(10), 1); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification on stale version, got %v", err)
	}
	if _, _, err := d.Withdraw(ctx, "user-1", decimal.NewFromInt(71), 2); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	if _, _, err := d.Withdraw(ctx, "user-1", decimal.Zero, 2); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := d.Withdraw(ctx, "missing", decimal.NewFromInt(1), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	stored, _ := d.GetUser(ctx, "user-1")
	if !stored.WalletBalance.Equal(decimal.NewFromInt(70)) || stored.Version != 2 {
		t.Errorf("Expected rejected withdrawals to change nothing, got %s at %d", stored.WalletBalance, stored.Version)
	}

	history, err := d.ListWithdrawals(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListWithdrawals failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != withdrawal.ID || !history[0].Amount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected one audit row for the accepted withdrawal, got %+v", history)
	}
}
