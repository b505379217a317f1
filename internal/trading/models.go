package trading

import (
	"encoding/json"
	"time"

	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
)

type SagaStatus string

const (
	SagaPending     SagaStatus = "PENDING"
	SagaCommitted   SagaStatus = "COMMITTED"
	SagaCompensated SagaStatus = "COMPENSATED"
	SagaFailed      SagaStatus = "FAILED" // compensation needs manual review
)

type StepKind string

const (
	StepRecordTransaction StepKind = "record_transaction"
	StepCreateLot         StepKind = "create_lot"
	StepConsumeLots       StepKind = "consume_lots"
	StepUpsertProfit      StepKind = "upsert_profit"
	StepApplyUser         StepKind = "apply_user"
	StepApplyCompany      StepKind = "apply_company"
)

type StepStatus string

const (
	StepPending      StepStatus = "pending"
	StepApplied      StepStatus = "applied"
	StepCompensating StepStatus = "compensating"
	StepCompensated  StepStatus = "compensated"
	StepRejected     StepStatus = "rejected" // the store refused the write, nothing to undo
)

// LotReduction records a partially consumed lot as it was before the sale.
type LotReduction struct {
	Lot         types.StockLot `json:"lot"`
	NewQuantity int64          `json:"new_quantity"`
}

// SagaStep is one write of a trade together with what is needed to undo it.
// BeforeVersion and UndoVersion are the record versions seen before the
// forward write and before the undo, used to tell whether an unrecorded
// write took effect.
type SagaStep struct {
	Kind          StepKind         `json:"kind"`
	Status        StepStatus       `json:"status"`
	TransactionID string           `json:"transaction_id,omitempty"`
	LotID         string           `json:"lot_id,omitempty"`
	DeletedLots   []types.StockLot `json:"deleted_lots,omitempty"`
	ReducedLot    *LotReduction    `json:"reduced_lot,omitempty"`
	ProfitID      string           `json:"profit_id,omitempty"`
	ProfitCreated bool             `json:"profit_created,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	Profit        decimal.Decimal  `json:"profit"`
	Invested      decimal.Decimal  `json:"invested"`
	BeforeVersion int64            `json:"before_version,omitempty"`
	UndoVersion   int64            `json:"undo_version,omitempty"`
}

// TradeSaga is the persisted intent and compensation log of one trade attempt.
type TradeSaga struct {
	ID             string                `gorm:"primaryKey" json:"id"`
	CorrelationID  string                `gorm:"index" json:"correlation_id"`
	IdempotencyKey string                `gorm:"index" json:"idempotency_key,omitempty"`
	Type           types.TransactionType `json:"type"`
	UserID         string                `gorm:"index" json:"user_id"`
	CompanyID      string                `json:"company_id"`
	Quantity       int64                 `json:"quantity"`
	Price          decimal.Decimal       `gorm:"type:text;not null" json:"price"`
	Status         SagaStatus            `gorm:"index" json:"status"`
	StepLog        string                `gorm:"type:text" json:"-"` // JSON array of SagaStep
	Error          string                `json:"error,omitempty"`
	Attempt        int                   `json:"attempt"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func (s *TradeSaga) Steps() ([]SagaStep, error) {
	if s.StepLog == "" {
		return nil, nil
	}
	var steps []SagaStep
	if err := json.Unmarshal([]byte(s.StepLog), &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *TradeSaga) SetSteps(steps []SagaStep) error {
	data, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	s.StepLog = string(data)
	return nil
}

// BuyOrder asks to buy Quantity shares at Price each.
type BuyOrder struct {
	UserID         string
	CompanyID      string
	Quantity       int64
	Price          decimal.Decimal
	IdempotencyKey string
}

// SellOrder asks to sell Quantity shares at the prevailing valuation.
type SellOrder struct {
	UserID         string
	CompanyID      string
	Quantity       int64
	IdempotencyKey string
}
