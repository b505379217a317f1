// Package lots matches sell orders against a holder's buy lots, oldest first.
package lots

import (
	"errors"
	"sort"
	"time"

	"github.com/ksred/stock-ledger/internal/types"
	"github.com/ksred/stock-ledger/internal/valuation"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
)

// Reduction is a lot left partially consumed by a sale.
type Reduction struct {
	Lot         types.StockLot `json:"lot"`
	Consumed    int64          `json:"consumed"`
	NewQuantity int64          `json:"new_quantity"`
}

// Plan is the outcome of matching a sale. It describes writes; nothing has
// been mutated.
type Plan struct {
	Quantity  int64            `json:"quantity"`
	Revenue   decimal.Decimal  `json:"revenue"`
	CostBasis decimal.Decimal  `json:"cost_basis"`
	Profit    decimal.Decimal  `json:"profit"`
	Delete    []types.StockLot `json:"delete"`
	Reduce    *Reduction       `json:"reduce,omitempty"`
}

// Engine computes FIFO sale plans.
type Engine struct {
	policy valuation.Policy
}

func NewEngine(policy valuation.Policy) *Engine {
	return &Engine{policy: policy}
}

// Sort orders lots by creation time, breaking ties by id.
func Sort(lots []types.StockLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].CreatedAt.Equal(lots[j].CreatedAt) {
			return lots[i].CreatedAt.Before(lots[j].CreatedAt)
		}
		return lots[i].ID < lots[j].ID
	})
}

// Held sums the quantity across lots.
func Held(lots []types.StockLot) int64 {
	var total int64
	for _, lot := range lots {
		total += lot.Quantity
	}
	return total
}

// Consume plans the sale of quantity shares from lots at soldAt. The input
// slice is not modified.
func (e *Engine) Consume(held []types.StockLot, quantity int64, quote valuation.Quote, soldAt time.Time) (*Plan, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	ordered := make([]types.StockLot, 0, len(held))
	for _, lot := range held {
		if lot.Quantity > 0 {
			ordered = append(ordered, lot)
		}
	}
	Sort(ordered)
	if Held(ordered) < quantity {
		return nil, ErrInsufficientShares
	}

	plan := &Plan{
		Quantity:  quantity,
		Revenue:   decimal.Zero,
		CostBasis: decimal.Zero,
	}

	var consumed int64
	for _, lot := range ordered {
		if consumed == quantity {
			break
		}

		take := lot.Quantity
		if consumed+take > quantity {
			take = quantity - consumed
		}

		plan.CostBasis = plan.CostBasis.Add(lot.BuyPrice.Mul(decimal.NewFromInt(take)))
		plan.Revenue = plan.Revenue.Add(e.policy.Value(lot, take, quote, soldAt))
		consumed += take

		if take == lot.Quantity {
			plan.Delete = append(plan.Delete, lot)
			continue
		}
		plan.Reduce = &Reduction{
			Lot:         lot,
			Consumed:    take,
			NewQuantity: lot.Quantity - take,
		}
	}

	plan.Profit = plan.Revenue.Sub(plan.CostBasis)
	return plan, nil
}
