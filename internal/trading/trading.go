package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/internal/ledger"
	"github.com/ksred/stock-ledger/internal/lots"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/ksred/stock-ledger/internal/valuation"
	"github.com/ksred/stock-ledger/pkg/correlation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger is the store the coordinator composes trades from. Each call is
// individually atomic; nothing spans calls.
type Ledger interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetCompany(ctx context.Context, companyID string) (*types.Company, error)
	ListCompanies(ctx context.Context, filter ledger.CompanyFilter) ([]types.Company, error)
	ListLots(ctx context.Context, userID, companyID string) ([]types.StockLot, error)
	ListUserLots(ctx context.Context, userID string) ([]types.StockLot, error)
	GetUserProfit(ctx context.Context, userID, companyID string) (*types.UserProfit, error)
	ListUserProfits(ctx context.Context, userID string) ([]types.UserProfit, error)
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) (*types.TransactionPage, error)
	ListWithdrawals(ctx context.Context, userID string) ([]types.Withdrawal, error)

	AddTransaction(ctx context.Context, tx *types.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	CreateLot(ctx context.Context, lot *types.StockLot) error
	DeleteLots(ctx context.Context, lotIDs ...string) error
	ConsumeLot(ctx context.Context, lotID string, version int64) error
	ReduceLot(ctx context.Context, lotID string, version, quantity int64) error
	SetLotQuantity(ctx context.Context, lotID string, quantity int64) error
	RestoreLots(ctx context.Context, lots []types.StockLot) error

	AddUserProfit(ctx context.Context, id, userID, companyID string, profit, invested decimal.Decimal, version int64) (*types.UserProfit, error)
	ReverseUserProfit(ctx context.Context, id string, profit, invested decimal.Decimal) error
	DeleteUserProfit(ctx context.Context, id string) error

	UpdateUserAfterTransaction(ctx context.Context, t types.TransactionType, amount decimal.Decimal, userID string, profit decimal.Decimal, version int64) (*types.User, error)
	RollbackUserAfterTransaction(ctx context.Context, t types.TransactionType, amount decimal.Decimal, userID string, profit decimal.Decimal) (*types.User, error)
	UpdateCompanyAfterTransaction(ctx context.Context, t types.TransactionType, companyID string) (*types.Company, error)
	RollbackCompanyAfterTransaction(ctx context.Context, t types.TransactionType, companyID string) (*types.Company, error)

	Withdraw(ctx context.Context, userID string, amount decimal.Decimal, version int64) (*types.User, *types.Withdrawal, error)
}

type Options struct {
	Location    *time.Location // day boundary for same-day valuation
	Timeout     time.Duration  // per trade
	MaxAttempts int            // attempts when a version check is lost
}

// Service executes buys and sells as compensable sagas over the ledger
type Service struct {
	ledger      Ledger
	sagas       *Database
	engine      *lots.Engine
	locks       *keyedMutex
	timeout     time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewService creates a trading service backed by the given database connection
func NewService(gormDB *gorm.DB, opts Options) *Service {
	return newService(ledger.NewDatabase(gormDB), NewDatabase(gormDB), opts)
}

func newService(l Ledger, sagas *Database, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Service{
		ledger:      l,
		sagas:       sagas,
		engine:      lots.NewEngine(valuation.NewPolicy(opts.Location)),
		locks:       newKeyedMutex(),
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		now:         time.Now,
	}
}

// Buy debits quantity*price from the user's wallet and opens a new lot.
// Returns the updated user.
func (s *Service) Buy(ctx context.Context, order BuyOrder) (*types.User, error) {
	if order.Quantity <= 0 || !order.Price.IsPositive() {
		return nil, ErrInvalidOrder
	}
	req := tradeRequest{
		Type:           types.TransactionBuy,
		UserID:         order.UserID,
		CompanyID:      order.CompanyID,
		Quantity:       order.Quantity,
		Price:          order.Price,
		IdempotencyKey: order.IdempotencyKey,
	}
	return s.trade(ctx, req, func(ctx context.Context, logger zerolog.Logger, correlationID string, attempt int) (*types.User, error) {
		return s.buyOnce(ctx, logger, correlationID, attempt, order)
	})
}

// Sell liquidates quantity shares from the user's lots, oldest first, and
// books the realized profit. Returns the reloaded user.
func (s *Service) Sell(ctx context.Context, order SellOrder) (*types.User, error) {
	if order.Quantity <= 0 {
		return nil, ErrInvalidOrder
	}
	req := tradeRequest{
		Type:           types.TransactionSell,
		UserID:         order.UserID,
		CompanyID:      order.CompanyID,
		Quantity:       order.Quantity,
		IdempotencyKey: order.IdempotencyKey,
	}
	return s.trade(ctx, req, func(ctx context.Context, logger zerolog.Logger, correlationID string, attempt int) (*types.User, error) {
		return s.sellOnce(ctx, logger, correlationID, attempt, order)
	})
}

type attemptFunc func(ctx context.Context, logger zerolog.Logger, correlationID string, attempt int) (*types.User, error)

// tradeRequest is what an idempotency key is bound to.
type tradeRequest struct {
	Type           types.TransactionType
	UserID         string
	CompanyID      string
	Quantity       int64
	Price          decimal.Decimal // buys only
	IdempotencyKey string
}

// matches reports whether a committed saga was produced by the same order.
func (r tradeRequest) matches(previous *TradeSaga) bool {
	if previous.Type != r.Type || previous.CompanyID != r.CompanyID || previous.Quantity != r.Quantity {
		return false
	}
	return r.Type != types.TransactionBuy || previous.Price.Equal(r.Price)
}

// trade serializes per user, replays idempotent retries, bounds the trade by
// the configured timeout and retries attempts that lost a version check.
func (s *Service) trade(ctx context.Context, req tradeRequest, run attemptFunc) (*types.User, error) {
	ctx, correlationID := correlation.Ensure(ctx)
	logger := zerolog.Ctx(ctx).With().
		Str("service", "trading").
		Str("correlation_id", correlationID).
		Str("type", string(req.Type)).
		Str("user_id", req.UserID).
		Str("company_id", req.CompanyID).
		Int64("quantity", req.Quantity).
		Logger()

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.IdempotencyKey != "" {
		previous, err := s.sagas.GetCommittedSaga(ctx, req.IdempotencyKey, req.UserID)
		if err != nil {
			return nil, s.fail(logger, err)
		}
		if previous != nil {
			if !req.matches(previous) {
				logger.Warn().Str("saga_id", previous.ID).Msg("idempotency key reused for a different order")
				return nil, ErrIdempotencyKeyReused
			}
			logger.Info().Str("saga_id", previous.ID).Msg("replaying completed trade")
			return s.GetUser(ctx, req.UserID)
		}
	}

	logger.Info().Msg("executing trade")

	for attempt := 1; ; attempt++ {
		user, err := run(ctx, logger, correlationID, attempt)
		if err == nil {
			logger.Info().Int("attempt", attempt).Msg("trade completed")
			return user, nil
		}
		if errors.Is(err, ledger.ErrConcurrentModification) && attempt < s.maxAttempts {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("trade lost a version check, retrying")
			continue
		}
		return nil, s.fail(logger, err)
	}
}

// fail maps an attempt's error onto the caller-facing taxonomy. Anything that
// is not a precondition failure is logged and reported as ErrTradeFailed.
func (s *Service) fail(logger zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidTransactionType):
		return err
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, ledger.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ledger.ErrInvalidAmount):
		return ErrInvalidAmount
	}
	logger.Error().Err(err).Msg("trade failed")
	return ErrTradeFailed
}

func (s *Service) load(ctx context.Context, userID, companyID string) (*types.User, *types.Company, error) {
	user, err := s.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrNotFound
	}
	company, err := s.ledger.GetCompany(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	if company == nil {
		return nil, nil, ErrNotFound
	}
	return user, company, nil
}

func (s *Service) buyOnce(ctx context.Context, logger zerolog.Logger, correlationID string, attempt int, order BuyOrder) (*types.User, error) {
	user, company, err := s.load(ctx, order.UserID, order.CompanyID)
	if err != nil {
		return nil, err
	}

	total := order.Price.Mul(decimal.NewFromInt(order.Quantity))
	if user.WalletBalance.LessThan(total) {
		return nil, ErrInsufficientFunds
	}

	g, err := newSaga(ctx, s.sagas, s.ledger, &TradeSaga{
		ID:             uuid.New().String(),
		CorrelationID:  correlationID,
		IdempotencyKey: order.IdempotencyKey,
		Type:           types.TransactionBuy,
		UserID:         user.ID,
		CompanyID:      company.ID,
		Quantity:       order.Quantity,
		Price:          order.Price,
		Attempt:        attempt,
	}, logger)
	if err != nil {
		return nil, err
	}

	now := s.now()
	txID := uuid.New().String()
	lotID := ledger.NewLotID()

	err = g.execute(ctx,
		action{
			step: SagaStep{Kind: StepRecordTransaction, TransactionID: txID},
			do: func(ctx context.Context, _ *SagaStep) error {
				return s.ledger.AddTransaction(ctx, &types.Transaction{
					ID:             txID,
					UserID:         user.ID,
					CompanyID:      company.ID,
					Type:           types.TransactionBuy,
					Date:           now,
					OpeningBalance: user.WalletBalance,
					ClosingBalance: user.WalletBalance.Sub(total),
					Quantity:       order.Quantity,
					Price:          order.Price,
					Profit:         decimal.Zero,
				})
			},
		},
		action{
			step: SagaStep{Kind: StepCreateLot, LotID: lotID},
			do: func(ctx context.Context, _ *SagaStep) error {
				return s.ledger.CreateLot(ctx, &types.StockLot{
					ID:        lotID,
					UserID:    user.ID,
					CompanyID: company.ID,
					Quantity:  order.Quantity,
					BuyPrice:  order.Price,
					CreatedAt: now,
				})
			},
		},
		s.applyUser(user, types.TransactionBuy, total, decimal.Zero),
		s.applyCompany(company, types.TransactionBuy),
	)
	if err == nil {
		err = g.commit(ctx)
	}
	if err != nil {
		return nil, s.abort(ctx, logger, g, err)
	}

	return s.reload(ctx, user.ID)
}

func (s *Service) sellOnce(ctx context.Context, logger zerolog.Logger, correlationID string, attempt int, order SellOrder) (*types.User, error) {
	user, company, err := s.load(ctx, order.UserID, order.CompanyID)
	if err != nil {
		return nil, err
	}

	held, err := s.ledger.ListLots(ctx, user.ID, company.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	plan, err := s.engine.Consume(held, order.Quantity, valuation.QuoteFor(company), now)
	if err != nil {
		if errors.Is(err, lots.ErrInsufficientShares) {
			return nil, ErrInsufficientShares
		}
		if errors.Is(err, lots.ErrInvalidQuantity) {
			return nil, ErrInvalidOrder
		}
		return nil, err
	}

	aggregate, err := s.ledger.GetUserProfit(ctx, user.ID, company.ID)
	if err != nil {
		return nil, err
	}
	profitID, profitVersion := uuid.New().String(), int64(0)
	if aggregate != nil {
		profitID, profitVersion = aggregate.ID, aggregate.Version
	}

	logger.Debug().
		Str("revenue", plan.Revenue.String()).
		Str("cost_basis", plan.CostBasis.String()).
		Int("lots_deleted", len(plan.Delete)).
		Bool("lot_reduced", plan.Reduce != nil).
		Msg("sale planned")

	g, err := newSaga(ctx, s.sagas, s.ledger, &TradeSaga{
		ID:             uuid.New().String(),
		CorrelationID:  correlationID,
		IdempotencyKey: order.IdempotencyKey,
		Type:           types.TransactionSell,
		UserID:         user.ID,
		CompanyID:      company.ID,
		Quantity:       order.Quantity,
		Price:          plan.Revenue,
		Attempt:        attempt,
	}, logger)
	if err != nil {
		return nil, err
	}

	txID := uuid.New().String()
	consumed := SagaStep{Kind: StepConsumeLots, DeletedLots: plan.Delete}
	if plan.Reduce != nil {
		consumed.ReducedLot = &LotReduction{Lot: plan.Reduce.Lot, NewQuantity: plan.Reduce.NewQuantity}
	}

	err = g.execute(ctx,
		action{
			step: SagaStep{Kind: StepRecordTransaction, TransactionID: txID},
			do: func(ctx context.Context, _ *SagaStep) error {
				return s.ledger.AddTransaction(ctx, &types.Transaction{
					ID:             txID,
					UserID:         user.ID,
					CompanyID:      company.ID,
					Type:           types.TransactionSell,
					Date:           now,
					OpeningBalance: user.WalletBalance,
					ClosingBalance: user.WalletBalance.Add(plan.Revenue),
					Quantity:       order.Quantity,
					Price:          plan.Revenue,
					Profit:         plan.Profit,
				})
			},
		},
		action{
			step: consumed,
			do: func(ctx context.Context, step *SagaStep) error {
				for _, lot := range step.DeletedLots {
					if err := s.ledger.ConsumeLot(ctx, lot.ID, lot.Version); err != nil {
						return err
					}
				}
				if r := step.ReducedLot; r != nil {
					return s.ledger.ReduceLot(ctx, r.Lot.ID, r.Lot.Version, r.NewQuantity)
				}
				return nil
			},
		},
		action{
			step: SagaStep{
				Kind:          StepUpsertProfit,
				ProfitID:      profitID,
				ProfitCreated: aggregate == nil,
				Profit:        plan.Profit,
				Invested:      plan.CostBasis,
				BeforeVersion: profitVersion,
			},
			do: func(ctx context.Context, _ *SagaStep) error {
				_, err := s.ledger.AddUserProfit(ctx, profitID, user.ID, company.ID, plan.Profit, plan.CostBasis, profitVersion)
				return err
			},
		},
		s.applyUser(user, types.TransactionSell, plan.Revenue, plan.Profit),
		s.applyCompany(company, types.TransactionSell),
	)
	if err == nil {
		err = g.commit(ctx)
	}
	if err != nil {
		return nil, s.abort(ctx, logger, g, err)
	}

	return s.reload(ctx, user.ID)
}

func (s *Service) applyUser(user *types.User, t types.TransactionType, amount, profit decimal.Decimal) action {
	return action{
		step: SagaStep{Kind: StepApplyUser, Amount: amount, Profit: profit, BeforeVersion: user.Version},
		do: func(ctx context.Context, _ *SagaStep) error {
			_, err := s.ledger.UpdateUserAfterTransaction(ctx, t, amount, user.ID, profit, user.Version)
			return err
		},
	}
}

func (s *Service) applyCompany(company *types.Company, t types.TransactionType) action {
	return action{
		step: SagaStep{Kind: StepApplyCompany, BeforeVersion: company.Version},
		do: func(ctx context.Context, _ *SagaStep) error {
			_, err := s.ledger.UpdateCompanyAfterTransaction(ctx, t, company.ID)
			return err
		},
	}
}

// abort compensates a failed attempt. The undo runs on a context detached
// from the trade's deadline so a timed-out trade still unwinds. The returned
// error is the attempt's cause unless compensation itself failed.
func (s *Service) abort(ctx context.Context, logger zerolog.Logger, g *saga, cause error) error {
	logger.Warn().Err(cause).Str("saga_id", g.record.ID).Msg("trade step failed, compensating")

	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := g.compensate(undoCtx, cause); err != nil {
		logger.Error().Err(err).Str("saga_id", g.record.ID).Msg("compensation incomplete, left for recovery")
		return fmt.Errorf("%w: %v: %v", ErrTradeFailed, cause, err)
	}

	logger.Info().Str("saga_id", g.record.ID).Msg("trade compensated")
	if errors.Is(cause, ledger.ErrConcurrentModification) || errors.Is(cause, ledger.ErrInsufficientFunds) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrTradeFailed, cause)
}

func (s *Service) reload(ctx context.Context, userID string) (*types.User, error) {
	user, err := s.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// Recover compensates sagas left pending since before cutoff, typically by a
// crash mid-trade. It returns how many were compensated.
func (s *Service) Recover(ctx context.Context, cutoff time.Time) (int, error) {
	logger := log.With().Str("service", "trading").Str("component", "saga_recovery").Logger()

	stale, err := s.sagas.GetStaleSagas(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stale {
		record := &stale[i]
		sagaLogger := logger.With().
			Str("saga_id", record.ID).
			Str("correlation_id", record.CorrelationID).
			Logger()

		compensated, err := s.recoverSaga(ctx, record.ID, record.UserID, sagaLogger)
		if err != nil {
			sagaLogger.Error().Err(err).Msg("failed to compensate stale saga")
			continue
		}
		if compensated {
			sagaLogger.Info().Msg("stale saga compensated")
			recovered++
		}
	}
	return recovered, nil
}

// recoverSaga re-reads the saga under the user's lock, since a trade that was
// still running when the stale list was read may have finished since.
func (s *Service) recoverSaga(ctx context.Context, sagaID, userID string, logger zerolog.Logger) (bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	record, err := s.sagas.GetSaga(ctx, sagaID)
	if err != nil {
		return false, err
	}
	if record == nil || record.Status != SagaPending {
		return false, nil
	}

	g, err := resumeSaga(s.sagas, s.ledger, record, logger)
	if err != nil {
		return false, err
	}
	if err := g.compensate(ctx, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Withdraw takes amount out of the user's wallet and records the withdrawal.
// It holds the same per-user lock as trades, so it never interleaves with one.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*types.User, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	ctx, correlationID := correlation.Ensure(ctx)
	logger := zerolog.Ctx(ctx).With().
		Str("service", "trading").
		Str("correlation_id", correlationID).
		Str("user_id", userID).
		Str("amount", amount.String()).
		Logger()

	unlock := s.locks.Lock(userID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		user, err := s.reload(ctx, userID)
		if err != nil {
			return nil, s.withdrawFailed(logger, err)
		}
		if user.WalletBalance.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}

		updated, withdrawal, err := s.ledger.Withdraw(ctx, userID, amount, user.Version)
		if err == nil {
			logger.Info().Str("withdrawal_id", withdrawal.ID).Int("attempt", attempt).Msg("withdrawal completed")
			return updated, nil
		}
		if errors.Is(err, ledger.ErrConcurrentModification) && attempt < s.maxAttempts {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("withdrawal lost a version check, retrying")
			continue
		}
		return nil, s.withdrawFailed(logger, err)
	}
}

func (s *Service) withdrawFailed(logger zerolog.Logger, err error) error {
	if err = s.fail(logger, err); errors.Is(err, ErrTradeFailed) {
		return ErrWithdrawalFailed
	}
	return err
}

// ListWithdrawals returns the user's withdrawals, newest first
func (s *Service) ListWithdrawals(ctx context.Context, userID string) ([]types.Withdrawal, error) {
	if _, err := s.reload(ctx, userID); err != nil {
		return nil, err
	}
	return s.ledger.ListWithdrawals(ctx, userID)
}

// ListCompanies returns tradable companies, optionally only those whose
// current price is at most maxPrice.
func (s *Service) ListCompanies(ctx context.Context, maxPrice *decimal.Decimal) ([]types.Company, error) {
	return s.ledger.ListCompanies(ctx, ledger.CompanyFilter{MaxPrice: maxPrice})
}

// GetCompany returns the company or ErrNotFound
func (s *Service) GetCompany(ctx context.Context, companyID string) (*types.Company, error) {
	company, err := s.ledger.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrNotFound
	}
	return company, nil
}

// GetUser returns the user or ErrNotFound
func (s *Service) GetUser(ctx context.Context, userID string) (*types.User, error) {
	return s.reload(ctx, userID)
}

// GetHoldings returns a user's open lots grouped by company
func (s *Service) GetHoldings(ctx context.Context, userID string) ([]types.Holding, error) {
	if _, err := s.reload(ctx, userID); err != nil {
		return nil, err
	}
	held, err := s.ledger.ListUserLots(ctx, userID)
	if err != nil {
		return nil, err
	}

	holdings := make([]types.Holding, 0)
	index := make(map[string]int)
	for _, lot := range held {
		i, ok := index[lot.CompanyID]
		if !ok {
			i = len(holdings)
			index[lot.CompanyID] = i
			holdings = append(holdings, types.Holding{CompanyID: lot.CompanyID})
		}
		holdings[i].Quantity += lot.Quantity
		holdings[i].Lots = append(holdings[i].Lots, lot)
	}
	return holdings, nil
}

// GetLots returns a user's lots in one company in the order a sale consumes them
func (s *Service) GetLots(ctx context.Context, userID, companyID string) ([]types.StockLot, error) {
	if _, _, err := s.load(ctx, userID, companyID); err != nil {
		return nil, err
	}
	held, err := s.ledger.ListLots(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	lots.Sort(held)
	return held, nil
}

// GetProfits returns the user's realized profit per company
func (s *Service) GetProfits(ctx context.Context, userID string) ([]types.UserProfit, error) {
	if _, err := s.reload(ctx, userID); err != nil {
		return nil, err
	}
	return s.ledger.ListUserProfits(ctx, userID)
}

// ListTransactions returns one page of transactions
func (s *Service) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) (*types.TransactionPage, error) {
	page, err := s.ledger.ListTransactions(ctx, filter)
	if errors.Is(err, ledger.ErrInvalidTransactionType) {
		return nil, ErrInvalidTransactionType
	}
	return page, err
}
