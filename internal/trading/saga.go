package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/ksred/stock-ledger/internal/ledger"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/rs/zerolog"
)

// action is a saga step and the forward write that produces it.
type action struct {
	step SagaStep
	do   func(ctx context.Context, step *SagaStep) error
}

// saga drives one trade attempt. Every write is logged as pending before it
// is issued and as applied after it returns, so compensation can run from the
// log alone, in this process or after a restart.
type saga struct {
	record *TradeSaga
	steps  []SagaStep
	log    *Database
	ledger Ledger
	logger zerolog.Logger
}

func newSaga(ctx context.Context, log *Database, ledger Ledger, record *TradeSaga, logger zerolog.Logger) (*saga, error) {
	record.Status = SagaPending
	if err := record.SetSteps([]SagaStep{}); err != nil {
		return nil, err
	}
	if err := log.CreateSaga(ctx, record); err != nil {
		return nil, fmt.Errorf("create saga: %w", err)
	}
	return &saga{record: record, log: log, ledger: ledger, logger: logger}, nil
}

func resumeSaga(log *Database, ledger Ledger, record *TradeSaga, logger zerolog.Logger) (*saga, error) {
	steps, err := record.Steps()
	if err != nil {
		return nil, fmt.Errorf("decode saga %s: %w", record.ID, err)
	}
	return &saga{record: record, steps: steps, log: log, ledger: ledger, logger: logger}, nil
}

func (g *saga) persist(ctx context.Context) error {
	if err := g.record.SetSteps(g.steps); err != nil {
		return err
	}
	return g.log.UpdateSaga(ctx, g.record)
}

// execute runs actions in order and stops at the first failure.
func (g *saga) execute(ctx context.Context, actions ...action) error {
	for _, a := range actions {
		step := a.step
		step.Status = StepPending
		g.steps = append(g.steps, step)
		i := len(g.steps) - 1

		if err := g.persist(ctx); err != nil {
			return fmt.Errorf("log %s: %w", step.Kind, err)
		}
		if err := a.do(ctx, &g.steps[i]); err != nil {
			if refused(&g.steps[i], err) {
				g.steps[i].Status = StepRejected
				if perr := g.persist(ctx); perr != nil {
					g.logger.Error().Err(perr).Str("saga_id", g.record.ID).Msg("failed to record rejected step")
				}
			}
			return fmt.Errorf("%s: %w", step.Kind, err)
		}
		g.steps[i].Status = StepApplied
		if err := g.persist(ctx); err != nil {
			return fmt.Errorf("log %s: %w", step.Kind, err)
		}

		g.logger.Debug().
			Str("saga_id", g.record.ID).
			Str("step", string(step.Kind)).
			Msg("saga step applied")
	}
	return nil
}

func (g *saga) commit(ctx context.Context) error {
	g.record.Status = SagaCommitted
	if err := g.persist(ctx); err != nil {
		g.record.Status = SagaPending
		return fmt.Errorf("commit saga: %w", err)
	}
	return nil
}

// compensate undoes steps in reverse order. Compensated and rejected steps are
// skipped, so running it again after a partial failure finishes the job
// without undoing anything twice.
func (g *saga) compensate(ctx context.Context, cause error) error {
	g.record.Status = SagaPending
	if cause != nil {
		g.record.Error = cause.Error()
	}

	for i := len(g.steps) - 1; i >= 0; i-- {
		step := &g.steps[i]
		if step.Status == StepCompensated || step.Status == StepRejected {
			continue
		}

		if err := g.undoStep(ctx, step); err != nil {
			if errors.Is(err, errCompensationAmbiguous) {
				g.record.Status = SagaFailed
			}
			g.record.Error = fmt.Sprintf("compensate %s: %v", step.Kind, err)
			if perr := g.persist(ctx); perr != nil {
				g.logger.Error().Err(perr).Str("saga_id", g.record.ID).Msg("failed to record compensation failure")
			}
			return fmt.Errorf("compensate %s: %w", step.Kind, err)
		}

		g.logger.Debug().
			Str("saga_id", g.record.ID).
			Str("step", string(step.Kind)).
			Msg("saga step compensated")
	}

	g.record.Status = SagaCompensated
	return g.persist(ctx)
}

func (g *saga) undoStep(ctx context.Context, step *SagaStep) error {
	needed, err := g.needsUndo(ctx, step)
	if err != nil {
		return err
	}

	if needed {
		if relative(step) && step.Status != StepCompensating {
			if versioned(step) {
				version, err := g.currentVersion(ctx, step)
				if err != nil {
					return err
				}
				step.UndoVersion = version
			}
			step.Status = StepCompensating
			if err := g.persist(ctx); err != nil {
				return err
			}
		}
		if err := g.undo(ctx, step); err != nil {
			return err
		}
	} else {
		g.logger.Warn().
			Str("saga_id", g.record.ID).
			Str("step", string(step.Kind)).
			Str("status", string(step.Status)).
			Msg("skipping undo of step that did not take effect")
	}

	step.Status = StepCompensated
	return g.persist(ctx)
}

// refused reports whether err proves a step's write never happened. Only
// single-statement writes qualify; their store calls check the version, the
// record and the wallet before writing and the CAS matches nothing on a lost
// race. Any other error leaves the outcome to version inference.
func refused(step *SagaStep, err error) bool {
	if step.Kind != StepApplyUser && step.Kind != StepUpsertProfit {
		return false
	}
	return errors.Is(err, ledger.ErrConcurrentModification) ||
		errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrNotFound)
}

// relative reports whether undoing a step twice would double count.
func relative(step *SagaStep) bool {
	return step.Kind == StepApplyCompany || versioned(step)
}

// versioned reports whether a step's undo is relative and guarded by the
// target record's version.
func versioned(step *SagaStep) bool {
	return step.Kind == StepApplyUser || (step.Kind == StepUpsertProfit && !step.ProfitCreated)
}

// needsUndo decides whether a step still has an effect to reverse. Deletes
// and restores are idempotent and always run. Relative updates whose outcome
// was not recorded are resolved from the version they were issued against.
// Company counters are undone at most once.
func (g *saga) needsUndo(ctx context.Context, step *SagaStep) (bool, error) {
	if step.Kind == StepApplyCompany {
		return step.Status == StepApplied, nil
	}
	if !versioned(step) || step.Status == StepApplied {
		return true, nil
	}

	baseline := step.BeforeVersion
	if step.Status == StepCompensating {
		baseline = step.UndoVersion
	}
	current, err := g.currentVersion(ctx, step)
	if err != nil {
		return false, err
	}

	switch current {
	case baseline:
		// a pending write never landed; a compensating undo has not run yet
		return step.Status == StepCompensating, nil
	case baseline + 1:
		return step.Status == StepPending, nil
	}
	return false, fmt.Errorf("%w: version %d, expected %d or %d", errCompensationAmbiguous, current, baseline, baseline+1)
}

func (g *saga) currentVersion(ctx context.Context, step *SagaStep) (int64, error) {
	switch step.Kind {
	case StepApplyUser:
		user, err := g.ledger.GetUser(ctx, g.record.UserID)
		if err != nil {
			return 0, err
		}
		if user == nil {
			return 0, ErrNotFound
		}
		return user.Version, nil
	case StepUpsertProfit:
		profit, err := g.ledger.GetUserProfit(ctx, g.record.UserID, g.record.CompanyID)
		if err != nil {
			return 0, err
		}
		if profit == nil {
			return 0, nil
		}
		return profit.Version, nil
	}
	return 0, fmt.Errorf("step %s is not versioned", step.Kind)
}

func (g *saga) undo(ctx context.Context, step *SagaStep) error {
	switch step.Kind {
	case StepRecordTransaction:
		return g.ledger.DeleteTransaction(ctx, step.TransactionID)

	case StepCreateLot:
		return g.ledger.DeleteLots(ctx, step.LotID)

	case StepConsumeLots:
		restore := append([]types.StockLot{}, step.DeletedLots...)
		if step.ReducedLot != nil {
			restore = append(restore, step.ReducedLot.Lot)
		}
		if err := g.ledger.RestoreLots(ctx, restore); err != nil {
			return err
		}
		if step.ReducedLot != nil {
			return g.ledger.SetLotQuantity(ctx, step.ReducedLot.Lot.ID, step.ReducedLot.Lot.Quantity)
		}
		return nil

	case StepUpsertProfit:
		if step.ProfitCreated {
			return g.ledger.DeleteUserProfit(ctx, step.ProfitID)
		}
		return g.ledger.ReverseUserProfit(ctx, step.ProfitID, step.Profit, step.Invested)

	case StepApplyUser:
		_, err := g.ledger.RollbackUserAfterTransaction(ctx, g.record.Type, step.Amount, g.record.UserID, step.Profit)
		return err

	case StepApplyCompany:
		_, err := g.ledger.RollbackCompanyAfterTransaction(ctx, g.record.Type, g.record.CompanyID)
		return err
	}
	return fmt.Errorf("unknown saga step %q", step.Kind)
}
