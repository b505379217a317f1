package trading

import "errors"

var (
	ErrNotFound               = errors.New("user or company not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientShares     = errors.New("insufficient shares")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidOrder           = errors.New("quantity and price must be positive")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrIdempotencyKeyReused   = errors.New("idempotency key was used for a different order")
	ErrTradeFailed            = errors.New("trade failed")
	ErrWithdrawalFailed       = errors.New("withdrawal failed")

	// errCompensationAmbiguous means a step's outcome cannot be inferred from
	// record versions and the saga needs manual review.
	errCompensationAmbiguous = errors.New("cannot determine whether step took effect")
)
