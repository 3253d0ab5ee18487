package withdrawal

import "errors"

var (
	ErrWithdrawalNotFound     = errors.New("withdrawal not found")
	ErrInsufficientBalance    = errors.New("insufficient available balance")
	ErrInvalidStateTransition = errors.New("invalid withdrawal state transition")
	ErrInvalidAmount          = errors.New("withdrawal amount must be positive")
	ErrInvalidMethod          = errors.New("invalid payout method")
	ErrInvalidOutcome         = errors.New("invalid settle outcome")
)
