package loyalty

import "errors"

var (
	ErrAccountNotFound     = errors.New("loyalty account not found")
	ErrAlreadyClaimedToday = errors.New("daily reward already claimed today")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrRedemptionConflict  = errors.New("order already redeemed with different parameters")
	ErrInvalidPoints       = errors.New("points must be greater than zero")
	ErrInvalidOrderAmount  = errors.New("order amount must be greater than zero")
	ErrInvalidOrderID      = errors.New("order id is required")
	ErrInvalidSchedule     = errors.New("invalid streak tier schedule")
	ErrInvalidTimezone     = errors.New("unknown timezone")
)
