package commission

import (
	"errors"
	"fmt"

	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
)

var (
	ErrTransactionNotFound    = errors.New("commission transaction not found")
	ErrInvalidStateTransition = errors.New("invalid commission state transition")
	ErrInvalidDecision        = errors.New("invalid review decision")
	ErrInvalidAmount          = errors.New("commission amount must not be negative")

	// ErrBudgetExceeded means the campaign budget moved under us; the
	// attributor recomputes the cap and retries.
	ErrBudgetExceeded = fmt.Errorf("campaign budget exceeded: %w", apperr.ErrOptimisticConflict)

	// errStaleStatus marks a compare-and-set that matched no row.
	errStaleStatus = errors.New("commission status changed concurrently")
)
