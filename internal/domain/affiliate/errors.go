package affiliate

import "errors"

var (
	ErrLinkNotFound           = errors.New("affiliate link not found")
	ErrCampaignNotFound       = errors.New("affiliate campaign not found")
	ErrCampaignInactive       = errors.New("affiliate campaign is not accepting links")
	ErrDuplicateCodeExhausted = errors.New("could not generate a unique link code")
	ErrNotLinkOwner           = errors.New("link belongs to another promoter")
	ErrNotCampaignOwner       = errors.New("campaign belongs to another merchant")
	ErrInvalidProduct         = errors.New("product id is required")
	ErrInvalidRate            = errors.New("commission rate must be within [0, 100]")
	ErrInvalidBudget          = errors.New("budget must be greater than zero")
	ErrInvalidDates           = errors.New("campaign end date must be after start date")
	ErrInvalidOrder           = errors.New("invalid order")
	ErrFingerprintRequired    = errors.New("visitor fingerprint is required")

	// errCodeTaken is returned by CreateLink when the generated code already exists.
	errCodeTaken = errors.New("link code already taken")
)
