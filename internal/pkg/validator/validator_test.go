package validator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type withdrawalInput struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Method string          `json:"method" validate:"required,payout_method"`
}

func TestValidateCustomTags(t *testing.T) {
	errs := Validate(withdrawalInput{Amount: decimal.NewFromInt(5), Method: "click"})
	assert.Nil(t, errs)

	errs = Validate(withdrawalInput{Amount: decimal.Zero, Method: "cash"})
	assert.Contains(t, errs, "amount")
	assert.Contains(t, errs, "method")
}
