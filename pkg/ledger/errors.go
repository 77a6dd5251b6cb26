package ledger

import "errors"

var (
	ErrProductNotFound        = errors.New("product not found")
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrLoanNotFound           = errors.New("loan not found")
	ErrAmountOutOfRange       = errors.New("amount out of range")
	ErrTermOutOfRange         = errors.New("term out of range")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNoPendingInstallment   = errors.New("no pending installment")
)

// Input and idempotency errors.
var (
	ErrDuplicateRepayment = errors.New("duplicate repayment")
	ErrInvalidRepayment   = errors.New("invalid repayment")
	ErrApproverRequired   = errors.New("approver id is required")
	ErrInvalidCurrency    = errors.New("invalid currency code")
)
