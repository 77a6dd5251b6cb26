package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/risk"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/mcclellann/loanengine/pkg/workflow"
	"github.com/shopspring/decimal"
)

// ApplicationInput is a customer's request for a loan.
type ApplicationInput struct {
	CustomerID   string          `json:"customer_id"`
	ProductCode  string          `json:"product_code"`
	Amount       decimal.Decimal `json:"amount"`
	TermMonths   int             `json:"term_months"`
	CurrencyCode string          `json:"currency_code"`
}

// CreateLoanApplication validates the application against the product's
// limits and records a new loan in APPLIED status. An approval workflow is
// requested once the loan is stored; failing to request it does not fail the
// application.
func (l *Ledger) CreateLoanApplication(ctx context.Context, in ApplicationInput) (*models.Loan, error) {
	product, err := l.storage.GetProduct(ctx, in.ProductCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, in.ProductCode)
		}
		return nil, err
	}
	if _, err := l.storage.GetCustomer(ctx, in.CustomerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, in.CustomerID)
		}
		return nil, err
	}

	currency, err := validateApplication(product, in)
	if err != nil {
		return nil, err
	}

	now := l.now()
	tier := risk.Lowest()
	loan := &models.Loan{
		ID:                  uuid.New(),
		ProductCode:         product.Code,
		CustomerID:          in.CustomerID,
		PrincipalAmount:     in.Amount,
		CurrencyCode:        currency,
		InterestRate:        product.InterestRate,
		ProfitRate:          decimal.Zero,
		ShariaCompliant:     product.ShariaCompliant,
		IslamicStructure:    product.IslamicStructure,
		RepaymentFrequency:  product.RepaymentFrequency,
		TermMonths:          in.TermMonths,
		RemainingTermMonths: in.TermMonths,
		ApplicationDate:     now,
		DisbursedAmount:     decimal.Zero,
		Status:              models.LoanStatusApplied,
		MonthlyPayment:      decimal.Zero,
		RiskRating:          tier.RiskRating,
		Classification:      tier.Classification,
		ProvisioningStage:   tier.Stage,
		ProvisionRate:       tier.ProvisionRate,
		ProvisionAmount:     decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if product.ShariaCompliant {
		loan.ProfitRate = product.InterestRate
	}
	loan.LoanNumber = loanNumber(loan)
	loan.SetOutstanding(in.Amount, decimal.Zero)

	err = l.storage.WithTx(ctx, func(tx store.LoanTx) error {
		return tx.CreateLoan(ctx, loan)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("loan application created",
		"loan_id", loan.ID,
		"loan_number", loan.LoanNumber,
		"customer_id", loan.CustomerID,
		"product_code", loan.ProductCode,
		"amount", loan.PrincipalAmount.StringFixed(2),
	)
	l.requestApproval(ctx, loan)

	return loan, nil
}

// validateApplication checks amount, term and currency against the product
// and returns the normalised currency code.
func validateApplication(product *models.LoanProduct, in ApplicationInput) (string, error) {
	if in.Amount.LessThan(product.MinimumAmount) || in.Amount.GreaterThan(product.MaximumAmount) {
		return "", fmt.Errorf("%w: %s not within [%s, %s]", ErrAmountOutOfRange,
			in.Amount, product.MinimumAmount, product.MaximumAmount)
	}
	if in.TermMonths < product.MinimumTermMonths || in.TermMonths > product.MaximumTermMonths {
		return "", fmt.Errorf("%w: %d months not within [%d, %d]", ErrTermOutOfRange,
			in.TermMonths, product.MinimumTermMonths, product.MaximumTermMonths)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.CurrencyCode))
	if len(currency) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, in.CurrencyCode)
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, in.CurrencyCode)
		}
	}
	return currency, nil
}

// loanNumber formats LN-YYYYMMDD-XXXXXXXX from the application date and id.
func loanNumber(loan *models.Loan) string {
	suffix := strings.ToUpper(strings.ReplaceAll(loan.ID.String(), "-", "")[:8])
	return fmt.Sprintf("LN-%s-%s", loan.ApplicationDate.Format("20060102"), suffix)
}

func (l *Ledger) requestApproval(ctx context.Context, loan *models.Loan) {
	req := workflow.Request{
		Kind:        workflow.KindLoanApproval,
		EntityType:  workflow.EntityTypeLoan,
		EntityID:    loan.ID.String(),
		InitiatorID: loan.CustomerID,
		Context: map[string]string{
			"loan_number":   loan.LoanNumber,
			"product_code":  loan.ProductCode,
			"amount":        loan.PrincipalAmount.StringFixed(2),
			"currency_code": loan.CurrencyCode,
			"term_months":   fmt.Sprint(loan.TermMonths),
		},
	}
	payload, err := json.Marshal(req)
	if err == nil {
		err = l.storage.EnqueueOutbox(ctx, workflow.TopicStartWorkflow, payload)
	}
	if err != nil {
		l.logger.Warn("failed to request approval workflow", "loan_id", loan.ID, "err", err)
	}
}
