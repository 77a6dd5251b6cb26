package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
)

// ApproveLoan moves an APPLIED loan to APPROVED and generates its schedule.
func (l *Ledger) ApproveLoan(ctx context.Context, loanID uuid.UUID, approverID string) (*models.Loan, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, ErrApproverRequired
	}

	unlock := l.lockLoan(loanID)
	defer unlock()

	var loan *models.Loan
	err := l.storage.WithTx(ctx, func(tx store.LoanTx) error {
		var err error
		loan, err = loadLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(models.LoanStatusApproved) {
			return fmt.Errorf("%w: cannot approve loan in status %s", ErrInvalidStateTransition, loan.Status)
		}

		schedule, err := amortization.Generate(ScheduleTerms(loan))
		if err != nil {
			return fmt.Errorf("failed to generate schedule: %w", err)
		}
		installments := toInstallments(loan.ID, schedule)
		if err := tx.CreateInstallments(ctx, installments); err != nil {
			return err
		}

		now := l.now()
		maturity := loan.ApplicationDate.AddDate(0, loan.TermMonths, 0)
		loan.Status = models.LoanStatusApproved
		loan.ApprovalDate = &now
		loan.ApprovedBy = approverID
		loan.MaturityDate = &maturity
		loan.MonthlyPayment = schedule.Payment
		applyBalances(loan, installments)
		loan.UpdatedAt = now

		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("loan approved",
		"loan_id", loan.ID,
		"approved_by", loan.ApprovedBy,
		"monthly_payment", loan.MonthlyPayment.StringFixed(2),
		"maturity_date", loan.MaturityDate.Format("2006-01-02"),
	)
	return loan, nil
}

// DisburseLoan pays out an APPROVED loan and makes it ACTIVE.
func (l *Ledger) DisburseLoan(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) (*models.Loan, error) {
	unlock := l.lockLoan(loanID)
	defer unlock()

	var loan *models.Loan
	err := l.storage.WithTx(ctx, func(tx store.LoanTx) error {
		var err error
		loan, err = loadLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(models.LoanStatusActive) {
			return fmt.Errorf("%w: cannot disburse loan in status %s", ErrInvalidStateTransition, loan.Status)
		}
		if !amount.IsPositive() || amount.GreaterThan(loan.PrincipalAmount) {
			return fmt.Errorf("%w: disbursement %s must be positive and at most %s", ErrAmountOutOfRange, amount, loan.PrincipalAmount)
		}

		now := l.now()
		first := loan.RepaymentFrequency.Advance(now)
		next := first
		loan.DisbursementDate = &now
		loan.DisbursedAmount = amount
		loan.FirstPaymentDate = &first
		loan.NextPaymentDate = &next
		loan.Status = models.LoanStatusActive
		loan.UpdatedAt = now

		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("loan disbursed",
		"loan_id", loan.ID,
		"amount", loan.DisbursedAmount.StringFixed(2),
		"first_payment_date", loan.FirstPaymentDate.Format("2006-01-02"),
	)
	return loan, nil
}

// ScheduleTerms returns the amortization inputs for a loan. Installments are
// counted from the application date so the last one falls on maturity.
func ScheduleTerms(loan *models.Loan) amortization.Terms {
	rate := loan.InterestRate
	if loan.ShariaCompliant {
		rate = loan.ProfitRate
	}
	return amortization.Terms{
		Principal:       loan.PrincipalAmount,
		AnnualRate:      rate,
		TermMonths:      loan.TermMonths,
		ShariaCompliant: loan.ShariaCompliant,
		StartDate:       loan.ApplicationDate,
	}
}

func toInstallments(loanID uuid.UUID, schedule amortization.Schedule) []models.Installment {
	out := make([]models.Installment, 0, len(schedule.Lines))
	for _, line := range schedule.Lines {
		out = append(out, models.Installment{
			LoanID:          loanID,
			Number:          line.Number,
			DueDate:         line.DueDate,
			OpeningBalance:  line.OpeningBalance,
			InterestAmount:  line.Interest,
			PrincipalAmount: line.Principal,
			TotalPayment:    line.Payment,
			ClosingBalance:  line.ClosingBalance,
		})
	}
	return out
}
