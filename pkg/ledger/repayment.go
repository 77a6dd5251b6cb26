package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/risk"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
)

var daysInYear = decimal.NewFromInt(365)

// RepaymentInput is one payment received against a loan.
type RepaymentInput struct {
	LoanID               uuid.UUID            `json:"loan_id"`
	Amount               decimal.Decimal      `json:"amount"`
	PaymentMethod        models.PaymentMethod `json:"payment_method"`
	TransactionReference string               `json:"transaction_reference"`
}

// ProcessRepayment applies a payment to the loan's earliest unpaid
// installment, recomputes balances from the schedule, closes the loan when
// nothing is left and re-classifies its risk.
func (l *Ledger) ProcessRepayment(ctx context.Context, in RepaymentInput) (*models.Repayment, error) {
	in.TransactionReference = strings.TrimSpace(in.TransactionReference)
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRepayment)
	}
	if in.TransactionReference == "" {
		return nil, fmt.Errorf("%w: transaction reference is required", ErrInvalidRepayment)
	}
	if !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidRepayment, in.PaymentMethod)
	}

	unlock := l.lockLoan(in.LoanID)
	defer unlock()

	var (
		repayment *models.Repayment
		loan      *models.Loan
	)
	err := l.storage.WithTx(ctx, func(tx store.LoanTx) error {
		exists, err := tx.RepaymentReferenceExists(ctx, in.TransactionReference)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateRepayment, in.TransactionReference)
		}

		loan, err = loadLoan(ctx, tx, in.LoanID)
		if err != nil {
			return err
		}
		switch loan.Status {
		case models.LoanStatusActive:
		case models.LoanStatusClosed:
			return fmt.Errorf("%w: loan %s is closed", ErrNoPendingInstallment, loan.ID)
		default:
			return fmt.Errorf("%w: cannot repay loan in status %s", ErrInvalidStateTransition, loan.Status)
		}

		installments, err := tx.GetInstallments(ctx, loan.ID)
		if err != nil {
			return err
		}
		target := applyBalances(loan, installments)
		if target == nil {
			return fmt.Errorf("%w: loan %s", ErrNoPendingInstallment, loan.ID)
		}

		product, err := tx.GetProduct(ctx, loan.ProductCode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrProductNotFound, loan.ProductCode)
			}
			return err
		}

		history, err := tx.GetRepayments(ctx, loan.ID)
		if err != nil {
			return err
		}

		now := l.now()
		repayment = buildRepayment(loan, *target, history, in, product.PenaltyRate, now)
		if err := tx.CreateRepayment(ctx, repayment); err != nil {
			if errors.Is(err, store.ErrDuplicateReference) {
				return fmt.Errorf("%w: %s", ErrDuplicateRepayment, in.TransactionReference)
			}
			return err
		}

		if repayment.Status == models.PaymentStatusPaid {
			if err := tx.MarkInstallmentPaid(ctx, loan.ID, target.Number, now); err != nil {
				return err
			}
			target.Paid = true
			target.PaymentDate = &now
		}

		next := applyBalances(loan, installments)
		loan.LastPaymentDate = &now
		if next == nil {
			if !loan.Status.CanTransitionTo(models.LoanStatusClosed) {
				return fmt.Errorf("%w: cannot close loan in status %s", ErrInvalidStateTransition, loan.Status)
			}
			loan.Status = models.LoanStatusClosed
			loan.NextPaymentDate = nil
		} else {
			due := next.DueDate
			loan.NextPaymentDate = &due
		}
		loan.UpdatedAt = now

		_, err = l.assessRisk(ctx, tx, loan, installments, now)
		if err != nil {
			return err
		}
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("repayment processed",
		"loan_id", loan.ID,
		"installment", repayment.InstallmentNumber,
		"amount", repayment.AmountPaid.StringFixed(2),
		"status", repayment.Status,
		"days_overdue", repayment.DaysOverdue,
		"loan_status", loan.Status,
	)
	return repayment, nil
}

// buildRepayment settles the payment against the target installment. Earlier
// partial payments on the same installment count toward its total; anything
// beyond it is recorded as unapplied. The late fee accrues on the amount paid.
func buildRepayment(loan *models.Loan, target models.Installment, history []models.Repayment, in RepaymentInput,
	penaltyRate decimal.Decimal, now time.Time) *models.Repayment {
	paidBefore := decimal.Zero
	for _, r := range history {
		if r.InstallmentNumber == target.Number {
			paidBefore = paidBefore.Add(r.AmountPaid)
		}
	}

	daysOverdue := risk.DaysBetween(target.DueDate, now)
	if daysOverdue < 0 {
		daysOverdue = 0
	}

	r := &models.Repayment{
		ID:                   uuid.New(),
		LoanID:               loan.ID,
		InstallmentNumber:    target.Number,
		PaymentDate:          now,
		DueDate:              target.DueDate,
		PrincipalAmount:      target.PrincipalAmount,
		InterestAmount:       target.InterestAmount,
		AmountPaid:           in.Amount,
		DaysOverdue:          daysOverdue,
		LateFee:              lateFee(in.Amount, penaltyRate, daysOverdue),
		OutstandingAmount:    decimal.Zero,
		UnappliedAmount:      decimal.Zero,
		PaymentMethod:        in.PaymentMethod,
		TransactionReference: in.TransactionReference,
		CreatedAt:            now,
	}

	settled := paidBefore.Add(in.Amount)
	switch {
	case settled.GreaterThanOrEqual(target.TotalPayment):
		r.Status = models.PaymentStatusPaid
		r.UnappliedAmount = settled.Sub(target.TotalPayment)
	case daysOverdue > 0:
		r.Status = models.PaymentStatusOverdue
		r.OutstandingAmount = target.TotalPayment.Sub(settled)
	default:
		r.Status = models.PaymentStatusPartial
		r.OutstandingAmount = target.TotalPayment.Sub(settled)
	}
	return r
}

// lateFee is paid * (annual penalty rate / 365) * days, rounded to cents.
func lateFee(amount, penaltyRate decimal.Decimal, daysOverdue int) decimal.Decimal {
	if daysOverdue <= 0 || !penaltyRate.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(penaltyRate).Mul(decimal.NewFromInt(int64(daysOverdue))).Div(daysInYear).Round(2)
}
