package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/risk"
	"github.com/mcclellann/loanengine/pkg/store"
)

// riskChange reports what an assessment did to a loan.
type riskChange struct {
	changed   bool
	defaulted bool
}

// ReevaluationSummary counts the outcome of a batch risk run.
type ReevaluationSummary struct {
	Evaluated int `json:"evaluated"`
	Changed   int `json:"changed"`
	Defaulted int `json:"defaulted"`
	Failed    int `json:"failed"`
}

// assessRisk classifies the loan from its repayment history and writes the
// result onto it. The caller persists the loan. An ACTIVE loan past the loss
// threshold becomes DEFAULTED.
func (l *Ledger) assessRisk(ctx context.Context, tx store.LoanTx, loan *models.Loan, installments []models.Installment, asOf time.Time) (riskChange, error) {
	repayments, err := tx.GetRepayments(ctx, loan.ID)
	if err != nil {
		return riskChange{}, err
	}

	a := risk.Assess(risk.Input{
		Repayments:   repayments,
		Installments: installments,
		AsOf:         asOf,
	}, loan.OutstandingPrincipal)

	var change riskChange
	change.changed = loan.DaysPastDue != a.MaxDaysPastDue ||
		loan.RiskRating != a.RiskRating ||
		loan.Classification != a.Classification ||
		!loan.ProvisionAmount.Equal(a.ProvisionAmount)

	loan.DaysPastDue = a.MaxDaysPastDue
	loan.RiskRating = a.RiskRating
	loan.Classification = a.Classification
	loan.ProvisioningStage = a.Stage
	loan.ProvisionRate = a.ProvisionRate
	loan.ProvisionAmount = a.ProvisionAmount

	if a.MaxDaysPastDue > risk.DoubtfulMaxDays && loan.Status.CanTransitionTo(models.LoanStatusDefaulted) {
		loan.Status = models.LoanStatusDefaulted
		change.changed = true
		change.defaulted = true
		l.logger.Warn("loan defaulted", "loan_id", loan.ID, "days_past_due", a.MaxDaysPastDue)
	}
	return change, nil
}

// ReevaluateLoanRisk re-runs the risk step for one loan as of now. Loans that
// are not ACTIVE are returned unchanged.
func (l *Ledger) ReevaluateLoanRisk(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	loan, _, err := l.reevaluate(ctx, loanID)
	return loan, err
}

func (l *Ledger) reevaluate(ctx context.Context, loanID uuid.UUID) (*models.Loan, riskChange, error) {
	unlock := l.lockLoan(loanID)
	defer unlock()

	var (
		loan   *models.Loan
		change riskChange
	)
	err := l.storage.WithTx(ctx, func(tx store.LoanTx) error {
		var err error
		loan, err = loadLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusActive {
			return nil
		}

		installments, err := tx.GetInstallments(ctx, loan.ID)
		if err != nil {
			return err
		}
		change, err = l.assessRisk(ctx, tx, loan, installments, l.now())
		if err != nil {
			return err
		}
		if !change.changed {
			return nil
		}
		loan.UpdatedAt = l.now()
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, riskChange{}, err
	}
	return loan, change, nil
}

// ReevaluateRisk ages every ACTIVE loan against today's date. Each loan is
// handled in its own transaction; one failure does not stop the batch.
func (l *Ledger) ReevaluateRisk(ctx context.Context) (ReevaluationSummary, error) {
	loans, err := l.storage.ListLoans(ctx, store.LoanFilter{Statuses: []models.LoanStatus{models.LoanStatusActive}})
	if err != nil {
		return ReevaluationSummary{}, err
	}

	ids := make(chan uuid.UUID)
	var (
		mu      sync.Mutex
		summary ReevaluationSummary
		wg      sync.WaitGroup
	)

	for i := 0; i < l.riskWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				_, change, err := l.reevaluate(ctx, id)

				mu.Lock()
				summary.Evaluated++
				switch {
				case err != nil:
					summary.Failed++
				case change.defaulted:
					summary.Changed++
					summary.Defaulted++
				case change.changed:
					summary.Changed++
				}
				mu.Unlock()

				if err != nil {
					l.logger.Error("risk re-evaluation failed", "loan_id", id, "err", err)
				}
			}
		}()
	}

feed:
	for _, loan := range loans {
		select {
		case <-ctx.Done():
			break feed
		case ids <- loan.ID:
		}
	}
	close(ids)
	wg.Wait()

	l.logger.Info("risk re-evaluation finished",
		"evaluated", summary.Evaluated,
		"changed", summary.Changed,
		"defaulted", summary.Defaulted,
		"failed", summary.Failed,
	)
	return summary, ctx.Err()
}
