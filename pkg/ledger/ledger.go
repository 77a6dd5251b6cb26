package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
)

// Ledger handles the business logic for loans: application, approval,
// disbursement, repayment and risk classification.
type Ledger struct {
	storage     store.Storage
	logger      *slog.Logger
	now         func() time.Time
	riskWorkers int

	locksMu sync.Mutex
	locks   map[uuid.UUID]*loanLock
}

type loanLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces time.Now. Tests use it to age loans.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRiskWorkers bounds how many loans ReevaluateRisk processes at once.
func WithRiskWorkers(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.riskWorkers = n
		}
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:     s,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		riskWorkers: 4,
		locks:       make(map[uuid.UUID]*loanLock),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockLoan serializes mutations of one loan. Call the returned func to
// release it.
func (l *Ledger) lockLoan(id uuid.UUID) func() {
	l.locksMu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &loanLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.locksMu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.locksMu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.locksMu.Unlock()
	}
}

// loadLoan reads a loan inside a transaction, mapping store.ErrNotFound.
func loadLoan(ctx context.Context, tx store.LoanTx, id uuid.UUID) (*models.Loan, error) {
	loan, err := tx.GetLoan(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrLoanNotFound, id)
		}
		return nil, err
	}
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return loadLoan(ctx, l.storage, id)
}

// ListLoans retrieves loans matching filter.
func (l *Ledger) ListLoans(ctx context.Context, filter store.LoanFilter) ([]*models.Loan, error) {
	return l.storage.ListLoans(ctx, filter)
}

// GetSchedule returns a loan's installments. The schedule is empty until the
// loan is approved.
func (l *Ledger) GetSchedule(ctx context.Context, id uuid.UUID) ([]models.Installment, error) {
	if _, err := l.GetLoan(ctx, id); err != nil {
		return nil, err
	}
	return l.storage.GetInstallments(ctx, id)
}

// GetRepayments returns a loan's repayment history.
func (l *Ledger) GetRepayments(ctx context.Context, id uuid.UUID) ([]models.Repayment, error) {
	if _, err := l.GetLoan(ctx, id); err != nil {
		return nil, err
	}
	return l.storage.GetRepayments(ctx, id)
}

// GetOverdueLoans returns ACTIVE or DEFAULTED loans with days past due.
func (l *Ledger) GetOverdueLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.ListLoans(ctx, store.LoanFilter{
		Statuses:       []models.LoanStatus{models.LoanStatusActive, models.LoanStatusDefaulted},
		MinDaysPastDue: 1,
	})
}

func (l *Ledger) GetLoansByRiskRating(ctx context.Context, rating models.RiskRating) ([]*models.Loan, error) {
	if !rating.Valid() {
		return nil, fmt.Errorf("unknown risk rating %q", rating)
	}
	return l.storage.ListLoans(ctx, store.LoanFilter{RiskRating: rating})
}

// GetTotalProvisionAmount sums the provision held against every loan.
func (l *Ledger) GetTotalProvisionAmount(ctx context.Context) (decimal.Decimal, error) {
	return l.storage.SumProvisionAmount(ctx)
}

// applyBalances re-derives outstanding amounts and remaining term from the
// unpaid installments and returns the earliest unpaid one, or nil.
func applyBalances(loan *models.Loan, installments []models.Installment) *models.Installment {
	principal, interest := decimal.Zero, decimal.Zero
	remaining := 0
	var next *models.Installment
	for i := range installments {
		inst := &installments[i]
		if inst.Paid {
			continue
		}
		principal = principal.Add(inst.PrincipalAmount)
		interest = interest.Add(inst.InterestAmount)
		remaining++
		if next == nil || inst.Number < next.Number {
			next = inst
		}
	}
	loan.SetOutstanding(principal, interest)
	loan.RemainingTermMonths = remaining
	return next
}
