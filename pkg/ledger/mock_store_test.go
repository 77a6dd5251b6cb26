package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
// WithTx snapshots the data and restores it when fn fails.
type MockStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products     map[string]*models.LoanProduct
	customers    map[string]*models.Customer
	loans        map[uuid.UUID]models.Loan
	installments map[uuid.UUID][]models.Installment
	repayments   []models.Repayment
	outbox       []store.OutboxJob

	enqueueErr error
	updateErr  error
}

func NewMockStore() *MockStore {
	return &MockStore{
		products:     make(map[string]*models.LoanProduct),
		customers:    make(map[string]*models.Customer),
		loans:        make(map[uuid.UUID]models.Loan),
		installments: make(map[uuid.UUID][]models.Installment),
	}
}

type mockSnapshot struct {
	loans        map[uuid.UUID]models.Loan
	installments map[uuid.UUID][]models.Installment
	repayments   []models.Repayment
}

func (m *MockStore) snapshot() mockSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := mockSnapshot{
		loans:        make(map[uuid.UUID]models.Loan, len(m.loans)),
		installments: make(map[uuid.UUID][]models.Installment, len(m.installments)),
		repayments:   append([]models.Repayment(nil), m.repayments...),
	}
	for id, l := range m.loans {
		snap.loans[id] = l
	}
	for id, insts := range m.installments {
		snap.installments[id] = append([]models.Installment(nil), insts...)
	}
	return snap
}

func (m *MockStore) restore(snap mockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans = snap.loans
	m.installments = snap.installments
	m.repayments = snap.repayments
}

func (m *MockStore) WithTx(ctx context.Context, fn func(tx store.LoanTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *MockStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return c, nil
}

func (m *MockStore) GetProduct(ctx context.Context, code string) (*models.LoanProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[code]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", code, store.ErrNotFound)
	}
	return p, nil
}

func (m *MockStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; ok {
		return store.ErrAlreadyExists
	}
	m.customers[c.ID] = c
	return nil
}

func (m *MockStore) UpsertProduct(ctx context.Context, p *models.LoanProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Code] = p
	return nil
}

func (m *MockStore) ListProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.LoanProduct{}
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	return &loan, nil
}

func (m *MockStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.loans[loan.ID]; !ok {
		return store.ErrNotFound
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockStore) ListLoans(ctx context.Context, f store.LoanFilter) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, l.Status) {
			continue
		}
		if f.RiskRating != "" && l.RiskRating != f.RiskRating {
			continue
		}
		if f.CustomerID != "" && l.CustomerID != f.CustomerID {
			continue
		}
		if l.DaysPastDue < f.MinDaysPastDue {
			continue
		}
		loan := l
		loans = append(loans, &loan)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].LoanNumber < loans[j].LoanNumber })
	return loans, nil
}

func containsStatus(statuses []models.LoanStatus, s models.LoanStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *MockStore) SumProvisionAmount(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, l := range m.loans {
		total = total.Add(l.ProvisionAmount)
	}
	return total, nil
}

func (m *MockStore) CreateInstallments(ctx context.Context, installments []models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range installments {
		m.installments[inst.LoanID] = append(m.installments[inst.LoanID], inst)
	}
	return nil
}

func (m *MockStore) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Installment(nil), m.installments[loanID]...), nil
}

func (m *MockStore) MarkInstallmentPaid(ctx context.Context, loanID uuid.UUID, number int, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.installments[loanID]
	for i := range insts {
		if insts[i].Number == number && !insts[i].Paid {
			insts[i].Paid = true
			t := paidAt
			insts[i].PaymentDate = &t
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *MockStore) CreateRepayment(ctx context.Context, r *models.Repayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.repayments {
		if existing.TransactionReference == r.TransactionReference {
			return store.ErrDuplicateReference
		}
	}
	m.repayments = append(m.repayments, *r)
	return nil
}

func (m *MockStore) GetRepayments(ctx context.Context, loanID uuid.UUID) ([]models.Repayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Repayment{}
	for _, r := range m.repayments {
		if r.LoanID == loanID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockStore) RepaymentReferenceExists(ctx context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repayments {
		if r.TransactionReference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) EnqueueOutbox(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.outbox = append(m.outbox, store.OutboxJob{ID: int64(len(m.outbox) + 1), Topic: topic, Payload: payload, Status: "pending"})
	return nil
}

func (m *MockStore) ClaimPendingOutbox(ctx context.Context, limit int32) ([]store.OutboxJob, error) {
	return nil, nil
}

func (m *MockStore) MarkOutboxDone(ctx context.Context, jobID int64) error { return nil }

func (m *MockStore) MarkOutboxRetry(ctx context.Context, jobID int64, next time.Time, lastError string) error {
	return nil
}

func (m *MockStore) MarkOutboxFailed(ctx context.Context, jobID int64, lastError string) error {
	return nil
}

func (m *MockStore) Close() error {
	return nil
}
