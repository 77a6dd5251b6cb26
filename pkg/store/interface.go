package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ErrDuplicateReference is returned when a repayment's transaction reference
// was already recorded.
var ErrDuplicateReference = errors.New("duplicate transaction reference")

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	Statuses       []models.LoanStatus
	RiskRating     models.RiskRating
	CustomerID     string
	MinDaysPastDue int
}

// LoanTx is the read-modify-write surface of one loan aggregate. All calls
// made through a LoanTx commit or roll back together.
type LoanTx interface {
	Directory

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error

	CreateInstallments(ctx context.Context, installments []models.Installment) error
	GetInstallments(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error)
	MarkInstallmentPaid(ctx context.Context, loanID uuid.UUID, number int, paidAt time.Time) error

	CreateRepayment(ctx context.Context, repayment *models.Repayment) error
	GetRepayments(ctx context.Context, loanID uuid.UUID) ([]models.Repayment, error)
	RepaymentReferenceExists(ctx context.Context, reference string) (bool, error)
}

// Directory is the read-only customer and product lookup.
type Directory interface {
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	GetProduct(ctx context.Context, code string) (*models.LoanProduct, error)
}

// OutboxJob is a pending side effect recorded for asynchronous delivery.
type OutboxJob struct {
	ID          int64
	Topic       string
	Payload     []byte
	Status      string
	Attempts    int32
	LastError   string
	AvailableAt time.Time
}

// Outbox stores side effects that must not block the core.
type Outbox interface {
	EnqueueOutbox(ctx context.Context, topic string, payload []byte) error
	ClaimPendingOutbox(ctx context.Context, limit int32) ([]OutboxJob, error)
	MarkOutboxDone(ctx context.Context, jobID int64) error
	MarkOutboxRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkOutboxFailed(ctx context.Context, jobID int64, lastError string) error
}

// Storage defines the interface for database operations related to loans,
// their schedules and repayments.
type Storage interface {
	LoanTx
	Outbox

	// WithTx runs fn inside one transaction. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx LoanTx) error) error

	CreateCustomer(ctx context.Context, customer *models.Customer) error
	UpsertProduct(ctx context.Context, product *models.LoanProduct) error
	ListProducts(ctx context.Context) ([]*models.LoanProduct, error)

	ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)
	SumProvisionAmount(ctx context.Context) (decimal.Decimal, error)

	Close() error
}
