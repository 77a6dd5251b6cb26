package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanProduct is the configured offering a loan is opened against.
type LoanProduct struct {
	Code               string             `json:"code" yaml:"code"`
	Name               string             `json:"name" yaml:"name"`
	MinimumAmount      decimal.Decimal    `json:"minimum_amount" yaml:"minimum_amount"`
	MaximumAmount      decimal.Decimal    `json:"maximum_amount" yaml:"maximum_amount"`
	MinimumTermMonths  int                `json:"minimum_term_months" yaml:"minimum_term_months"`
	MaximumTermMonths  int                `json:"maximum_term_months" yaml:"maximum_term_months"`
	InterestRate       decimal.Decimal    `json:"interest_rate" yaml:"interest_rate"` // Annual, in percent
	RepaymentFrequency RepaymentFrequency `json:"repayment_frequency" yaml:"repayment_frequency"`
	PenaltyRate        decimal.Decimal    `json:"penalty_rate" yaml:"penalty_rate"` // Annualized fraction, 0.24 = 24%
	ShariaCompliant    bool               `json:"sharia_compliant" yaml:"sharia_compliant"`
	IslamicStructure   IslamicStructure   `json:"islamic_structure,omitempty" yaml:"islamic_structure"`
}

// Customer is the borrower as known to the customer directory.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Loan struct {
	ID                  uuid.UUID          `json:"id"`
	LoanNumber          string             `json:"loan_number"`
	ProductCode         string             `json:"product_code"`
	CustomerID          string             `json:"customer_id"`
	PrincipalAmount     decimal.Decimal    `json:"principal_amount"`
	CurrencyCode        string             `json:"currency_code"`
	InterestRate        decimal.Decimal    `json:"interest_rate"`
	ProfitRate          decimal.Decimal    `json:"profit_rate"` // Mirrors InterestRate for Islamic loans
	ShariaCompliant     bool               `json:"sharia_compliant"`
	IslamicStructure    IslamicStructure   `json:"islamic_structure,omitempty"`
	RepaymentFrequency  RepaymentFrequency `json:"repayment_frequency"`
	TermMonths          int                `json:"term_months"`
	RemainingTermMonths int                `json:"remaining_term_months"`

	ApplicationDate  time.Time       `json:"application_date"`
	ApprovalDate     *time.Time      `json:"approval_date,omitempty"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	DisbursementDate *time.Time      `json:"disbursement_date,omitempty"`
	DisbursedAmount  decimal.Decimal `json:"disbursed_amount"`
	MaturityDate     *time.Time      `json:"maturity_date,omitempty"`
	Status           LoanStatus      `json:"status"`

	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	OutstandingInterest  decimal.Decimal `json:"outstanding_interest"`
	TotalOutstanding     decimal.Decimal `json:"total_outstanding"`
	MonthlyPayment       decimal.Decimal `json:"monthly_payment"`
	FirstPaymentDate     *time.Time      `json:"first_payment_date,omitempty"`
	NextPaymentDate      *time.Time      `json:"next_payment_date,omitempty"`
	LastPaymentDate      *time.Time      `json:"last_payment_date,omitempty"`

	DaysPastDue       int               `json:"days_past_due"`
	RiskRating        RiskRating        `json:"risk_rating"`
	Classification    Classification    `json:"classification"`
	ProvisioningStage ProvisioningStage `json:"provisioning_stage"`
	ProvisionRate     decimal.Decimal   `json:"provision_rate"`
	ProvisionAmount   decimal.Decimal   `json:"provision_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetOutstanding keeps TotalOutstanding equal to principal plus interest.
func (l *Loan) SetOutstanding(principal, interest decimal.Decimal) {
	l.OutstandingPrincipal = principal
	l.OutstandingInterest = interest
	l.TotalOutstanding = principal.Add(interest)
}

// Installment is one row of an amortization schedule. InterestAmount holds
// profit for Sharia-compliant loans.
type Installment struct {
	LoanID          uuid.UUID       `json:"loan_id"`
	Number          int             `json:"installment_number"`
	DueDate         time.Time       `json:"due_date"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
	InterestAmount  decimal.Decimal `json:"interest_amount"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	TotalPayment    decimal.Decimal `json:"total_payment"`
	ClosingBalance  decimal.Decimal `json:"closing_balance"`
	Paid            bool            `json:"paid"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
}

// Repayment records one payment event. Repayments are never updated.
type Repayment struct {
	ID                   uuid.UUID       `json:"id"`
	LoanID               uuid.UUID       `json:"loan_id"`
	InstallmentNumber    int             `json:"installment_number"`
	PaymentDate          time.Time       `json:"payment_date"`
	DueDate              time.Time       `json:"due_date"`
	PrincipalAmount      decimal.Decimal `json:"principal_amount"`
	InterestAmount       decimal.Decimal `json:"interest_amount"`
	AmountPaid           decimal.Decimal `json:"amount_paid"`
	DaysOverdue          int             `json:"days_overdue"`
	LateFee              decimal.Decimal `json:"late_fee"`
	Status               PaymentStatus   `json:"status"`
	OutstandingAmount    decimal.Decimal `json:"outstanding_amount"`
	UnappliedAmount      decimal.Decimal `json:"unapplied_amount"` // Paid beyond the installment total
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	TransactionReference string          `json:"transaction_reference"`
	CreatedAt            time.Time       `json:"created_at"`
}
