package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultOutboxLease is how long a claimed outbox job stays invisible before
// another claim may take it over.
const DefaultOutboxLease = 5 * time.Minute

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	sqlQueries
	db          *sql.DB
	outboxLease time.Duration
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlQueries implements LoanTx on top of a queryer.
type sqlQueries struct {
	q queryer
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// One connection: SQLite serializes writers anyway, and this keeps
	// in-memory databases and per-connection pragmas consistent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{sqlQueries: sqlQueries{q: db}, db: db, outboxLease: DefaultOutboxLease}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Debug("database connection established and schema initialized", "dsn", dataSourceName)
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_products (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		minimum_amount TEXT NOT NULL,
		maximum_amount TEXT NOT NULL,
		minimum_term_months INTEGER NOT NULL,
		maximum_term_months INTEGER NOT NULL,
		interest_rate TEXT NOT NULL,
		repayment_frequency TEXT NOT NULL,
		penalty_rate TEXT NOT NULL DEFAULT '0',
		sharia_compliant INTEGER NOT NULL DEFAULT 0,
		islamic_structure TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		loan_number TEXT NOT NULL UNIQUE,
		product_code TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		profit_rate TEXT NOT NULL DEFAULT '0',
		sharia_compliant INTEGER NOT NULL DEFAULT 0,
		islamic_structure TEXT NOT NULL DEFAULT '',
		repayment_frequency TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		remaining_term_months INTEGER NOT NULL,
		application_date DATETIME NOT NULL,
		approval_date DATETIME,
		approved_by TEXT NOT NULL DEFAULT '',
		disbursement_date DATETIME,
		disbursed_amount TEXT NOT NULL DEFAULT '0',
		maturity_date DATETIME,
		status TEXT NOT NULL,
		outstanding_principal TEXT NOT NULL,
		outstanding_interest TEXT NOT NULL,
		total_outstanding TEXT NOT NULL,
		monthly_payment TEXT NOT NULL DEFAULT '0',
		first_payment_date DATETIME,
		next_payment_date DATETIME,
		last_payment_date DATETIME,
		days_past_due INTEGER NOT NULL DEFAULT 0,
		risk_rating TEXT NOT NULL,
		classification TEXT NOT NULL,
		provisioning_stage INTEGER NOT NULL,
		provision_rate TEXT NOT NULL,
		provision_amount TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(product_code) REFERENCES loan_products(code),
		FOREIGN KEY(customer_id) REFERENCES customers(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE INDEX IF NOT EXISTS idx_loans_risk_rating ON loans(risk_rating);
	CREATE TABLE IF NOT EXISTS installments (
		loan_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		opening_balance TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		total_payment TEXT NOT NULL,
		closing_balance TEXT NOT NULL,
		paid INTEGER NOT NULL DEFAULT 0,
		payment_date DATETIME,
		PRIMARY KEY(loan_id, installment_number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		payment_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		days_overdue INTEGER NOT NULL,
		late_fee TEXT NOT NULL,
		status TEXT NOT NULL,
		outstanding_amount TEXT NOT NULL,
		unapplied_amount TEXT NOT NULL DEFAULT '0',
		payment_method TEXT NOT NULL,
		transaction_reference TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_repayments_loan ON repayments(loan_id);
	CREATE TABLE IF NOT EXISTS outbox_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		available_at INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_jobs(status, available_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation checks if the error is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// WithTx runs fn inside a database transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx LoanTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- directory ----

// CreateCustomer inserts a customer into the directory.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, created_at) VALUES (?, ?, ?)`,
		c.ID, c.Name, c.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("customer %s: %w", c.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// UpsertProduct inserts or replaces a loan product by code.
func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *models.LoanProduct) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loan_products (code, name, minimum_amount, maximum_amount, minimum_term_months, maximum_term_months, interest_rate, repayment_frequency, penalty_rate, sharia_compliant, islamic_structure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			minimum_amount = excluded.minimum_amount,
			maximum_amount = excluded.maximum_amount,
			minimum_term_months = excluded.minimum_term_months,
			maximum_term_months = excluded.maximum_term_months,
			interest_rate = excluded.interest_rate,
			repayment_frequency = excluded.repayment_frequency,
			penalty_rate = excluded.penalty_rate,
			sharia_compliant = excluded.sharia_compliant,
			islamic_structure = excluded.islamic_structure`,
		p.Code, p.Name, p.MinimumAmount, p.MaximumAmount, p.MinimumTermMonths, p.MaximumTermMonths,
		p.InterestRate, p.RepaymentFrequency, p.PenaltyRate, p.ShariaCompliant, p.IslamicStructure,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.Code, err)
	}
	return nil
}

const productColumns = `code, name, minimum_amount, maximum_amount, minimum_term_months, maximum_term_months, interest_rate, repayment_frequency, penalty_rate, sharia_compliant, islamic_structure`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.LoanProduct, error) {
	var p models.LoanProduct
	err := row.Scan(&p.Code, &p.Name, &p.MinimumAmount, &p.MaximumAmount, &p.MinimumTermMonths, &p.MaximumTermMonths,
		&p.InterestRate, &p.RepaymentFrequency, &p.PenaltyRate, &p.ShariaCompliant, &p.IslamicStructure)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns every configured product ordered by code.
func (s *SQLiteStore) ListProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM loan_products ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.LoanProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProduct looks up a product by code.
func (q *sqlQueries) GetProduct(ctx context.Context, code string) (*models.LoanProduct, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM loan_products WHERE code = ?`, code)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// GetCustomer looks up a customer by id.
func (q *sqlQueries) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := q.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

// ---- loans ----

const loanColumns = `id, loan_number, product_code, customer_id, principal_amount, currency_code, interest_rate, profit_rate,
	sharia_compliant, islamic_structure, repayment_frequency, term_months, remaining_term_months,
	application_date, approval_date, approved_by, disbursement_date, disbursed_amount, maturity_date, status,
	outstanding_principal, outstanding_interest, total_outstanding, monthly_payment,
	first_payment_date, next_payment_date, last_payment_date,
	days_past_due, risk_rating, classification, provisioning_stage, provision_rate, provision_amount,
	created_at, updated_at`

func loanArgs(l *models.Loan) []any {
	return []any{
		l.ID, l.LoanNumber, l.ProductCode, l.CustomerID, l.PrincipalAmount, l.CurrencyCode, l.InterestRate, l.ProfitRate,
		l.ShariaCompliant, l.IslamicStructure, l.RepaymentFrequency, l.TermMonths, l.RemainingTermMonths,
		l.ApplicationDate.UTC(), utcPtr(l.ApprovalDate), l.ApprovedBy, utcPtr(l.DisbursementDate), l.DisbursedAmount, utcPtr(l.MaturityDate), l.Status,
		l.OutstandingPrincipal, l.OutstandingInterest, l.TotalOutstanding, l.MonthlyPayment,
		utcPtr(l.FirstPaymentDate), utcPtr(l.NextPaymentDate), utcPtr(l.LastPaymentDate),
		l.DaysPastDue, l.RiskRating, l.Classification, l.ProvisioningStage, l.ProvisionRate, l.ProvisionAmount,
		l.CreatedAt.UTC(), l.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var l models.Loan
	var approval, disbursement, maturity, first, next, last sql.NullTime
	err := row.Scan(
		&l.ID, &l.LoanNumber, &l.ProductCode, &l.CustomerID, &l.PrincipalAmount, &l.CurrencyCode, &l.InterestRate, &l.ProfitRate,
		&l.ShariaCompliant, &l.IslamicStructure, &l.RepaymentFrequency, &l.TermMonths, &l.RemainingTermMonths,
		&l.ApplicationDate, &approval, &l.ApprovedBy, &disbursement, &l.DisbursedAmount, &maturity, &l.Status,
		&l.OutstandingPrincipal, &l.OutstandingInterest, &l.TotalOutstanding, &l.MonthlyPayment,
		&first, &next, &last,
		&l.DaysPastDue, &l.RiskRating, &l.Classification, &l.ProvisioningStage, &l.ProvisionRate, &l.ProvisionAmount,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.ApprovalDate = timePtr(approval)
	l.DisbursementDate = timePtr(disbursement)
	l.MaturityDate = timePtr(maturity)
	l.FirstPaymentDate = timePtr(first)
	l.NextPaymentDate = timePtr(next)
	l.LastPaymentDate = timePtr(last)
	l.ApplicationDate = l.ApplicationDate.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// CreateLoan inserts a new loan into the database.
func (q *sqlQueries) CreateLoan(ctx context.Context, loan *models.Loan) error {
	args := loanArgs(loan)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (q *sqlQueries) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan rewrites every mutable column of an existing loan.
func (q *sqlQueries) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE loans SET
			remaining_term_months = ?, approval_date = ?, approved_by = ?, disbursement_date = ?, disbursed_amount = ?,
			maturity_date = ?, status = ?, outstanding_principal = ?, outstanding_interest = ?, total_outstanding = ?,
			monthly_payment = ?, first_payment_date = ?, next_payment_date = ?, last_payment_date = ?,
			days_past_due = ?, risk_rating = ?, classification = ?, provisioning_stage = ?, provision_rate = ?,
			provision_amount = ?, updated_at = ?
		WHERE id = ?`,
		loan.RemainingTermMonths, utcPtr(loan.ApprovalDate), loan.ApprovedBy, utcPtr(loan.DisbursementDate), loan.DisbursedAmount,
		utcPtr(loan.MaturityDate), loan.Status, loan.OutstandingPrincipal, loan.OutstandingInterest, loan.TotalOutstanding,
		loan.MonthlyPayment, utcPtr(loan.FirstPaymentDate), utcPtr(loan.NextPaymentDate), utcPtr(loan.LastPaymentDate),
		loan.DaysPastDue, loan.RiskRating, loan.Classification, loan.ProvisioningStage, loan.ProvisionRate,
		loan.ProvisionAmount, loan.UpdatedAt.UTC(),
		loan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
	}
	return nil
}

// ListLoans returns loans matching the filter, oldest application first.
func (s *SQLiteStore) ListLoans(ctx context.Context, f LoanFilter) ([]*models.Loan, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + loanColumns + ` FROM loans WHERE 1=1`)

	args := []any{}
	if len(f.Statuses) > 0 {
		b.WriteString(` AND status IN (`)
		for i, st := range f.Statuses {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, st)
		}
		b.WriteString(")")
	}
	if f.RiskRating != "" {
		b.WriteString(` AND risk_rating = ?`)
		args = append(args, f.RiskRating)
	}
	if f.CustomerID != "" {
		b.WriteString(` AND customer_id = ?`)
		args = append(args, f.CustomerID)
	}
	if f.MinDaysPastDue > 0 {
		b.WriteString(` AND days_past_due >= ?`)
		args = append(args, f.MinDaysPastDue)
	}
	b.WriteString(` ORDER BY application_date ASC, loan_number ASC`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	loans := []*models.Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// SumProvisionAmount totals provision_amount across all loans. The sum is
// done in Go because the column is TEXT.
func (s *SQLiteStore) SumProvisionAmount(ctx context.Context) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provision_amount FROM loans`)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum provisions: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan provision: %w", err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// ---- installments ----

// CreateInstallments inserts a whole schedule.
func (q *sqlQueries) CreateInstallments(ctx context.Context, installments []models.Installment) error {
	for _, inst := range installments {
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO installments (loan_id, installment_number, due_date, opening_balance, interest_amount, principal_amount, total_payment, closing_balance, paid, payment_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.LoanID, inst.Number, inst.DueDate.UTC(), inst.OpeningBalance, inst.InterestAmount, inst.PrincipalAmount,
			inst.TotalPayment, inst.ClosingBalance, inst.Paid, utcPtr(inst.PaymentDate),
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

// GetInstallments returns a loan's schedule ordered by installment number.
func (q *sqlQueries) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT loan_id, installment_number, due_date, opening_balance, interest_amount, principal_amount, total_payment, closing_balance, paid, payment_date
		FROM installments WHERE loan_id = ? ORDER BY installment_number ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var out []models.Installment
	for rows.Next() {
		var inst models.Installment
		var paidAt sql.NullTime
		if err := rows.Scan(&inst.LoanID, &inst.Number, &inst.DueDate, &inst.OpeningBalance, &inst.InterestAmount,
			&inst.PrincipalAmount, &inst.TotalPayment, &inst.ClosingBalance, &inst.Paid, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.DueDate = inst.DueDate.UTC()
		inst.PaymentDate = timePtr(paidAt)
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return out, nil
}

// MarkInstallmentPaid flips the paid flag. It is the only mutation an
// installment ever sees.
func (q *sqlQueries) MarkInstallmentPaid(ctx context.Context, loanID uuid.UUID, number int, paidAt time.Time) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE installments SET paid = 1, payment_date = ? WHERE loan_id = ? AND installment_number = ? AND paid = 0`,
		paidAt.UTC(), loanID, number,
	)
	if err != nil {
		return fmt.Errorf("failed to mark installment %d paid: %w", number, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("unpaid installment %d of loan %s: %w", number, loanID, ErrNotFound)
	}
	return nil
}

// ---- repayments ----

// CreateRepayment appends a repayment record.
func (q *sqlQueries) CreateRepayment(ctx context.Context, r *models.Repayment) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO repayments (id, loan_id, installment_number, payment_date, due_date, principal_amount, interest_amount, amount_paid, days_overdue, late_fee, status, outstanding_amount, unapplied_amount, payment_method, transaction_reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.LoanID, r.InstallmentNumber, r.PaymentDate.UTC(), r.DueDate.UTC(), r.PrincipalAmount, r.InterestAmount,
		r.AmountPaid, r.DaysOverdue, r.LateFee, r.Status, r.OutstandingAmount, r.UnappliedAmount, r.PaymentMethod, r.TransactionReference, r.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reference %s: %w", r.TransactionReference, ErrDuplicateReference)
		}
		return fmt.Errorf("failed to create repayment: %w", err)
	}
	return nil
}

// GetRepayments returns a loan's repayments in the order they were recorded.
func (q *sqlQueries) GetRepayments(ctx context.Context, loanID uuid.UUID) ([]models.Repayment, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, loan_id, installment_number, payment_date, due_date, principal_amount, interest_amount, amount_paid, days_overdue, late_fee, status, outstanding_amount, unapplied_amount, payment_method, transaction_reference, created_at
		FROM repayments WHERE loan_id = ? ORDER BY created_at ASC, rowid ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var out []models.Repayment
	for rows.Next() {
		var r models.Repayment
		if err := rows.Scan(&r.ID, &r.LoanID, &r.InstallmentNumber, &r.PaymentDate, &r.DueDate, &r.PrincipalAmount,
			&r.InterestAmount, &r.AmountPaid, &r.DaysOverdue, &r.LateFee, &r.Status, &r.OutstandingAmount,
			&r.UnappliedAmount, &r.PaymentMethod, &r.TransactionReference, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		r.PaymentDate = r.PaymentDate.UTC()
		r.DueDate = r.DueDate.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for repayments: %w", err)
	}
	return out, nil
}

// RepaymentReferenceExists reports whether a transaction reference was
// already applied.
func (q *sqlQueries) RepaymentReferenceExists(ctx context.Context, reference string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM repayments WHERE transaction_reference = ?`, reference).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up reference: %w", err)
	}
	return n > 0, nil
}

// ---- outbox ----

// EnqueueOutbox records a job for the outbox worker.
func (s *SQLiteStore) EnqueueOutbox(ctx context.Context, topic string, payload []byte) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_jobs (topic, payload, status, available_at, created_at) VALUES (?, ?, 'pending', ?, ?)`,
		topic, payload, now.Unix(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", topic, err)
	}
	return nil
}

// SetOutboxLease changes the claim lease. Non-positive values are ignored.
func (s *SQLiteStore) SetOutboxLease(d time.Duration) {
	if d > 0 {
		s.outboxLease = d
	}
}

// ClaimPendingOutbox moves up to limit due jobs to processing and returns
// them with their attempt counter already incremented. A claim holds the job
// for the outbox lease; a processing job whose lease ran out (its worker died
// before marking it) is claimed again.
func (s *SQLiteStore) ClaimPendingOutbox(ctx context.Context, limit int32) ([]OutboxJob, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()
	leaseUntil := now.Add(s.outboxLease).Unix()
	var jobs []OutboxJob
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, topic, payload, status, attempts, last_error, available_at
		FROM outbox_jobs WHERE status IN ('pending', 'processing') AND available_at <= ? ORDER BY id ASC LIMIT ?`,
		now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox jobs: %w", err)
	}
	for rows.Next() {
		var job OutboxJob
		var availableAt int64
		if err := rows.Scan(&job.ID, &job.Topic, &job.Payload, &job.Status, &job.Attempts, &job.LastError, &availableAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		job.AvailableAt = time.Unix(availableAt, 0).UTC()
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range jobs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox_jobs SET status = 'processing', attempts = attempts + 1, available_at = ? WHERE id = ?`,
			leaseUntil, jobs[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim outbox job %d: %w", jobs[i].ID, err)
		}
		jobs[i].Status = "processing"
		jobs[i].Attempts++
		jobs[i].AvailableAt = time.Unix(leaseUntil, 0).UTC()
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) MarkOutboxDone(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_jobs SET status = 'done', last_error = '' WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) MarkOutboxRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_jobs SET status = 'pending', available_at = ?, last_error = ? WHERE id = ?`,
		nextAvailableAt.UTC().Unix(), lastError, jobID)
	return err
}

func (s *SQLiteStore) MarkOutboxFailed(ctx context.Context, jobID int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_jobs SET status = 'failed', last_error = ? WHERE id = ?`, lastError, jobID)
	return err
}
