package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/loanengine/pkg/ledger"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *mux.Router {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateCustomer(ctx, &models.Customer{ID: "test_cust", Name: "Test Customer", CreatedAt: time.Now()}))
	require.NoError(t, s.UpsertProduct(ctx, &models.LoanProduct{
		Code:               "PL-STD",
		Name:               "Personal loan",
		MinimumAmount:      decimal.NewFromInt(1000),
		MaximumAmount:      decimal.NewFromInt(500000),
		MinimumTermMonths:  6,
		MaximumTermMonths:  60,
		InterestRate:       decimal.NewFromInt(12),
		RepaymentFrequency: models.FrequencyMonthly,
		PenaltyRate:        decimal.RequireFromString("0.24"),
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.NewLedger(s, ledger.WithLogger(logger))
	return NewServer(l, s, logger).Router()
}

func do(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func createLoan(t *testing.T, router *mux.Router) models.Loan {
	t.Helper()
	rr := do(t, router, "POST", "/loans", map[string]any{
		"customer_id":   "test_cust",
		"product_code":  "PL-STD",
		"amount":        "120000",
		"term_months":   12,
		"currency_code": "USD",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var loan models.Loan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &loan))
	return loan
}

func TestAPI_LoanLifecycle(t *testing.T) {
	router := setupTestServer(t)
	loan := createLoan(t, router)
	assert.Equal(t, models.LoanStatusApplied, loan.Status)

	rr := do(t, router, "GET", "/loans/"+loan.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched models.Loan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, loan.ID, fetched.ID)
	assert.Equal(t, loan.LoanNumber, fetched.LoanNumber)

	rr = do(t, router, "POST", "/loans/"+loan.ID.String()+"/disburse", map[string]any{"amount": "120000"})
	assert.Equal(t, http.StatusConflict, rr.Code, "disbursing before approval")

	rr = do(t, router, "POST", "/loans/"+loan.ID.String()+"/approve", map[string]any{"approver_id": "officer-1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var approved models.Loan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &approved))
	assert.True(t, approved.MonthlyPayment.Equal(decimal.RequireFromString("10661.85")), "got %s", approved.MonthlyPayment)

	rr = do(t, router, "GET", "/loans/"+loan.ID.String()+"/schedule", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var schedule []models.Installment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &schedule))
	require.Len(t, schedule, 12)
	assert.True(t, schedule[11].ClosingBalance.IsZero())

	rr = do(t, router, "POST", "/loans/"+loan.ID.String()+"/disburse", map[string]any{"amount": "120000"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	payment := map[string]any{
		"amount":                schedule[0].TotalPayment.String(),
		"payment_method":        "BANK_TRANSFER",
		"transaction_reference": "TXN-API-1",
	}
	rr = do(t, router, "POST", "/loans/"+loan.ID.String()+"/repayments", payment)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var repayment models.Repayment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &repayment))
	assert.Equal(t, models.PaymentStatusPaid, repayment.Status)
	assert.Equal(t, 1, repayment.InstallmentNumber)

	rr = do(t, router, "POST", "/loans/"+loan.ID.String()+"/repayments", payment)
	assert.Equal(t, http.StatusConflict, rr.Code, "duplicate reference")

	rr = do(t, router, "GET", "/loans/"+loan.ID.String()+"/repayments", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var repayments []models.Repayment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &repayments))
	assert.Len(t, repayments, 1)

	rr = do(t, router, "GET", "/loans?status=active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var active []models.Loan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, 11, active[0].RemainingTermMonths)
}

func TestAPI_Errors(t *testing.T) {
	router := setupTestServer(t)

	rr := do(t, router, "GET", "/loans/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", "/loans/6a1c4f0e-9b1d-4e55-a0a4-2d0d7a0f3b11", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, "POST", "/loans", map[string]any{
		"customer_id": "test_cust", "product_code": "PL-STD", "amount": "10", "term_months": 12, "currency_code": "USD",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, "POST", "/loans", map[string]any{
		"customer_id": "nobody", "product_code": "PL-STD", "amount": "5000", "term_months": 12, "currency_code": "USD",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest("POST", "/loans", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	loan := createLoan(t, router)
	rr = do(t, router, "POST", "/loans/"+loan.ID.String()+"/approve", map[string]any{"approver_id": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", "/loans?status=PENDING", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_PortfolioQueries(t *testing.T) {
	router := setupTestServer(t)
	createLoan(t, router)

	rr := do(t, router, "GET", "/loans/overdue", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var overdue []models.Loan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &overdue))
	assert.Empty(t, overdue)

	rr = do(t, router, "GET", "/provisions/total", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var total map[string]decimal.Decimal
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &total))
	assert.True(t, total["total_provision_amount"].IsZero())

	rr = do(t, router, "POST", "/risk/reevaluate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary ledger.ReevaluationSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, ledger.ReevaluationSummary{}, summary, "no active loans yet")
}
