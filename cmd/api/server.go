package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanengine/pkg/ledger"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
)

// Server exposes the ledger over HTTP.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  *slog.Logger
}

func NewServer(l *ledger.Ledger, s store.Storage, logger *slog.Logger) *Server {
	return &Server{ledger: l, storage: s, logger: logger}
}

// Router registers every route on a new mux.Router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/overdue", s.overdueLoansHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/disburse", s.disburseLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/repayments", s.recordRepaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/repayments", s.listRepaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")
	router.HandleFunc("/provisions/total", s.totalProvisionHandler).Methods("GET")
	router.HandleFunc("/risk/reevaluate", s.reevaluateRiskHandler).Methods("POST")

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrLoanNotFound),
		errors.Is(err, ledger.ErrProductNotFound),
		errors.Is(err, ledger.ErrCustomerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAmountOutOfRange),
		errors.Is(err, ledger.ErrTermOutOfRange),
		errors.Is(err, ledger.ErrInvalidCurrency):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidRepayment),
		errors.Is(err, ledger.ErrApproverRequired):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInvalidStateTransition),
		errors.Is(err, ledger.ErrDuplicateRepayment),
		errors.Is(err, ledger.ErrNoPendingInstallment):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func loanIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid loan id"})
		return uuid.Nil, false
	}
	return loanID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.ApplicationInput
	if !decodeBody(w, r, &req) {
		return
	}

	loan, err := s.ledger.CreateLoanApplication(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromPath(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// listLoansHandler accepts status (comma separated), risk_rating and
// customer_id query filters.
func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.LoanFilter
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.LoanStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !status.Valid() {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + part})
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("risk_rating"); raw != "" {
		filter.RiskRating = models.RiskRating(strings.ToUpper(raw))
		if !filter.RiskRating.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown risk rating " + raw})
			return
		}
	}
	filter.CustomerID = q.Get("customer_id")

	loans, err := s.ledger.ListLoans(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) overdueLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetOverdueLoans(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromPath(w, r)
	if !ok {
		return
	}
	var req struct {
		ApproverID string `json:"approver_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	loan, err := s.ledger.ApproveLoan(r.Context(), loanID, req.ApproverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) disburseLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromPath(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	loan, err := s.ledger.DisburseLoan(r.Context(), loanID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) recordRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromPath(w, r)
	if !ok {
		return
	}
	var req ledger.RepaymentInput
	if !decodeBody(w, r, &req) {
		return
	}
	req.LoanID = loanID // Ensure ID from URL is used

	repayment, err := s.ledger.ProcessRepayment(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, repayment)
}

func (s *Server) listRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromPath(w, r)
	if !ok {
		return
	}

	repayments, err := s.ledger.GetRepayments(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if repayments == nil {
		repayments = []models.Repayment{}
	}
	writeJSON(w, http.StatusOK, repayments)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromPath(w, r)
	if !ok {
		return
	}

	schedule, err := s.ledger.GetSchedule(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if schedule == nil {
		schedule = []models.Installment{}
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) totalProvisionHandler(w http.ResponseWriter, r *http.Request) {
	total, err := s.ledger.GetTotalProvisionAmount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"total_provision_amount": total})
}

func (s *Server) reevaluateRiskHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.ReevaluateRisk(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
