/*
handlers.go - HTTP handlers for the credit engine

PURPOSE:
  Exposes the credit ledger, payment gateway, and enrollment
  coordinator via REST. Handles HTTP request/response, JSON
  serialization, and delegates every decision to domain logic.

ENDPOINTS:
  POST /credit/purchase           Start a credit purchase (auth)
  POST /credit/complete-purchase  Processor confirmation callback (signed)
  POST /credit/purchase-course    Spend credits on a course (auth)
  GET  /credit/balance            Balance summary (auth)
  GET  /credit/transactions       Transaction history (auth)
  GET  /credit/enrollments        Enrollment list (auth)

REQUEST FLOW:
  1. Resolve the acting account (or verify the callback signature)
  2. Parse and validate input
  3. Call domain logic (ledger, gateway, coordinator)
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient balance, intent mismatch
  - 401: Unresolvable account or bad callback signature
  - 404: Unknown course or payment intent
  - 409: Duplicate enrollment, terminal intent
  - 502: Payment processor failure
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Account resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/learnxtrade/credit-engine/enroll"
	"github.com/learnxtrade/credit-engine/ledger"
	"github.com/learnxtrade/credit-engine/payment"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger      *ledger.CreditLedger
	Gateway     *payment.Gateway
	Coordinator *enroll.Coordinator
	Verifier    payment.Verifier
	Accounts    AccountResolver
}

// NewHandler creates a handler with the given collaborators.
func NewHandler(l *ledger.CreditLedger, g *payment.Gateway, c *enroll.Coordinator, v payment.Verifier, a AccountResolver) *Handler {
	if a == nil {
		a = HeaderResolver{}
	}
	if v == nil {
		v = payment.NoopVerifier{}
	}
	return &Handler{Ledger: l, Gateway: g, Coordinator: c, Verifier: v, Accounts: a}
}

// requireAccount resolves the acting account or writes 401.
func (h *Handler) requireAccount(w http.ResponseWriter, r *http.Request) (ledger.AccountID, bool) {
	accountID, err := h.Accounts.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return "", false
	}
	return accountID, true
}

// =============================================================================
// CREDIT PURCHASE
// =============================================================================

// PurchaseCredits creates a payment intent for the requested credit
// amount and returns the processor's payable link. No credits are
// granted here; that happens only on confirmation.
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req PurchaseCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Gateway.CreateIntent(r.Context(), accountID, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PurchaseCreditsDTO{
		PaymentID:   result.IntentID,
		PaymentLink: result.PayLink,
		Amount:      result.Credits,
		PriceQuote:  result.Quote.String(),
	})
}

// CompleteCreditPurchase handles the processor's confirmation callback.
// No session: the signature over the raw body is the authentication,
// and the stored intent is the source of truth for account and amount.
func (h *Handler) CompleteCreditPurchase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable request body", err)
		return
	}

	if err := h.Verifier.Verify(r, body); err != nil {
		writeError(w, http.StatusUnauthorized, "Callback verification failed", err)
		return
	}

	var req CompletePurchaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PaymentID == "" {
		writeError(w, http.StatusBadRequest, "paymentId is required", nil)
		return
	}

	result, err := h.Gateway.ConfirmIntent(r.Context(), req.PaymentID, "", ledger.AccountID(req.AccountID), req.CreditAmount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if result.Applied {
		creditsPurchased.Add(float64(result.Credits))
	} else {
		confirmReplays.Inc()
	}

	writeJSON(w, http.StatusOK, CompletePurchaseDTO{
		CreditsPurchased: result.Credits,
		TotalCredits:     result.Balance,
	})
}

// =============================================================================
// COURSE PURCHASE
// =============================================================================

// PurchaseCourse spends credits on a course enrollment atomically.
func (h *Handler) PurchaseCourse(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req PurchaseCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CourseID == "" {
		writeError(w, http.StatusBadRequest, "courseId is required", nil)
		return
	}

	result, err := h.Coordinator.PurchaseCourse(r.Context(), accountID, req.CourseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	creditsSpent.Add(float64(result.CreditsSpent))

	writeJSON(w, http.StatusOK, PurchaseCourseDTO{
		CourseID:         result.Enrollment.CourseID,
		CreditsSpent:     result.CreditsSpent,
		RemainingCredits: result.RemainingBalance,
	})
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

// GetBalance returns the account's balance summary. Unknown accounts
// report zero everywhere; the ledger has simply never seen them.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	summary, err := h.Ledger.Summary(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		Balance:        summary.Balance,
		TotalPurchased: summary.TotalPurchased,
		TotalSpent:     summary.TotalSpent,
	})
}

// GetTransactions returns the account's transaction history, oldest
// first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	txs, err := h.Ledger.Transactions(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:          string(tx.ID),
			Kind:        string(tx.Kind),
			Amount:      tx.Amount,
			Description: tx.Description,
			ExternalRef: tx.ExternalRef,
			CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": dtos})
}

// GetEnrollments returns the account's enrollments, oldest first.
func (h *Handler) GetEnrollments(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	enrollments, err := h.Coordinator.Enrollments(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get enrollments", err)
		return
	}

	dtos := make([]EnrollmentDTO, len(enrollments))
	for i, e := range enrollments {
		dtos[i] = EnrollmentDTO{
			CourseID:  e.CourseID,
			Grade:     e.Grade,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"enrollments": dtos})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid credit amount", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "Insufficient credit balance", err)
	case errors.Is(err, payment.ErrIntentMismatch):
		writeError(w, http.StatusBadRequest, "Callback does not match payment intent", err)
	case errors.Is(err, enroll.ErrNotPurchasable):
		writeError(w, http.StatusBadRequest, "Course cannot be purchased with credits", err)
	case errors.Is(err, enroll.ErrCourseNotFound):
		writeError(w, http.StatusNotFound, "Course not found", err)
	case errors.Is(err, payment.ErrIntentNotFound):
		writeError(w, http.StatusNotFound, "Payment intent not found", err)
	case errors.Is(err, enroll.ErrAlreadyEnrolled):
		writeError(w, http.StatusConflict, "Already enrolled in course", err)
	case errors.Is(err, payment.ErrIntentTerminal):
		writeError(w, http.StatusConflict, "Payment intent already settled", err)
	case errors.Is(err, payment.ErrGateway):
		writeError(w, http.StatusBadGateway, "Payment processor unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
