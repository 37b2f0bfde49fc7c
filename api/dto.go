/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// PurchaseCreditsRequest starts a credit purchase.
type PurchaseCreditsRequest struct {
	Amount int64 `json:"amount"`
}

// PurchaseCreditsDTO is the payment-intent response.
type PurchaseCreditsDTO struct {
	PaymentID   string `json:"paymentId"`
	PaymentLink string `json:"paymentLink"`
	Amount      int64  `json:"amount"`
	PriceQuote  string `json:"priceQuote"`
}

// CompletePurchaseRequest is the processor's confirmation callback.
// AccountID and CreditAmount are accepted for wire compatibility but
// validated against the stored intent, which is authoritative.
type CompletePurchaseRequest struct {
	PaymentID    string `json:"paymentId"`
	AccountID    string `json:"accountId"`
	CreditAmount int64  `json:"creditAmount"`
}

// CompletePurchaseDTO reports the applied credit.
type CompletePurchaseDTO struct {
	CreditsPurchased int64 `json:"creditsPurchased"`
	TotalCredits     int64 `json:"totalCredits"`
}

// PurchaseCourseRequest spends credits on a course.
type PurchaseCourseRequest struct {
	CourseID string `json:"courseId"`
}

// PurchaseCourseDTO reports the committed purchase.
type PurchaseCourseDTO struct {
	CourseID         string `json:"courseId"`
	CreditsSpent     int64  `json:"creditsSpent"`
	RemainingCredits int64  `json:"remainingCredits"`
}

// BalanceDTO is the account's credit summary.
type BalanceDTO struct {
	Balance        int64 `json:"balance"`
	TotalPurchased int64 `json:"totalPurchased"`
	TotalSpent     int64 `json:"totalSpent"`
}

// TransactionDTO is one ledger entry in history responses.
type TransactionDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	ExternalRef string `json:"externalRef,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// EnrollmentDTO is one course enrollment.
type EnrollmentDTO struct {
	CourseID  string  `json:"courseId"`
	Grade     *string `json:"grade"`
	CreatedAt string  `json:"createdAt"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
