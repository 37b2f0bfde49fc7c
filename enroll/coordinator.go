/*
Package enroll exchanges credits for course access.

PURPOSE:
  The Coordinator is the one place in the system where the ledger is
  dangerous to get wrong: it must debit credits and commit an
  enrollment as a single observable unit, even though the two live in
  different storage aggregates.

FAILURE-RECOVERY STRATEGY: COMPENSATION
  debit-then-enroll cannot be a true two-phase commit across two
  aggregates. If the enrollment write fails after the debit succeeded,
  the coordinator issues a compensating refund transaction of the same
  magnitude and reports the purchase as failed. An observer at any
  quiescent point never sees a course-purchase debit without its
  enrollment.

SERIALIZATION:
  The duplicate-enrollment check and the enrollment write are
  serialized per (account, course) via a keyed mutex, so two concurrent
  requests cannot both pass the check before either writes. The
  enrollment store's uniqueness key is the durable backstop.

SEE ALSO:
  - catalog.go: course price view
  - ledger/ledger.go: Debit and Refund
*/
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/learnxtrade/credit-engine/ledger"
)

// ErrAlreadyEnrolled is returned when the (account, course) pair
// already has an enrollment. Enrolling twice is rejected, not ignored.
var ErrAlreadyEnrolled = errors.New("already enrolled in course")

// =============================================================================
// ENROLLMENT
// =============================================================================

// Enrollment records course access granted to an account.
// Unique per (AccountID, CourseID). Grade is filled in later by the
// course collaborator; it is nil at purchase time.
type Enrollment struct {
	AccountID ledger.AccountID
	CourseID  string
	Grade     *string
	CreatedAt time.Time
}

// EnrollmentStore persists enrollments.
type EnrollmentStore interface {
	// CreateEnrollment writes e, failing with ErrAlreadyEnrolled if the
	// (account, course) pair already exists. The uniqueness check must
	// be atomic with the write (uniqueness constraint, not read-then-write).
	CreateEnrollment(ctx context.Context, e Enrollment) error

	// GetEnrollment returns the enrollment, or nil if none exists.
	GetEnrollment(ctx context.Context, accountID ledger.AccountID, courseID string) (*Enrollment, error)

	// ListEnrollments returns the account's enrollments, oldest first.
	ListEnrollments(ctx context.Context, accountID ledger.AccountID) ([]Enrollment, error)
}

// =============================================================================
// COORDINATOR
// =============================================================================

// PurchaseResult is returned by a successful PurchaseCourse.
type PurchaseResult struct {
	Enrollment       Enrollment
	CreditsSpent     int64
	RemainingBalance int64
}

// Coordinator orchestrates "spend credits to enroll".
type Coordinator struct {
	ledger      *ledger.CreditLedger
	enrollments EnrollmentStore
	catalog     Catalog

	// Per-(account, course) purchase locks. Entries are never removed;
	// the key space is bounded by actual purchase attempts.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCoordinator(l *ledger.CreditLedger, enrollments EnrollmentStore, catalog Catalog) *Coordinator {
	return &Coordinator{
		ledger:      l,
		enrollments: enrollments,
		catalog:     catalog,
		locks:       make(map[string]*sync.Mutex),
	}
}

// PurchaseCourse validates eligibility, debits the course price, and
// commits the enrollment. On any failure the ledger and enrollment
// state remain mutually consistent.
func (c *Coordinator) PurchaseCourse(ctx context.Context, accountID ledger.AccountID, courseID string) (*PurchaseResult, error) {
	price, err := c.catalog.CreditPrice(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, fmt.Errorf("course %s: %w", courseID, ErrNotPurchasable)
	}

	unlock := c.lock(accountID, courseID)
	defer unlock()

	existing, err := c.enrollments.GetEnrollment(ctx, accountID, courseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("course %s: %w", courseID, ErrAlreadyEnrolled)
	}

	balance, err := c.ledger.Debit(ctx, accountID, price, "course purchase: "+courseID)
	if err != nil {
		// InsufficientBalance and friends propagate unchanged; nothing
		// was written.
		return nil, err
	}

	enrollment := Enrollment{
		AccountID: accountID,
		CourseID:  courseID,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.enrollments.CreateEnrollment(ctx, enrollment); err != nil {
		// The debit committed but the enrollment did not. Compensate so
		// the ledger never credits a purchase that produced no access.
		_, refundErr := c.ledger.Refund(ctx, accountID, price, "refund: course purchase failed: "+courseID)
		if refundErr != nil {
			// Both writes failed. Surface both; operators reconcile from
			// the transaction log.
			log.Printf("[enroll] COMPENSATION FAILED account=%s course=%s price=%d: %v", accountID, courseID, price, refundErr)
			return nil, fmt.Errorf("enrollment failed (%v) and compensation failed: %w", err, refundErr)
		}
		return nil, fmt.Errorf("enrollment failed, credits refunded: %w", err)
	}

	return &PurchaseResult{
		Enrollment:       enrollment,
		CreditsSpent:     price,
		RemainingBalance: balance,
	}, nil
}

// Enrollments returns the account's enrollments.
func (c *Coordinator) Enrollments(ctx context.Context, accountID ledger.AccountID) ([]Enrollment, error) {
	return c.enrollments.ListEnrollments(ctx, accountID)
}

// lock acquires the per-(account, course) mutex and returns the
// release function.
func (c *Coordinator) lock(accountID ledger.AccountID, courseID string) func() {
	key := string(accountID) + "\x00" + courseID

	c.mu.Lock()
	m, ok := c.locks[key]
	if !ok {
		m = &sync.Mutex{}
		c.locks[key] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}
