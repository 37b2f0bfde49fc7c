/*
Package memory provides an in-memory implementation of the storage
interfaces (ledger.Store, payment.IntentStore, enroll.EnrollmentStore)
for testing and development.

A single mutex serializes every mutation, which trivially satisfies the
atomicity contracts: the balance check, the reference claim, the append
and the balance update all happen under one critical section.
*/
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/learnxtrade/credit-engine/enroll"
	"github.com/learnxtrade/credit-engine/ledger"
	"github.com/learnxtrade/credit-engine/payment"
)

// Store implements all storage interfaces in memory.
type Store struct {
	mu           sync.RWMutex
	balances     map[ledger.AccountID]int64
	transactions map[ledger.AccountID][]ledger.Transaction
	references   map[string]bool
	intents      map[string]payment.Intent
	enrollments  map[enrollKey]enroll.Enrollment
	enrollOrder  map[ledger.AccountID][]string // course ids in insertion order
}

type enrollKey struct {
	AccountID ledger.AccountID
	CourseID  string
}

func New() *Store {
	return &Store{
		balances:     make(map[ledger.AccountID]int64),
		transactions: make(map[ledger.AccountID][]ledger.Transaction),
		references:   make(map[string]bool),
		intents:      make(map[string]payment.Intent),
		enrollments:  make(map[enrollKey]enroll.Enrollment),
		enrollOrder:  make(map[ledger.AccountID][]string),
	}
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) Apply(_ context.Context, tx ledger.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ExternalRef != "" && s.references[tx.ExternalRef] {
		return 0, fmt.Errorf("reference %s: %w", tx.ExternalRef, ledger.ErrDuplicateReference)
	}

	balance := s.balances[tx.AccountID]
	next := balance + tx.Signed()
	if next < 0 {
		return 0, &ledger.InsufficientBalanceError{
			AccountID: tx.AccountID,
			Available: balance,
			Requested: tx.Amount,
		}
	}

	if tx.ExternalRef != "" {
		s.references[tx.ExternalRef] = true
	}
	s.transactions[tx.AccountID] = append(s.transactions[tx.AccountID], tx)
	s.balances[tx.AccountID] = next
	return next, nil
}

func (s *Store) Balance(_ context.Context, accountID ledger.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[accountID], nil
}

func (s *Store) Summary(_ context.Context, accountID ledger.AccountID) (ledger.AccountSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := ledger.AccountSummary{AccountID: accountID, Balance: s.balances[accountID]}
	for _, tx := range s.transactions[accountID] {
		switch tx.Kind {
		case ledger.TxSpend:
			summary.TotalSpent += tx.Amount
		default:
			summary.TotalPurchased += tx.Amount
		}
	}
	return summary, nil
}

func (s *Store) Transactions(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Transaction, len(s.transactions[accountID]))
	copy(result, s.transactions[accountID])
	return result, nil
}

func (s *Store) ClaimReference(_ context.Context, externalRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.references[externalRef] {
		return false, nil
	}
	s.references[externalRef] = true
	return true, nil
}

// =============================================================================
// INTENT STORE (payment.IntentStore interface)
// =============================================================================

func (s *Store) SaveIntent(_ context.Context, intent payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ID] = intent
	return nil
}

func (s *Store) GetIntent(_ context.Context, id string) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, nil
	}
	cp := intent
	return &cp, nil
}

func (s *Store) TransitionIntent(_ context.Context, id string, from, to payment.IntentStatus, externalRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return false, fmt.Errorf("intent %s: %w", id, payment.ErrIntentNotFound)
	}
	if intent.Status != from {
		return false, nil
	}
	intent.Status = to
	if externalRef != "" {
		intent.ExternalRef = externalRef
	}
	intent.UpdatedAt = time.Now().UTC()
	s.intents[id] = intent
	return true, nil
}

func (s *Store) StaleIntents(_ context.Context, cutoff time.Time) ([]payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []payment.Intent
	for _, intent := range s.intents {
		if intent.Status == payment.IntentCreated && intent.CreatedAt.Before(cutoff) {
			stale = append(stale, intent)
		}
	}
	return stale, nil
}

// =============================================================================
// ENROLLMENT STORE (enroll.EnrollmentStore interface)
// =============================================================================

func (s *Store) CreateEnrollment(_ context.Context, e enroll.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := enrollKey{AccountID: e.AccountID, CourseID: e.CourseID}
	if _, exists := s.enrollments[k]; exists {
		return fmt.Errorf("course %s: %w", e.CourseID, enroll.ErrAlreadyEnrolled)
	}
	s.enrollments[k] = e
	s.enrollOrder[e.AccountID] = append(s.enrollOrder[e.AccountID], e.CourseID)
	return nil
}

func (s *Store) GetEnrollment(_ context.Context, accountID ledger.AccountID, courseID string) (*enroll.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.enrollments[enrollKey{AccountID: accountID, CourseID: courseID}]
	if !ok {
		return nil, nil
	}
	cp := e
	return &cp, nil
}

func (s *Store) ListEnrollments(_ context.Context, accountID ledger.AccountID) ([]enroll.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	courses := s.enrollOrder[accountID]
	result := make([]enroll.Enrollment, 0, len(courses))
	for _, courseID := range courses {
		result = append(result, s.enrollments[enrollKey{AccountID: accountID, CourseID: courseID}])
	}
	return result, nil
}
