/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store, payment.IntentStore, and
  enroll.EnrollmentStore over a single SQLite database. In production
  the same patterns apply to PostgreSQL - only minor dialect
  differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements touch the transactions table
  - No DELETE statements exist for transactions or payment_references
  - Corrections happen via refund transactions only

KEY TABLES:
  accounts:           Cached balance + optimistic version per buyer
  transactions:       Immutable ledger of all balance changes
  payment_references: Permanent idempotency claims for payment ids
  payment_intents:    Payment intent state machine records
  enrollments:        Course access, unique per (account, course)

ATOMICITY:
  Apply runs inside one SQL transaction: reference claim, balance
  check, transaction insert, balance update. No partial write is ever
  observable. A write mutex serializes mutations on top of SQLite's
  single-writer model.

CONSTRAINTS DOING THE HEAVY LIFTING:
  - payment_references PRIMARY KEY: the idempotency check-and-set
  - transactions.external_ref UNIQUE: backstop for the same invariant
  - enrollments PRIMARY KEY (account_id, course_id): exactly-once
    enrollment even if a second process bypasses the keyed mutex
  - accounts.balance CHECK (balance >= 0): last line of defense for
    the non-negative invariant

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  creditLedger := ledger.New(store)

SEE ALSO:
  - ledger/store.go: the Apply contract this implements
  - store/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/learnxtrade/credit-engine/enroll"
	"github.com/learnxtrade/credit-engine/ledger"
	"github.com/learnxtrade/credit-engine/payment"
)

// timeLayout is fixed-width (zero-padded fraction, UTC) so that
// lexicographic ORDER BY and < comparisons on timestamp columns match
// chronological order. RFC3339Nano trims trailing fraction zeros and
// is documented as unsortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts: cached balance, derived from transactions
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		description TEXT,
		external_ref TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_kind
		ON transactions(kind);

	-- Permanent idempotency claims for external payment references.
	-- The PRIMARY KEY is the atomic check-and-set; rows are never deleted.
	CREATE TABLE IF NOT EXISTS payment_references (
		external_ref TEXT PRIMARY KEY,
		claimed_at TEXT NOT NULL
	);

	-- Payment intents
	CREATE TABLE IF NOT EXISTS payment_intents (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		credits INTEGER NOT NULL CHECK (credits > 0),
		quote TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		external_ref TEXT,
		pay_link TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intents_account
		ON payment_intents(account_id);
	CREATE INDEX IF NOT EXISTS idx_intents_status
		ON payment_intents(status, created_at);

	-- Enrollments: exactly one per (account, course)
	CREATE TABLE IF NOT EXISTS enrollments (
		account_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		grade TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (account_id, course_id)
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_account
		ON enrollments(account_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Apply atomically claims the reference (if any), checks the balance,
// appends the transaction and updates the cached balance - all in one
// SQL transaction.
func (s *Store) Apply(ctx context.Context, tx ledger.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(timeLayout)

	if tx.ExternalRef != "" {
		_, err := sqlTx.ExecContext(ctx,
			`INSERT INTO payment_references (external_ref, claimed_at) VALUES (?, ?)`,
			tx.ExternalRef, now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return 0, fmt.Errorf("reference %s: %w", tx.ExternalRef, ledger.ErrDuplicateReference)
			}
			return 0, fmt.Errorf("failed to claim reference: %w", err)
		}
	}

	// Accounts are created lazily with balance 0.
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (id, balance, version, created_at, updated_at) VALUES (?, 0, 0, ?, ?)`,
		tx.AccountID, now, now,
	); err != nil {
		return 0, fmt.Errorf("failed to ensure account: %w", err)
	}

	var balance int64
	if err := sqlTx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = ?`, tx.AccountID,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	next := balance + tx.Signed()
	if next < 0 {
		return 0, &ledger.InsufficientBalanceError{
			AccountID: tx.AccountID,
			Available: balance,
			Requested: tx.Amount,
		}
	}

	if _, err := sqlTx.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, kind, amount, description, external_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Kind, tx.Amount, tx.Description,
		nullString(tx.ExternalRef), tx.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("reference %s: %w", tx.ExternalRef, ledger.ErrDuplicateReference)
		}
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		next, now, tx.AccountID,
	); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return next, nil
}

// Balance returns the cached balance; 0 for unknown accounts.
func (s *Store) Balance(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = ?`, accountID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// Summary derives running totals from the transaction log.
func (s *Store) Summary(ctx context.Context, accountID ledger.AccountID) (ledger.AccountSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := ledger.AccountSummary{AccountID: accountID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'spend' THEN -amount ELSE amount END), 0),
			COALESCE(SUM(CASE WHEN kind != 'spend' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'spend' THEN amount ELSE 0 END), 0)
		FROM transactions WHERE account_id = ?`, accountID,
	).Scan(&summary.Balance, &summary.TotalPurchased, &summary.TotalSpent)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize account: %w", err)
	}
	return summary, nil
}

// Transactions returns the account's ledger entries, oldest first.
func (s *Store) Transactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, description, external_ref, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY created_at ASC, id ASC`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			tx          ledger.Transaction
			description sql.NullString
			externalRef sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Kind, &tx.Amount,
			&description, &externalRef, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Description = description.String
		tx.ExternalRef = externalRef.String
		tx.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// ClaimReference records the reference; true only for the first caller.
func (s *Store) ClaimReference(ctx context.Context, externalRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_references (external_ref, claimed_at) VALUES (?, ?)`,
		externalRef, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim reference: %w", err)
	}
	return true, nil
}

// =============================================================================
// INTENT STORE (payment.IntentStore interface)
// =============================================================================

func (s *Store) SaveIntent(ctx context.Context, intent payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents
		(id, account_id, credits, quote, status, external_ref, pay_link, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID, intent.AccountID, intent.Credits, intent.Quote.String(),
		intent.Status, nullString(intent.ExternalRef), nullString(intent.PayLink),
		intent.CreatedAt.UTC().Format(timeLayout),
		intent.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, credits, quote, status, external_ref, pay_link, created_at, updated_at
		FROM payment_intents WHERE id = ?`, id,
	)

	intent, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// TransitionIntent performs the status compare-and-set.
func (s *Store) TransitionIntent(ctx context.Context, id string, from, to payment.IntentStatus, externalRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = ?,
		    external_ref = COALESCE(NULLIF(?, ''), external_ref),
		    updated_at = ?
		WHERE id = ? AND status = ?`,
		to, externalRef, time.Now().UTC().Format(timeLayout), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition intent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) StaleIntents(ctx context.Context, cutoff time.Time) ([]payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, credits, quote, status, external_ref, pay_link, created_at, updated_at
		FROM payment_intents
		WHERE status = 'created' AND created_at < ?
		ORDER BY created_at ASC`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale intents: %w", err)
	}
	defer rows.Close()

	var intents []payment.Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *intent)
	}
	return intents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*payment.Intent, error) {
	var (
		intent      payment.Intent
		quote       string
		externalRef sql.NullString
		payLink     sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&intent.ID, &intent.AccountID, &intent.Credits, &quote,
		&intent.Status, &externalRef, &payLink, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	intent.Quote, err = decimal.NewFromString(quote)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quote %q: %w", quote, err)
	}
	intent.ExternalRef = externalRef.String
	intent.PayLink = payLink.String
	intent.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	intent.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &intent, nil
}

// =============================================================================
// ENROLLMENT STORE (enroll.EnrollmentStore interface)
// =============================================================================

func (s *Store) CreateEnrollment(ctx context.Context, e enroll.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var grade sql.NullString
	if e.Grade != nil {
		grade = sql.NullString{String: *e.Grade, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (account_id, course_id, grade, created_at)
		VALUES (?, ?, ?, ?)`,
		e.AccountID, e.CourseID, grade, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("course %s: %w", e.CourseID, enroll.ErrAlreadyEnrolled)
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

func (s *Store) GetEnrollment(ctx context.Context, accountID ledger.AccountID, courseID string) (*enroll.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		e         enroll.Enrollment
		grade     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, course_id, grade, created_at
		FROM enrollments WHERE account_id = ? AND course_id = ?`,
		accountID, courseID,
	).Scan(&e.AccountID, &e.CourseID, &grade, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}

	if grade.Valid {
		e.Grade = &grade.String
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &e, nil
}

func (s *Store) ListEnrollments(ctx context.Context, accountID ledger.AccountID) ([]enroll.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, course_id, grade, created_at
		FROM enrollments WHERE account_id = ?
		ORDER BY created_at ASC, course_id ASC`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []enroll.Enrollment
	for rows.Next() {
		var (
			e         enroll.Enrollment
			grade     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.AccountID, &e.CourseID, &grade, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		if grade.Valid {
			e.Grade = &grade.String
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
