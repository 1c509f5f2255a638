/*
Package sqlite provides a SQLite-backed implementation of incapacity.Store.

PURPOSE:
  Default durable store for leave cases, insurer payments and the status
  history. The same schema runs on PostgreSQL (see store/postgres) with
  minor dialect differences.

APPEND-ONLY ENFORCEMENT:
  payments and status_changes reject UPDATE through triggers. Rows only
  disappear through ON DELETE CASCADE when their case is deleted.

KEY TABLES:
  cases:          One row per reported leave; status is the only column
                  that changes after creation
  payments:       Immutable insurer payments
  status_changes: Append-only audit log

ORDERING:
  Both child tables carry an AUTOINCREMENT seq column. Insertion order is
  the chronological order shown in the audit trail.

CONCURRENCY:
  Transactions are opened with _txlock=immediate, so the write lock is
  taken at BEGIN and two payments on the same case can never interleave.
  A sync.RWMutex serializes access inside the process as well, and the pool
  is limited to one connection so ":memory:" databases are shared.

USAGE:
  store, err := sqlite.New("./data/incapacities.db")
  if err != nil {
      return err
  }
  defer store.Close()

  engine := incapacity.NewEngine(store)

SEE ALSO:
  - incapacity/store.go: Interface definitions
  - incapacity/store/memory.go: In-memory implementation for testing
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
	"github.com/warp/incapacity-engine/incapacity"
)

const dateLayout = "2006-01-02"

// Store implements incapacity.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ incapacity.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

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

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		case_type TEXT NOT NULL,
		diagnosis_code TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days INTEGER NOT NULL CHECK (days >= 0),
		entity_name TEXT NOT NULL DEFAULT '',
		ibc TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'REPORTED',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cases_employee ON cases(employee_id);
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
	CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at DESC);

	-- Insurer payments (append-only)
	CREATE TABLE IF NOT EXISTS payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		reference TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_case ON payments(case_id, seq);

	CREATE TRIGGER IF NOT EXISTS payments_append_only
	BEFORE UPDATE ON payments
	BEGIN
		SELECT RAISE(ABORT, 'payments are append-only');
	END;

	-- Status history (append-only)
	CREATE TABLE IF NOT EXISTS status_changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		previous_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		observation TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_changes_case ON status_changes(case_id, seq);

	CREATE TRIGGER IF NOT EXISTS status_changes_append_only
	BEFORE UPDATE ON status_changes
	BEGIN
		SELECT RAISE(ABORT, 'status history is append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CASES
// =============================================================================

const caseColumns = `id, employee_id, case_type, diagnosis_code, start_date, end_date,
	days, entity_name, ibc, status, created_at, updated_at`

// CreateCase inserts a new case.
func (s *Store) CreateCase(ctx context.Context, c incapacity.LeaveCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.EmployeeID, c.Type, c.DiagnosisCode,
		c.StartDate.Format(dateLayout), c.EndDate.Format(dateLayout),
		c.Days, c.EntityName, c.IBC.String(), c.Status,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

// GetCase retrieves a case by ID. Returns nil if it does not exist.
func (s *Store) GetCase(ctx context.Context, id incapacity.CaseID) (*incapacity.LeaveCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getCase(ctx, s.db, id)
}

func getCase(ctx context.Context, q queryer, id incapacity.CaseID) (*incapacity.LeaveCase, error) {
	row := q.QueryRowContext(ctx, "SELECT "+caseColumns+" FROM cases WHERE id = ?", id)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCases returns cases matching the filter, newest first.
func (s *Store) ListCases(ctx context.Context, filter incapacity.CaseFilter) ([]incapacity.LeaveCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + caseColumns + " FROM cases"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	var cases []incapacity.LeaveCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// DeleteCase removes a case; payments and history follow by cascade.
func (s *Store) DeleteCase(ctx context.Context, id incapacity.CaseID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM cases WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete case: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (incapacity.LeaveCase, error) {
	var (
		c                    incapacity.LeaveCase
		startDate, endDate   string
		ibc                  string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&c.ID, &c.EmployeeID, &c.Type, &c.DiagnosisCode, &startDate, &endDate,
		&c.Days, &c.EntityName, &ibc, &c.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		return c, err
	}

	if c.StartDate, err = time.Parse(dateLayout, startDate); err != nil {
		return c, fmt.Errorf("case %s: bad start_date %q: %w", c.ID, startDate, err)
	}
	if c.EndDate, err = time.Parse(dateLayout, endDate); err != nil {
		return c, fmt.Errorf("case %s: bad end_date %q: %w", c.ID, endDate, err)
	}
	c.IBC, err = decimal.NewFromString(ibc)
	if err != nil {
		return c, fmt.Errorf("case %s: bad ibc %q: %w", c.ID, ibc, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, fmt.Errorf("case %s: bad created_at %q: %w", c.ID, createdAt, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, fmt.Errorf("case %s: bad updated_at %q: %w", c.ID, updatedAt, err)
	}
	return c, nil
}

// =============================================================================
// PAYMENTS AND HISTORY (read side)
// =============================================================================

// Payments returns a case's payments in insertion order.
func (s *Store) Payments(ctx context.Context, id incapacity.CaseID) ([]incapacity.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadPayments(ctx, s.db, id)
}

func loadPayments(ctx context.Context, q queryer, id incapacity.CaseID) ([]incapacity.PaymentRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, case_id, amount, payment_date, reference, created_by, created_at
		FROM payments
		WHERE case_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []incapacity.PaymentRecord
	for rows.Next() {
		var (
			p           incapacity.PaymentRecord
			amount      string
			paymentDate string
			createdAt   string
		)
		if err := rows.Scan(&p.ID, &p.CaseID, &amount, &paymentDate, &p.Reference, &p.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("payment %s: bad amount %q: %w", p.ID, amount, err)
		}
		if p.PaymentDate, err = time.Parse(dateLayout, paymentDate); err != nil {
			return nil, fmt.Errorf("payment %s: bad payment_date %q: %w", p.ID, paymentDate, err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("payment %s: bad created_at %q: %w", p.ID, createdAt, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// History returns a case's status entries in insertion order.
func (s *Store) History(ctx context.Context, id incapacity.CaseID) ([]incapacity.StatusChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, previous_status, new_status, actor_id, observation, changed_at
		FROM status_changes
		WHERE case_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var entries []incapacity.StatusChangeEntry
	for rows.Next() {
		var (
			e         incapacity.StatusChangeEntry
			changedAt string
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.PreviousStatus, &e.NewStatus, &e.ActorID, &e.Observation, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		if e.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, fmt.Errorf("status change %s: bad changed_at %q: %w", e.ID, changedAt, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx incapacity.CaseTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

// LockCase reads the case inside the immediate transaction. The database
// write lock is already held, so no further locking is needed.
func (ts *txStore) LockCase(ctx context.Context, id incapacity.CaseID) (*incapacity.LeaveCase, error) {
	return getCase(ctx, ts.tx, id)
}

func (ts *txStore) AppendPayment(ctx context.Context, p incapacity.PaymentRecord) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO payments (id, case_id, amount, payment_date, reference, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.CaseID, p.Amount.String(), p.PaymentDate.Format(dateLayout),
		p.Reference, p.CreatedBy, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (ts *txStore) Payments(ctx context.Context, id incapacity.CaseID) ([]incapacity.PaymentRecord, error) {
	return loadPayments(ctx, ts.tx, id)
}

func (ts *txStore) UpdateStatus(ctx context.Context, id incapacity.CaseID, status incapacity.Status, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE cases SET status = ?, updated_at = ? WHERE id = ?",
		status, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &incapacity.NotFoundError{CaseID: id}
	}
	return nil
}

func (ts *txStore) AppendStatusChange(ctx context.Context, e incapacity.StatusChangeEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO status_changes (id, case_id, previous_status, new_status, actor_id, observation, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.CaseID, e.PreviousStatus, e.NewStatus, e.ActorID, e.Observation, formatTime(e.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert status change: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout keeps every timestamp the same width so text ordering in
// ORDER BY created_at matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
