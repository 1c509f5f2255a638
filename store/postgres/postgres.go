/*
Package postgres provides a PostgreSQL implementation of incapacity.Store
on top of pgx.

CONCURRENCY:
  LockCase issues SELECT ... FOR UPDATE, so concurrent payments on the same
  case queue on the row lock while payments on different cases proceed in
  parallel. Money columns are NUMERIC(14,2) and cross the wire as text to
  keep decimal precision.

SEE ALSO:
  - store/sqlite/sqlite.go: Same schema on SQLite
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/incapacity-engine/incapacity"
)

// Store implements incapacity.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ incapacity.Store = (*Store)(nil)

// Config holds pool settings.
type Config struct {
	URL      string
	MaxConns int32
}

// New connects to PostgreSQL and creates the schema if needed.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return NewFromPool(ctx, pool)
}

// NewFromPool wraps an existing pool and migrates the schema.
func NewFromPool(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		case_type VARCHAR(2) NOT NULL,
		diagnosis_code VARCHAR(10) NOT NULL DEFAULT '',
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		days INTEGER NOT NULL CHECK (days >= 0),
		entity_name VARCHAR(100) NOT NULL DEFAULT '',
		ibc NUMERIC(14,2) NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'REPORTED',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cases_employee ON cases(employee_id);
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);

	CREATE TABLE IF NOT EXISTS payments (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		amount NUMERIC(14,2) NOT NULL CHECK (amount >= 0),
		payment_date DATE NOT NULL,
		reference VARCHAR(50) NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_case ON payments(case_id, seq);

	CREATE TABLE IF NOT EXISTS status_changes (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		previous_status VARCHAR(20) NOT NULL,
		new_status VARCHAR(20) NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		observation TEXT NOT NULL DEFAULT '',
		changed_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_status_changes_case ON status_changes(case_id, seq);
	`)
	return err
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// CASES
// =============================================================================

const caseColumns = `id, employee_id, case_type, diagnosis_code, start_date, end_date,
	days, entity_name, ibc::text, status, created_at, updated_at`

func (s *Store) CreateCase(ctx context.Context, c incapacity.LeaveCase) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cases (id, employee_id, case_type, diagnosis_code, start_date, end_date,
			days, entity_name, ibc, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12)
	`,
		string(c.ID), c.EmployeeID, string(c.Type), c.DiagnosisCode, c.StartDate, c.EndDate,
		c.Days, c.EntityName, c.IBC.String(), string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id incapacity.CaseID) (*incapacity.LeaveCase, error) {
	return getCase(ctx, s.pool, id, "")
}

func getCase(ctx context.Context, q dbtx, id incapacity.CaseID, suffix string) (*incapacity.LeaveCase, error) {
	row := q.QueryRow(ctx, "SELECT "+caseColumns+" FROM cases WHERE id = $1"+suffix, string(id))
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCases(ctx context.Context, filter incapacity.CaseFilter) ([]incapacity.LeaveCase, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		where = append(where, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := "SELECT " + caseColumns + " FROM cases"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *Store) DeleteCase(ctx context.Context, id incapacity.CaseID) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM cases WHERE id = $1", string(id))
	if err != nil {
		return false, fmt.Errorf("failed to delete case: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanCase(row pgx.Row) (incapacity.LeaveCase, error) {
	var (
		c                        incapacity.LeaveCase
		id, caseType, status, ib string
	)
	err := row.Scan(
		&id, &c.EmployeeID, &caseType, &c.DiagnosisCode, &c.StartDate, &c.EndDate,
		&c.Days, &c.EntityName, &ib, &status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.ID = incapacity.CaseID(id)
	c.Type = incapacity.CaseType(caseType)
	c.Status = incapacity.Status(status)
	c.IBC, err = decimal.NewFromString(ib)
	if err != nil {
		return c, fmt.Errorf("case %s: bad ibc %q: %w", id, ib, err)
	}
	return c, nil
}

// =============================================================================
// PAYMENTS AND HISTORY
// =============================================================================

func (s *Store) Payments(ctx context.Context, id incapacity.CaseID) ([]incapacity.PaymentRecord, error) {
	return loadPayments(ctx, s.pool, id)
}

func loadPayments(ctx context.Context, q dbtx, id incapacity.CaseID) ([]incapacity.PaymentRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT id, case_id, amount::text, payment_date, reference, created_by, created_at
		FROM payments
		WHERE case_id = $1
		ORDER BY seq ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []incapacity.PaymentRecord
	for rows.Next() {
		var (
			p              incapacity.PaymentRecord
			pid, cid, amnt string
		)
		if err := rows.Scan(&pid, &cid, &amnt, &p.PaymentDate, &p.Reference, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.ID = incapacity.PaymentID(pid)
		p.CaseID = incapacity.CaseID(cid)
		p.Amount, err = decimal.NewFromString(amnt)
		if err != nil {
			return nil, fmt.Errorf("payment %s: bad amount %q: %w", pid, amnt, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) History(ctx context.Context, id incapacity.CaseID) ([]incapacity.StatusChangeEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, previous_status, new_status, actor_id, observation, changed_at
		FROM status_changes
		WHERE case_id = $1
		ORDER BY seq ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var entries []incapacity.StatusChangeEntry
	for rows.Next() {
		var (
			e                    incapacity.StatusChangeEntry
			eid, cid, prev, next string
		)
		if err := rows.Scan(&eid, &cid, &prev, &next, &e.ActorID, &e.Observation, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		e.ID = incapacity.EntryID(eid)
		e.CaseID = incapacity.CaseID(cid)
		e.PreviousStatus = incapacity.Status(prev)
		e.NewStatus = incapacity.Status(next)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a READ COMMITTED transaction. Case rows are locked
// explicitly by LockCase.
func (s *Store) WithTx(ctx context.Context, fn func(tx incapacity.CaseTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) LockCase(ctx context.Context, id incapacity.CaseID) (*incapacity.LeaveCase, error) {
	return getCase(ctx, ts.tx, id, " FOR UPDATE")
}

func (ts *txStore) AppendPayment(ctx context.Context, p incapacity.PaymentRecord) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO payments (id, case_id, amount, payment_date, reference, created_by, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
	`,
		string(p.ID), string(p.CaseID), p.Amount.String(), p.PaymentDate,
		p.Reference, p.CreatedBy, p.CreatedAt,
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
	tag, err := ts.tx.Exec(ctx,
		"UPDATE cases SET status = $1, updated_at = $2 WHERE id = $3",
		string(status), at, string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &incapacity.NotFoundError{CaseID: id}
	}
	return nil
}

func (ts *txStore) AppendStatusChange(ctx context.Context, e incapacity.StatusChangeEntry) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO status_changes (id, case_id, previous_status, new_status, actor_id, observation, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		string(e.ID), string(e.CaseID), string(e.PreviousStatus), string(e.NewStatus),
		e.ActorID, e.Observation, e.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status change: %w", err)
	}
	return nil
}
