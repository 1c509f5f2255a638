/*
store.go - Persistence interface for cases, payments and status history

PURPOSE:
  Defines the interface between the engine and the database. Payments and
  status entries are append-only; the only mutable column is the case
  status, and it only changes inside a transaction that also appends the
  matching StatusChangeEntry.

KEY INTERFACES:
  Store:  Case registration and read-only queries, plus WithTx
  CaseTx: Operations available inside a transaction, starting with
          LockCase, which takes the row lock on the case

LOCKING:
  LockCase must serialize concurrent transactions on the same case until
  commit or rollback. Two payments racing to close the same case must see
  each other's writes, never both observe a non-PAID status.

IMPLEMENTATIONS:
  - incapacity/store/memory.go: In-memory (tests, dev)
  - store/sqlite/sqlite.go:     SQLite, immediate write transactions
  - store/postgres/postgres.go: PostgreSQL, SELECT ... FOR UPDATE
*/
package incapacity

import (
	"context"
	"time"
)

// CaseFilter narrows ListCases. Zero values match everything.
type CaseFilter struct {
	EmployeeID string
	Status     Status
}

func (f CaseFilter) Matches(c LeaveCase) bool {
	if f.EmployeeID != "" && c.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// Store persists leave cases and their append-only children.
type Store interface {
	// CreateCase inserts a new case.
	CreateCase(ctx context.Context, c LeaveCase) error

	// GetCase returns the case, or nil if it does not exist.
	GetCase(ctx context.Context, id CaseID) (*LeaveCase, error)

	// ListCases returns cases matching the filter, newest first.
	ListCases(ctx context.Context, filter CaseFilter) ([]LeaveCase, error)

	// DeleteCase removes a case together with its payments and history.
	// Returns false if the case did not exist.
	DeleteCase(ctx context.Context, id CaseID) (bool, error)

	// Payments returns the case's payments in insertion order.
	Payments(ctx context.Context, id CaseID) ([]PaymentRecord, error)

	// History returns the case's status entries in insertion order.
	History(ctx context.Context, id CaseID) ([]StatusChangeEntry, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx CaseTx) error) error
}

// CaseTx is the transactional view handed to WithTx callbacks.
type CaseTx interface {
	// LockCase loads the case and locks it until the transaction ends.
	// Returns nil if the case does not exist.
	LockCase(ctx context.Context, id CaseID) (*LeaveCase, error)

	AppendPayment(ctx context.Context, p PaymentRecord) error
	Payments(ctx context.Context, id CaseID) ([]PaymentRecord, error)
	UpdateStatus(ctx context.Context, id CaseID, status Status, at time.Time) error
	AppendStatusChange(ctx context.Context, e StatusChangeEntry) error
}
