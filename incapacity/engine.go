/*
engine.go - Reconciliation, auto-closure and status workflow

PURPOSE:
  The Engine is the only writer of case status. It records insurer
  payments, recomputes the expected-vs-paid balance and closes the case
  (PAID) once the balance is covered. Manual status changes go through it
  too, so every status change leaves a StatusChangeEntry behind.

ATOMICITY:
  Recording a payment, recomputing the balance, updating the status and
  appending the audit entry all happen inside one Store.WithTx call that
  holds the case lock. If any step fails nothing is written.

IDEMPOTENT CLOSURE:
  A case already in PAID is never closed again: later overpayments are
  recorded but produce no new StatusChangeEntry.

SEE ALSO:
  - calculator.go: ExpectedForCase
  - store.go: Store / CaseTx
  - transitions.go: Allowed-transition table for strict mode
*/
package incapacity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// OBSERVER - Post-commit notifications (metrics)
// =============================================================================

// Observer is notified after a write has been committed.
type Observer interface {
	PaymentRecorded(c LeaveCase, p PaymentRecord)
	PaymentRejected(c LeaveCase)
	CaseAutoClosed(c LeaveCase, e StatusChangeEntry)
	StatusChanged(e StatusChangeEntry)
}

type nopObserver struct{}

func (nopObserver) PaymentRecorded(LeaveCase, PaymentRecord) {}
func (nopObserver) PaymentRejected(LeaveCase) {}
func (nopObserver) CaseAutoClosed(LeaveCase, StatusChangeEntry) {}
func (nopObserver) StatusChanged(StatusChangeEntry) {}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    Store
	logger   *zap.Logger
	observer Observer
	strict   bool
	now      func() time.Time
	newID    func() string
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithStrictTransitions makes ChangeStatus validate against the
// allowed-transition table instead of accepting any known status.
func WithStrictTransitions(strict bool) Option { return func(e *Engine) { e.strict = strict } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// CASES
// =============================================================================

// NewCaseInput is the data needed to report a leave.
type NewCaseInput struct {
	EmployeeID    string
	Type          CaseType
	DiagnosisCode string
	StartDate     time.Time
	EndDate       time.Time
	Days          int
	EntityName    string
	IBC           decimal.Decimal
}

func (in NewCaseInput) Validate() error {
	if !in.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown case type %q", in.Type)}
	}
	if in.Days <= 0 {
		return &ValidationError{Field: "days", Message: "must be positive"}
	}
	if err := checkMoney("ibc", in.IBC); err != nil {
		return err
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return &ValidationError{Field: "start_date", Message: "start and end dates are required"}
	}
	if in.EndDate.Before(in.StartDate) {
		return &ValidationError{Field: "end_date", Message: "end date cannot be before start date"}
	}
	return nil
}

// CreateCase reports a new leave. The case starts in REPORTED; if no
// employee is given the acting identity is the employee.
func (e *Engine) CreateCase(ctx context.Context, actor Actor, in NewCaseInput) (LeaveCase, error) {
	if in.EmployeeID == "" {
		in.EmployeeID = actor.ID
	}
	if err := in.Validate(); err != nil {
		return LeaveCase{}, err
	}

	now := e.now()
	c := LeaveCase{
		ID:            CaseID(e.newID()),
		EmployeeID:    in.EmployeeID,
		Type:          in.Type,
		DiagnosisCode: strings.TrimSpace(in.DiagnosisCode),
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		Days:          in.Days,
		EntityName:    strings.TrimSpace(in.EntityName),
		IBC:           in.IBC,
		Status:        StatusReported,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateCase(ctx, c); err != nil {
		return LeaveCase{}, fmt.Errorf("create case: %w", err)
	}

	e.logger.Info("case reported",
		zap.String("case_id", string(c.ID)),
		zap.String("employee_id", c.EmployeeID),
		zap.String("type", string(c.Type)),
		zap.Int("days", c.Days))
	return c, nil
}

// GetCase returns the case or a NotFoundError.
func (e *Engine) GetCase(ctx context.Context, id CaseID) (LeaveCase, error) {
	c, err := e.store.GetCase(ctx, id)
	if err != nil {
		return LeaveCase{}, err
	}
	if c == nil {
		return LeaveCase{}, &NotFoundError{CaseID: id}
	}
	return *c, nil
}

// CaseDetail bundles a case with its payments, history and balance.
type CaseDetail struct {
	Case           LeaveCase
	Payments       []PaymentRecord
	History        []StatusChangeEntry
	Reconciliation Reconciliation
}

func (e *Engine) CaseDetail(ctx context.Context, id CaseID) (CaseDetail, error) {
	c, err := e.GetCase(ctx, id)
	if err != nil {
		return CaseDetail{}, err
	}
	payments, err := e.store.Payments(ctx, id)
	if err != nil {
		return CaseDetail{}, err
	}
	history, err := e.store.History(ctx, id)
	if err != nil {
		return CaseDetail{}, err
	}
	rec, err := reconcile(c, payments)
	if err != nil {
		return CaseDetail{}, err
	}
	return CaseDetail{Case: c, Payments: payments, History: history, Reconciliation: rec}, nil
}

// ListCases returns the cases visible to the actor. Employees and leaders
// only see their own cases.
func (e *Engine) ListCases(ctx context.Context, actor Actor, filter CaseFilter) ([]LeaveCase, error) {
	if !actor.Role.SeesAllCases() {
		filter.EmployeeID = actor.ID
	}
	return e.store.ListCases(ctx, filter)
}

// DeleteCase removes a case with its payments and history.
func (e *Engine) DeleteCase(ctx context.Context, actor Actor, id CaseID) error {
	ok, err := e.store.DeleteCase(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{CaseID: id}
	}
	e.logger.Warn("case deleted", zap.String("case_id", string(id)), zap.String("actor", actor.ID))
	return nil
}

// Payments returns the case's payments, oldest first.
func (e *Engine) Payments(ctx context.Context, id CaseID) ([]PaymentRecord, error) {
	if _, err := e.GetCase(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Payments(ctx, id)
}

// History returns the case's status entries, oldest first.
func (e *Engine) History(ctx context.Context, id CaseID) ([]StatusChangeEntry, error) {
	if _, err := e.GetCase(ctx, id); err != nil {
		return nil, err
	}
	return e.store.History(ctx, id)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ReconciliationStatus string

const (
	ReconciliationPaidOff ReconciliationStatus = "PAID_OFF"
	ReconciliationPending ReconciliationStatus = "PENDING"
)

// Reconciliation is the expected-vs-paid balance of a case.
type Reconciliation struct {
	CaseID   CaseID
	Expected decimal.Decimal
	Paid     decimal.Decimal
	Balance  decimal.Decimal
	Status   ReconciliationStatus
}

// Covered reports whether payments meet or exceed the expected amount. This
// is the same predicate that triggers auto-closure.
func (r Reconciliation) Covered() bool {
	return r.Status == ReconciliationPaidOff
}

func reconcile(c LeaveCase, payments []PaymentRecord) (Reconciliation, error) {
	expected, err := ExpectedForCase(c)
	if err != nil {
		return Reconciliation{}, err
	}
	paid := SumPayments(payments)
	balance := expected.Sub(paid)

	status := ReconciliationPending
	if coveredBy(c, expected, paid) {
		status = ReconciliationPaidOff
	}
	return Reconciliation{
		CaseID:   c.ID,
		Expected: expected,
		Paid:     paid,
		Balance:  balance,
		Status:   status,
	}, nil
}

// Reconcile reports the balance of a case. Read-only.
func (e *Engine) Reconcile(ctx context.Context, id CaseID) (Reconciliation, error) {
	c, err := e.GetCase(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	payments, err := e.store.Payments(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	return reconcile(c, payments)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentInput is an insurer payment to record against a case.
type PaymentInput struct {
	CaseID      CaseID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Reference   string
}

func (in PaymentInput) Validate() error {
	if in.CaseID == "" {
		return &ValidationError{Field: "case_id", Message: "is required"}
	}
	if err := checkMoney("amount", in.Amount); err != nil {
		return err
	}
	if in.PaymentDate.IsZero() {
		return &ValidationError{Field: "payment_date", Message: "is required"}
	}
	if strings.TrimSpace(in.Reference) == "" {
		return &ValidationError{Field: "reference", Message: "is required"}
	}
	return nil
}

// PaymentResult is the outcome of RecordPayment.
type PaymentResult struct {
	Payment        PaymentRecord
	Reconciliation Reconciliation
	// Closure is the auto-closure entry, nil when the case was not closed
	// by this payment.
	Closure *StatusChangeEntry
}

// RecordPayment stores an insurer payment and closes the case when the
// accumulated payments cover the expected reimbursement.
func (e *Engine) RecordPayment(ctx context.Context, actor Actor, in PaymentInput) (PaymentResult, error) {
	if err := in.Validate(); err != nil {
		return PaymentResult{}, err
	}

	var (
		result PaymentResult
		locked LeaveCase
	)
	err := e.store.WithTx(ctx, func(tx CaseTx) error {
		c, err := tx.LockCase(ctx, in.CaseID)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{CaseID: in.CaseID}
		}
		locked = *c
		if !c.Status.AcceptsPayments() {
			return &InvalidStateError{CaseID: c.ID, Status: c.Status, Operation: "record payment"}
		}

		now := e.now()
		payment := PaymentRecord{
			ID:          PaymentID(e.newID()),
			CaseID:      c.ID,
			Amount:      in.Amount,
			PaymentDate: in.PaymentDate,
			Reference:   strings.TrimSpace(in.Reference),
			CreatedBy:   actor.ID,
			CreatedAt:   now,
		}
		if err := tx.AppendPayment(ctx, payment); err != nil {
			return fmt.Errorf("append payment: %w", err)
		}

		payments, err := tx.Payments(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("load payments: %w", err)
		}
		rec, err := reconcile(*c, payments)
		if err != nil {
			return err
		}

		result = PaymentResult{Payment: payment, Reconciliation: rec}
		if !rec.Covered() || c.Status == StatusPaid {
			return nil
		}

		entry := StatusChangeEntry{
			ID:             EntryID(e.newID()),
			CaseID:         c.ID,
			PreviousStatus: c.Status,
			NewStatus:      StatusPaid,
			ActorID:        actor.ID,
			ChangedAt:      now,
			Observation:    autoCloseObservation(rec),
		}
		if err := tx.UpdateStatus(ctx, c.ID, StatusPaid, now); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if err := tx.AppendStatusChange(ctx, entry); err != nil {
			return fmt.Errorf("append status change: %w", err)
		}
		result.Closure = &entry
		return nil
	})
	if err != nil {
		if IsConflict(err) {
			e.observer.PaymentRejected(locked)
			e.logger.Info("payment rejected",
				zap.String("case_id", string(in.CaseID)),
				zap.String("status", string(locked.Status)))
		}
		return PaymentResult{}, err
	}

	e.observer.PaymentRecorded(locked, result.Payment)
	e.logger.Info("payment recorded",
		zap.String("case_id", string(in.CaseID)),
		zap.String("payment_id", string(result.Payment.ID)),
		zap.String("amount", result.Payment.Amount.StringFixed(moneyPlaces)),
		zap.String("balance", result.Reconciliation.Balance.StringFixed(moneyPlaces)))

	if result.Closure != nil {
		locked.Status = StatusPaid
		e.observer.CaseAutoClosed(locked, *result.Closure)
		e.logger.Info("case auto-closed",
			zap.String("case_id", string(in.CaseID)),
			zap.String("previous_status", string(result.Closure.PreviousStatus)),
			zap.String("paid", result.Reconciliation.Paid.StringFixed(moneyPlaces)),
			zap.String("expected", result.Reconciliation.Expected.StringFixed(moneyPlaces)))
	}
	return result, nil
}

func autoCloseObservation(r Reconciliation) string {
	return fmt.Sprintf("Auto-closed: balance covered ($%s of $%s)",
		r.Paid.StringFixed(moneyPlaces), r.Expected.StringFixed(moneyPlaces))
}

// =============================================================================
// MANUAL STATUS CHANGES
// =============================================================================

// ChangeStatus moves a case to newStatus and appends the audit entry.
//
// Any known status is accepted from any current status unless the engine
// runs with strict transitions, in which case the allowed-transition table
// is checked first. Nothing is written when validation fails.
func (e *Engine) ChangeStatus(ctx context.Context, actor Actor, id CaseID, newStatus string, observation string) (StatusChangeEntry, error) {
	target, err := ParseStatus(newStatus)
	if err != nil {
		return StatusChangeEntry{}, err
	}

	var entry StatusChangeEntry
	err = e.store.WithTx(ctx, func(tx CaseTx) error {
		c, err := tx.LockCase(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{CaseID: id}
		}
		if e.strict && !CanTransition(c.Status, target) {
			return &TransitionError{CaseID: id, From: c.Status, To: target, Allowed: AllowedTransitions(c.Status)}
		}

		now := e.now()
		entry = StatusChangeEntry{
			ID:             EntryID(e.newID()),
			CaseID:         id,
			PreviousStatus: c.Status,
			NewStatus:      target,
			ActorID:        actor.ID,
			ChangedAt:      now,
			Observation:    observation,
		}
		if err := tx.AppendStatusChange(ctx, entry); err != nil {
			return fmt.Errorf("append status change: %w", err)
		}
		return tx.UpdateStatus(ctx, id, target, now)
	})
	if err != nil {
		return StatusChangeEntry{}, err
	}

	e.observer.StatusChanged(entry)
	e.logger.Info("status changed",
		zap.String("case_id", string(id)),
		zap.String("from", string(entry.PreviousStatus)),
		zap.String("to", string(entry.NewStatus)),
		zap.String("actor", actor.ID))
	return entry, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

// CaseStats are the dashboard counters over the cases visible to an actor.
type CaseStats struct {
	Total     int
	Pending   int // REPORTED
	InProcess int // IN_PROCESS or TRANSCRIBED
	Paid      int
	Rejected  int
}

func (e *Engine) Stats(ctx context.Context, actor Actor) (CaseStats, error) {
	cases, err := e.ListCases(ctx, actor, CaseFilter{})
	if err != nil {
		return CaseStats{}, err
	}

	var s CaseStats
	for _, c := range cases {
		s.Total++
		switch c.Status {
		case StatusReported:
			s.Pending++
		case StatusInProcess, StatusTranscribed:
			s.InProcess++
		case StatusPaid:
			s.Paid++
		case StatusRejected:
			s.Rejected++
		}
	}
	return s, nil
}
