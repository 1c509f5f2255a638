/*
Package incapacity provides the medical-leave reimbursement engine.

PURPOSE:
  Tracks employee leave cases ("incapacidades") through the reimbursement
  workflow between the employer, the health insurer (EPS) and, for work
  accidents, the labor-risk insurer (ARL). The engine computes what the
  insurer owes for a case, compares it against recorded payments and closes
  the case automatically once it is fully reimbursed.

KEY CONCEPTS IN THIS FILE (types.go):
  - CaseType: Origin of the leave (general disease, work accident, ...)
  - Status: Workflow state of a case (REPORTED ... PAID, CLOSED)
  - LeaveCase: The case itself, with its day count and monthly IBC
  - PaymentRecord: An immutable insurer payment against a case
  - StatusChangeEntry: An append-only audit row for every status change
  - Actor/Role: Who is acting, as supplied by the identity provider

DESIGN PRINCIPLES:
  1. Precision: All money uses decimal.Decimal, never float64
  2. Immutability: Payments and status entries are never modified
  3. Auditability: Every status change records previous/new status and actor

SEE ALSO:
  - calculator.go: Expected reimbursement computation
  - engine.go: Payment reconciliation and status transitions
  - store.go: Persistence interface
*/
package incapacity

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CaseID string
type PaymentID string
type EntryID string

// =============================================================================
// CASE TYPE
// =============================================================================

// CaseType is the origin of a leave. The codes match the ones used on the
// insurer paperwork.
type CaseType string

const (
	TypeGeneralDisease  CaseType = "EG"
	TypeWorkAccident    CaseType = "AL"
	TypeTrafficAccident CaseType = "AT"
	TypeMaternity       CaseType = "LM"
	TypePaternity       CaseType = "LP"
)

var caseTypeLabels = map[CaseType]string{
	TypeGeneralDisease:  "General disease",
	TypeWorkAccident:    "Work accident",
	TypeTrafficAccident: "Traffic accident",
	TypeMaternity:       "Maternity leave",
	TypePaternity:       "Paternity leave",
}

func (t CaseType) Valid() bool {
	_, ok := caseTypeLabels[t]
	return ok
}

func (t CaseType) Label() string { return caseTypeLabels[t] }

// ParseCaseType validates a raw case type code.
func ParseCaseType(s string) (CaseType, error) {
	t := CaseType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: "unknown case type " + s}
	}
	return t, nil
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusReported    Status = "REPORTED"
	StatusInProcess   Status = "IN_PROCESS"
	StatusTranscribed Status = "TRANSCRIBED"
	StatusAuthorized  Status = "AUTHORIZED"
	StatusRejected    Status = "REJECTED"
	StatusPaid        Status = "PAID"
	StatusClosed      Status = "CLOSED"
)

// Statuses lists every known status in workflow order.
var Statuses = []Status{
	StatusReported,
	StatusInProcess,
	StatusTranscribed,
	StatusAuthorized,
	StatusRejected,
	StatusPaid,
	StatusClosed,
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// AcceptsPayments reports whether payments may be recorded in this status.
// Reported cases still lack documents and rejected ones are not owed.
func (s Status) AcceptsPayments() bool {
	return s != StatusReported && s != StatusRejected
}

// ParseStatus validates a raw status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", &InvalidStatusError{Value: s}
	}
	return st, nil
}

// =============================================================================
// LEAVE CASE
// =============================================================================

// LeaveCase is a reported medical leave.
//
// IBC is the monthly base salary. The daily base value used for
// reimbursement is IBC / 30.
type LeaveCase struct {
	ID            CaseID
	EmployeeID    string
	Type          CaseType
	DiagnosisCode string // CIE-10
	StartDate     time.Time
	EndDate       time.Time
	Days          int
	EntityName    string // EPS or ARL
	IBC           decimal.Decimal
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// maxMoney bounds amounts to 10 integer digits, i.e. 12 digits with cents.
var maxMoney = decimal.New(1, 10)

// checkMoney rejects negative amounts, fractions of a cent and amounts
// that do not fit 12 digits with 2 decimals.
func checkMoney(field string, d decimal.Decimal) error {
	switch {
	case d.IsNegative():
		return &ValidationError{Field: field, Message: "must not be negative"}
	case !d.Equal(d.Round(moneyPlaces)):
		return &ValidationError{Field: field, Message: "must not have more than 2 decimal places"}
	case d.GreaterThanOrEqual(maxMoney):
		return &ValidationError{Field: field, Message: "must have at most 12 digits"}
	}
	return nil
}

// =============================================================================
// PAYMENT RECORD
// =============================================================================

// PaymentRecord is an insurer payment. Immutable once created.
type PaymentRecord struct {
	ID          PaymentID
	CaseID      CaseID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Reference   string
	CreatedBy   string
	CreatedAt   time.Time
}

// SumPayments totals payment amounts.
func SumPayments(payments []PaymentRecord) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// =============================================================================
// STATUS CHANGE ENTRY - Append-only audit log
// =============================================================================

type StatusChangeEntry struct {
	ID             EntryID
	CaseID         CaseID
	PreviousStatus Status
	NewStatus      Status
	ActorID        string
	ChangedAt      time.Time
	Observation    string
}

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleHR       Role = "RRHH"
	RoleTreasury Role = "TREASURY"
	RoleLeader   Role = "LEADER"
	RoleEmployee Role = "EMPLOYEE"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleTreasury, RoleLeader, RoleEmployee:
		return true
	}
	return false
}

// CanRecordPayments reports whether the role may register insurer payments.
func (r Role) CanRecordPayments() bool {
	return r == RoleTreasury || r == RoleAdmin
}

// CanChangeStatus reports whether the role may move cases through the workflow.
func (r Role) CanChangeStatus() bool {
	return r == RoleHR || r == RoleAdmin || r == RoleTreasury
}

// SeesAllCases reports whether the role may see every employee's cases.
func (r Role) SeesAllCases() bool {
	return r == RoleHR || r == RoleAdmin || r == RoleTreasury
}

// Actor is the identity performing an operation.
type Actor struct {
	ID   string
	Role Role
}
