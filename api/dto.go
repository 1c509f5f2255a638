/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

MONEY:
  Amounts are accepted as JSON numbers or strings (decimal.Decimal) and
  always returned as strings with two decimals, so clients never see
  binary floating point.

VALIDATION:
  Each *Request has a ToInput method returning the engine input or an
  incapacity.ValidationError naming the offending field.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/incapacity-engine/incapacity"
)

const dateLayout = "2006-01-02"

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// =============================================================================
// CASES
// =============================================================================

// CaseDTO represents a leave case in API responses.
type CaseDTO struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	Type          string `json:"type"`
	TypeLabel     string `json:"type_label"`
	DiagnosisCode string `json:"diagnosis_code"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	Days          int    `json:"days"`
	EntityName    string `json:"entity_name"`
	IBC           string `json:"ibc"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toCaseDTO(c incapacity.LeaveCase) CaseDTO {
	return CaseDTO{
		ID:            string(c.ID),
		EmployeeID:    c.EmployeeID,
		Type:          string(c.Type),
		TypeLabel:     c.Type.Label(),
		DiagnosisCode: c.DiagnosisCode,
		StartDate:     c.StartDate.Format(dateLayout),
		EndDate:       c.EndDate.Format(dateLayout),
		Days:          c.Days,
		EntityName:    c.EntityName,
		IBC:           money(c.IBC),
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
}

// CaseDetailDTO is a case with its payments, history and balance.
type CaseDetailDTO struct {
	CaseDTO
	Payments       []PaymentDTO      `json:"payments"`
	History        []StatusChangeDTO `json:"history"`
	Reconciliation ReconciliationDTO `json:"reconciliation"`
}

// CreateCaseRequest is the request to report a leave.
type CreateCaseRequest struct {
	EmployeeID    string          `json:"employee_id"`
	Type          string          `json:"type"`
	DiagnosisCode string          `json:"diagnosis_code"`
	StartDate     string          `json:"start_date"`
	EndDate       string          `json:"end_date"`
	Days          int             `json:"days"`
	EntityName    string          `json:"entity_name"`
	IBC           decimal.Decimal `json:"ibc"`
}

func (r CreateCaseRequest) ToInput() (incapacity.NewCaseInput, error) {
	caseType, err := incapacity.ParseCaseType(r.Type)
	if err != nil {
		return incapacity.NewCaseInput{}, err
	}
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return incapacity.NewCaseInput{}, &incapacity.ValidationError{Field: "start_date", Message: "use YYYY-MM-DD"}
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return incapacity.NewCaseInput{}, &incapacity.ValidationError{Field: "end_date", Message: "use YYYY-MM-DD"}
	}

	in := incapacity.NewCaseInput{
		EmployeeID:    r.EmployeeID,
		Type:          caseType,
		DiagnosisCode: r.DiagnosisCode,
		StartDate:     start,
		EndDate:       end,
		Days:          r.Days,
		EntityName:    r.EntityName,
		IBC:           r.IBC,
	}
	return in, nil
}

// CaseStatsDTO are the dashboard counters.
type CaseStatsDTO struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InProcess int `json:"in_process"`
	Paid      int `json:"paid"`
	Rejected  int `json:"rejected"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents an insurer payment.
type PaymentDTO struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	Amount      string `json:"amount"`
	PaymentDate string `json:"payment_date"`
	Reference   string `json:"reference"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

func toPaymentDTO(p incapacity.PaymentRecord) PaymentDTO {
	return PaymentDTO{
		ID:          string(p.ID),
		CaseID:      string(p.CaseID),
		Amount:      money(p.Amount),
		PaymentDate: p.PaymentDate.Format(dateLayout),
		Reference:   p.Reference,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentDTOs(ps []incapacity.PaymentRecord) []PaymentDTO {
	out := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		out[i] = toPaymentDTO(p)
	}
	return out
}

// CreatePaymentRequest is the request to record an insurer payment.
type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	Reference   string          `json:"reference"`
}

func (r CreatePaymentRequest) ToInput(caseID incapacity.CaseID) (incapacity.PaymentInput, error) {
	date, err := time.Parse(dateLayout, r.PaymentDate)
	if err != nil {
		return incapacity.PaymentInput{}, &incapacity.ValidationError{Field: "payment_date", Message: "use YYYY-MM-DD"}
	}
	in := incapacity.PaymentInput{
		CaseID:      caseID,
		Amount:      r.Amount,
		PaymentDate: date,
		Reference:   r.Reference,
	}
	return in, in.Validate()
}

// PaymentCreatedDTO is the payment plus the reconciliation it triggered.
type PaymentCreatedDTO struct {
	PaymentDTO
	AutoClosed     bool              `json:"auto_closed"`
	Reconciliation ReconciliationDTO `json:"reconciliation"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ReconciliationDTO struct {
	ExpectedAmount string `json:"expected_amount"`
	PaidAmount     string `json:"paid_amount"`
	Balance        string `json:"balance"`
	Status         string `json:"status"`
}

func toReconciliationDTO(r incapacity.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		ExpectedAmount: money(r.Expected),
		PaidAmount:     money(r.Paid),
		Balance:        money(r.Balance),
		Status:         string(r.Status),
	}
}

// ExpectedDTO is the calculator preview.
type ExpectedDTO struct {
	Type           string `json:"type"`
	Days           int    `json:"days"`
	IBC            string `json:"ibc"`
	ExpectedAmount string `json:"expected_amount"`
}

// =============================================================================
// STATUS
// =============================================================================

// ChangeStatusRequest is the request body for a manual status change.
type ChangeStatusRequest struct {
	Status      string `json:"status"`
	Observation string `json:"observation"`
}

type ChangeStatusResponse struct {
	Status    string `json:"status"`
	NewStatus string `json:"new_status"`
}

// StatusChangeDTO is one row of a case's audit trail.
type StatusChangeDTO struct {
	ID             string `json:"id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	ChangedBy      string `json:"changed_by"`
	ChangeDate     string `json:"change_date"`
	Observation    string `json:"observation"`
}

func toStatusChangeDTOs(es []incapacity.StatusChangeEntry) []StatusChangeDTO {
	out := make([]StatusChangeDTO, len(es))
	for i, e := range es {
		out[i] = StatusChangeDTO{
			ID:             string(e.ID),
			PreviousStatus: string(e.PreviousStatus),
			NewStatus:      string(e.NewStatus),
			ChangedBy:      e.ActorID,
			ChangeDate:     e.ChangedAt.Format(time.RFC3339),
			Observation:    e.Observation,
		}
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
