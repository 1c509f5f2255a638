/*
handlers.go - HTTP API handlers for the incapacity reimbursement engine

PURPOSE:
  Exposes the reimbursement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Cases:
    GET    /api/cases                     List cases visible to the caller
    POST   /api/cases                     Report a leave
    GET    /api/cases/stats               Dashboard counters
    GET    /api/cases/{id}                Case with payments, history, balance
    DELETE /api/cases/{id}                Remove case (ADMIN)

  Payments:
    GET    /api/cases/{id}/payments       Payments, oldest first
    POST   /api/cases/{id}/payments       Record payment (TREASURY, ADMIN)
    GET    /api/cases/{id}/reconciliation Expected vs paid

  Status:
    POST   /api/cases/{id}/status         Manual status change (RRHH, TREASURY, ADMIN)
    GET    /api/cases/{id}/history        Audit trail

  Calculator:
    GET    /api/expected?type=&days=&ibc= Expected reimbursement preview

REQUEST FLOW:
  1. Identity middleware resolves the caller (see identity.go)
  2. Parse and validate the request body into an engine input
  3. Call the engine
  4. Serialize response

ERROR HANDLING:
  Engine errors are mapped by writeEngineError:
  - 400: Validation errors, unknown status
  - 404: Unknown case, or a case the caller may not see
  - 409: Case status does not allow the operation
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/incapacity-engine/incapacity"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *incapacity.Engine
	Logger *zap.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *incapacity.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Logger: logger}
}

// visibleCase loads the case named in the URL. Cases the caller may not see
// are reported as missing.
func (h *Handler) visibleCase(w http.ResponseWriter, r *http.Request) (incapacity.LeaveCase, bool) {
	id := incapacity.CaseID(chi.URLParam(r, "id"))
	c, err := h.Engine.GetCase(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return incapacity.LeaveCase{}, false
	}
	actor := ActorFrom(r.Context())
	if !actor.Role.SeesAllCases() && c.EmployeeID != actor.ID {
		h.writeEngineError(w, r, &incapacity.NotFoundError{CaseID: id})
		return incapacity.LeaveCase{}, false
	}
	return c, true
}

// =============================================================================
// CASE HANDLERS
// =============================================================================

// ListCases returns the caller's visible cases, optionally filtered by ?status=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	var filter incapacity.CaseFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := incapacity.ParseStatus(s)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		filter.Status = status
	}

	cases, err := h.Engine.ListCases(r.Context(), ActorFrom(r.Context()), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]CaseDTO, len(cases))
	for i, c := range cases {
		dtos[i] = toCaseDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCase reports a new leave.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	actor := ActorFrom(r.Context())
	// Only roles that see every case may report on behalf of someone else.
	if !actor.Role.SeesAllCases() {
		req.EmployeeID = actor.ID
	}

	in, err := req.ToInput()
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	c, err := h.Engine.CreateCase(r.Context(), actor, in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaseDTO(c))
}

// GetCase returns the case with its payments, history and reconciliation.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCase(w, r)
	if !ok {
		return
	}

	detail, err := h.Engine.CaseDetail(r.Context(), c.ID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CaseDetailDTO{
		CaseDTO:        toCaseDTO(detail.Case),
		Payments:       toPaymentDTOs(detail.Payments),
		History:        toStatusChangeDTOs(detail.History),
		Reconciliation: toReconciliationDTO(detail.Reconciliation),
	})
}

// DeleteCase removes a case and everything attached to it.
func (h *Handler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	id := incapacity.CaseID(chi.URLParam(r, "id"))
	if err := h.Engine.DeleteCase(r.Context(), ActorFrom(r.Context()), id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns dashboard counters over the caller's visible cases.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Stats(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CaseStatsDTO{
		Total:     s.Total,
		Pending:   s.Pending,
		InProcess: s.InProcess,
		Paid:      s.Paid,
		Rejected:  s.Rejected,
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCase(w, r)
	if !ok {
		return
	}
	payments, err := h.Engine.Payments(r.Context(), c.ID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// RecordPayment stores an insurer payment. The response says whether the
// payment closed the case.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	in, err := req.ToInput(incapacity.CaseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	res, err := h.Engine.RecordPayment(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, PaymentCreatedDTO{
		PaymentDTO:     toPaymentDTO(res.Payment),
		AutoClosed:     res.Closure != nil,
		Reconciliation: toReconciliationDTO(res.Reconciliation),
	})
}

// GetReconciliation compares the expected reimbursement with what was paid.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCase(w, r)
	if !ok {
		return
	}
	rec, err := h.Engine.Reconcile(r.Context(), c.ID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// STATUS HANDLERS
// =============================================================================

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	id := incapacity.CaseID(chi.URLParam(r, "id"))
	entry, err := h.Engine.ChangeStatus(r.Context(), ActorFrom(r.Context()), id, req.Status, req.Observation)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeStatusResponse{Status: "updated", NewStatus: string(entry.NewStatus)})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCase(w, r)
	if !ok {
		return
	}
	history, err := h.Engine.History(r.Context(), c.ID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusChangeDTOs(history))
}

// =============================================================================
// CALCULATOR
// =============================================================================

// GetExpected previews the reimbursement for a type, day count and IBC
// without creating a case.
func (h *Handler) GetExpected(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	caseType, err := incapacity.ParseCaseType(q.Get("type"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	days, err := strconv.Atoi(q.Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer", err)
		return
	}
	ibc, err := decimal.NewFromString(q.Get("ibc"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ibc must be a decimal number", err)
		return
	}

	expected, err := incapacity.ExpectedForCase(incapacity.LeaveCase{Type: caseType, Days: days, IBC: ibc})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpectedDTO{
		Type:           string(caseType),
		Days:           days,
		IBC:            money(ibc),
		ExpectedAmount: money(expected),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)
	switch {
	case incapacity.IsNotFound(err):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case incapacity.IsConflict(err):
		var te *incapacity.TransitionError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:   err.Error(),
				Code:    "INVALID_TRANSITION",
				Details: map[string]any{"allowed": te.Allowed},
			})
			return
		}
		status, code = http.StatusConflict, "INVALID_STATE"
	case incapacity.IsClientError(err):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	default:
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Code: "INTERNAL"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
