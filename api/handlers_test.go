/*
handlers_test.go - HTTP tests for the case, payment and status endpoints

Tests for:
- Identity and role enforcement
- Payment rejection, acceptance and auto-closure over HTTP
- Status changes (permissive and strict)
- Case visibility per role
- Calculator preview and metrics mount
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incapacity-engine/incapacity"
	"github.com/warp/incapacity-engine/incapacity/store"
	"github.com/warp/incapacity-engine/metrics"
)

type testServer struct {
	t      *testing.T
	router http.Handler
}

func setupTestServer(t *testing.T, opts ...incapacity.Option) *testServer {
	t.Helper()
	engine := incapacity.NewEngine(store.NewMemory(), opts...)
	h := NewHandler(engine, nil)
	return &testServer{t: t, router: NewRouter(h, RouterOptions{})}
}

func (s *testServer) do(method, path string, actor incapacity.Actor, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != "" {
		req.Header.Set(HeaderActorID, actor.ID)
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	employee  = incapacity.Actor{ID: "emp-1", Role: incapacity.RoleEmployee}
	otherEmp  = incapacity.Actor{ID: "emp-2", Role: incapacity.RoleEmployee}
	hr        = incapacity.Actor{ID: "hr-1", Role: incapacity.RoleHR}
	treasurer = incapacity.Actor{ID: "tes-1", Role: incapacity.RoleTreasury}
	admin     = incapacity.Actor{ID: "adm-1", Role: incapacity.RoleAdmin}
)

// createCase reports a 95-day general disease leave with IBC 900000, which
// is expected to pay 1835088.00.
func (s *testServer) createCase(actor incapacity.Actor) CaseDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/cases", actor, map[string]any{
		"type":           "EG",
		"diagnosis_code": "J10",
		"start_date":     "2025-03-01",
		"end_date":       "2025-06-03",
		"days":           95,
		"entity_name":    "EPS Sura",
		"ibc":            "900000",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CaseDTO](s.t, rec)
}

func TestIdentity_Required(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodGet, "/api/cases", incapacity.Actor{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/cases", incapacity.Actor{ID: "x", Role: "ROOT"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/healthz", incapacity.Actor{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateCase(t *testing.T) {
	s := setupTestServer(t)

	t.Run("employee reports own case", func(t *testing.T) {
		c := s.createCase(employee)
		assert.Equal(t, "emp-1", c.EmployeeID)
		assert.Equal(t, "REPORTED", c.Status)
		assert.Equal(t, "900000.00", c.IBC)
		assert.Equal(t, "General disease", c.TypeLabel)
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/cases", employee, map[string]any{
			"type": "XX", "start_date": "2025-03-01", "end_date": "2025-03-02", "days": 2, "ibc": 1000,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sub-cent ibc is rejected", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/cases", employee, map[string]any{
			"type": "EG", "start_date": "2025-03-01", "end_date": "2025-06-03", "days": 95, "ibc": "900000.123",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "ibc")
	})

	t.Run("malformed date is rejected", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/cases", employee, map[string]any{
			"type": "EG", "start_date": "03/01/2025", "end_date": "2025-03-02", "days": 2, "ibc": 1000,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "start_date")
	})
}

func TestRecordPayment_RejectedWhileReported(t *testing.T) {
	s := setupTestServer(t)
	c := s.createCase(employee)

	rec := s.do(http.MethodPost, "/api/cases/"+c.ID+"/payments", treasurer, map[string]any{
		"amount": "1000.00", "payment_date": "2025-07-01", "reference": "TX-1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/api/cases/"+c.ID+"/payments", treasurer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]PaymentDTO](t, rec))
}

func TestRecordPayment_RoleEnforced(t *testing.T) {
	s := setupTestServer(t)
	c := s.createCase(employee)

	rec := s.do(http.MethodPost, "/api/cases/"+c.ID+"/payments", employee, map[string]any{
		"amount": "1000.00", "payment_date": "2025-07-01",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/cases/"+c.ID+"/status", employee, map[string]any{"status": "PAID"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecordPayment_AutoClosure(t *testing.T) {
	s := setupTestServer(t)
	c := s.createCase(employee)
	base := "/api/cases/" + c.ID

	rec := s.do(http.MethodPost, base+"/status", hr, map[string]any{"status": "TRANSCRIBED", "observation": "filed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ChangeStatusResponse{Status: "updated", NewStatus: "TRANSCRIBED"}, decode[ChangeStatusResponse](t, rec))

	rec = s.do(http.MethodPost, base+"/payments", treasurer, map[string]any{
		"amount": "1000000.00", "payment_date": "2025-07-01", "reference": "TX-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	partial := decode[PaymentCreatedDTO](t, rec)
	assert.False(t, partial.AutoClosed)
	assert.Equal(t, "835088.00", partial.Reconciliation.Balance)
	assert.Equal(t, "PENDING", partial.Reconciliation.Status)

	rec = s.do(http.MethodPost, base+"/payments", treasurer, map[string]any{
		"amount": 835088, "payment_date": "2025-07-15", "reference": "TX-2",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	final := decode[PaymentCreatedDTO](t, rec)
	assert.True(t, final.AutoClosed)
	assert.Equal(t, "835088.00", final.Amount)
	assert.Equal(t, "PAID_OFF", final.Reconciliation.Status)
	assert.Equal(t, "0.00", final.Reconciliation.Balance)

	rec = s.do(http.MethodGet, base, employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[CaseDetailDTO](t, rec)
	assert.Equal(t, "PAID", detail.Status)
	assert.Len(t, detail.Payments, 2)
	require.Len(t, detail.History, 2)
	closure := detail.History[1]
	assert.Equal(t, "TRANSCRIBED", closure.PreviousStatus)
	assert.Equal(t, "PAID", closure.NewStatus)
	assert.Equal(t, "tes-1", closure.ChangedBy)
	assert.Equal(t, "Auto-closed: balance covered ($1835088.00 of $1835088.00)", closure.Observation)

	rec = s.do(http.MethodGet, base+"/reconciliation", treasurer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ReconciliationDTO{
		ExpectedAmount: "1835088.00",
		PaidAmount:     "1835088.00",
		Balance:        "0.00",
		Status:         "PAID_OFF",
	}, decode[ReconciliationDTO](t, rec))
}

func TestRecordPayment_InvalidInput(t *testing.T) {
	s := setupTestServer(t)
	c := s.createCase(employee)

	rec := s.do(http.MethodPost, "/api/cases/"+c.ID+"/payments", treasurer, map[string]any{
		"amount": "-5", "payment_date": "2025-07-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/cases/"+c.ID+"/payments", treasurer, map[string]any{
		"amount": "1835087.995", "payment_date": "2025-07-01", "reference": "TX-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "decimal places")

	rec = s.do(http.MethodPost, "/api/cases/missing/payments", treasurer, map[string]any{
		"amount": "5", "payment_date": "2025-07-01", "reference": "TX-9",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/payments", strings.NewReader("{"))
	req.Header.Set(HeaderActorID, treasurer.ID)
	req.Header.Set(HeaderActorRole, string(treasurer.Role))
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestChangeStatus(t *testing.T) {
	t.Run("unknown status", func(t *testing.T) {
		s := setupTestServer(t)
		c := s.createCase(employee)

		rec := s.do(http.MethodPost, "/api/cases/"+c.ID+"/status", hr, map[string]any{"status": "ARCHIVED"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(http.MethodGet, "/api/cases/"+c.ID+"/history", hr, nil)
		assert.Empty(t, decode[[]StatusChangeDTO](t, rec))
	})

	t.Run("permissive allows any jump", func(t *testing.T) {
		s := setupTestServer(t)
		c := s.createCase(employee)

		rec := s.do(http.MethodPost, "/api/cases/"+c.ID+"/status", admin, map[string]any{"status": "CLOSED"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("strict rejects disallowed jump", func(t *testing.T) {
		s := setupTestServer(t, incapacity.WithStrictTransitions(true))
		c := s.createCase(employee)

		rec := s.do(http.MethodPost, "/api/cases/"+c.ID+"/status", admin, map[string]any{"status": "CLOSED"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "INVALID_TRANSITION", resp.Code)
		assert.Equal(t, map[string]any{"allowed": []any{"IN_PROCESS", "TRANSCRIBED", "REJECTED"}}, resp.Details)

		rec = s.do(http.MethodPost, "/api/cases/"+c.ID+"/status", admin, map[string]any{"status": "IN_PROCESS"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestVisibility(t *testing.T) {
	s := setupTestServer(t)
	mine := s.createCase(employee)
	s.createCase(otherEmp)

	rec := s.do(http.MethodGet, "/api/cases", employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cases := decode[[]CaseDTO](t, rec)
	require.Len(t, cases, 1)
	assert.Equal(t, mine.ID, cases[0].ID)

	rec = s.do(http.MethodGet, "/api/cases", hr, nil)
	assert.Len(t, decode[[]CaseDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/cases/"+mine.ID, otherEmp, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/cases?status=REPORTED", hr, nil)
	assert.Len(t, decode[[]CaseDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/cases?status=NOPE", hr, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/cases/stats", hr, nil)
	assert.Equal(t, CaseStatsDTO{Total: 2, Pending: 2}, decode[CaseStatsDTO](t, rec))
}

func TestDeleteCase(t *testing.T) {
	s := setupTestServer(t)
	c := s.createCase(employee)

	rec := s.do(http.MethodDelete, "/api/cases/"+c.ID, hr, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/cases/"+c.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/cases/"+c.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/cases/"+c.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExpected(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodGet, "/api/expected?type=EG&days=95&ibc=900000", employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1835088.00", decode[ExpectedDTO](t, rec).ExpectedAmount)

	rec = s.do(http.MethodGet, "/api/expected?type=AL&days=20&ibc=900000", employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "600000.00", decode[ExpectedDTO](t, rec).ExpectedAmount)

	rec = s.do(http.MethodGet, "/api/expected?type=EG&days=abc&ibc=900000", employee, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsMount(t *testing.T) {
	collector := metrics.New()
	engine := incapacity.NewEngine(store.NewMemory(), incapacity.WithObserver(collector))
	router := NewRouter(NewHandler(engine, nil), RouterOptions{
		MetricsPath:    "/metrics",
		MetricsHandler: collector.Handler(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
