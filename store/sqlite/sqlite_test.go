package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incapacity-engine/incapacity"
	"github.com/warp/incapacity-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var (
	treasurer = incapacity.Actor{ID: "treasury-1", Role: incapacity.RoleTreasury}
	hr        = incapacity.Actor{ID: "hr-1", Role: incapacity.RoleHR}
)

func authorizedCase(t *testing.T, e *incapacity.Engine, caseType incapacity.CaseType, days int, ibc string) incapacity.LeaveCase {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

	c, err := e.CreateCase(ctx, incapacity.Actor{ID: "emp-1", Role: incapacity.RoleEmployee}, incapacity.NewCaseInput{
		Type:          caseType,
		DiagnosisCode: "S82.1",
		StartDate:     start,
		EndDate:       start.AddDate(0, 0, days-1),
		Days:          days,
		EntityName:    "ARL Positiva",
		IBC:           decimal.RequireFromString(ibc),
	})
	require.NoError(t, err)
	_, err = e.ChangeStatus(ctx, hr, c.ID, "AUTHORIZED", "documents approved")
	require.NoError(t, err)
	return c
}

func payment(caseID incapacity.CaseID, amount string) incapacity.PaymentInput {
	return incapacity.PaymentInput{
		CaseID:      caseID,
		Amount:      decimal.RequireFromString(amount),
		PaymentDate: time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC),
		Reference:   "CE-" + amount,
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestStore_CaseRoundTrip(t *testing.T) {
	store := newTestStore(t)
	e := incapacity.NewEngine(store)
	c := authorizedCase(t, e, incapacity.TypeWorkAccident, 10, "1234567.89")

	got, err := store.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, c.EmployeeID, got.EmployeeID)
	assert.Equal(t, incapacity.TypeWorkAccident, got.Type)
	assert.Equal(t, "S82.1", got.DiagnosisCode)
	assert.Equal(t, 10, got.Days)
	assert.Equal(t, "1234567.89", got.IBC.String())
	assert.Equal(t, incapacity.StatusAuthorized, got.Status)
	assert.True(t, got.StartDate.Equal(c.StartDate))
	assert.True(t, got.EndDate.Equal(c.EndDate))
}

func TestStore_GetCaseMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetCase(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_PaymentsKeepInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	e := incapacity.NewEngine(store)
	ctx := context.Background()
	c := authorizedCase(t, e, incapacity.TypeGeneralDisease, 95, "900000")

	for _, amount := range []string{"300", "100", "200.50"} {
		_, err := e.RecordPayment(ctx, treasurer, payment(c.ID, amount))
		require.NoError(t, err)
	}

	payments, err := store.Payments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "300", payments[0].Amount.String())
	assert.Equal(t, "100", payments[1].Amount.String())
	assert.Equal(t, "200.5", payments[2].Amount.String())
	assert.Equal(t, treasurer.ID, payments[0].CreatedBy)
}

func TestStore_ListCasesFilters(t *testing.T) {
	store := newTestStore(t)
	e := incapacity.NewEngine(store)
	ctx := context.Background()

	authorizedCase(t, e, incapacity.TypeGeneralDisease, 5, "900000")
	authorizedCase(t, e, incapacity.TypeMaternity, 126, "2000000")

	all, err := store.ListCases(ctx, incapacity.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	authorized, err := store.ListCases(ctx, incapacity.CaseFilter{Status: incapacity.StatusAuthorized})
	require.NoError(t, err)
	assert.Len(t, authorized, 2)

	none, err := store.ListCases(ctx, incapacity.CaseFilter{EmployeeID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ListCasesNewestFirstWithinSameSecond(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// RFC 3339 drops trailing zeros, so ".5Z" would sort below "Z" as text.
	times := []time.Time{
		time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 1, 12, 0, 0, 500_000_000, time.UTC),
		time.Date(2025, time.April, 1, 12, 0, 0, 120_000_000, time.UTC).Add(time.Second),
	}
	next := 0
	e := incapacity.NewEngine(store, incapacity.WithClock(func() time.Time { return times[next] }))

	var ids []incapacity.CaseID
	for next = range times {
		ids = append(ids, authorizedCase(t, e, incapacity.TypeGeneralDisease, 5, "900000").ID)
	}

	cases, err := store.ListCases(ctx, incapacity.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, cases, 3)
	assert.Equal(t, ids[2], cases[0].ID)
	assert.Equal(t, ids[1], cases[1].ID)
	assert.Equal(t, ids[0], cases[2].ID)
	assert.True(t, times[1].Equal(cases[1].CreatedAt), "created_at %s", cases[1].CreatedAt)
}

func TestStore_DeleteCascades(t *testing.T) {
	store := newTestStore(t)
	e := incapacity.NewEngine(store)
	ctx := context.Background()
	c := authorizedCase(t, e, incapacity.TypeGeneralDisease, 5, "900000")

	_, err := e.RecordPayment(ctx, treasurer, payment(c.ID, "10"))
	require.NoError(t, err)

	ok, err := store.DeleteCase(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	payments, err := store.Payments(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	history, err := store.History(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_TxRollbackOnError(t *testing.T) {
	store := newTestStore(t)
	e := incapacity.NewEngine(store)
	ctx := context.Background()
	c := authorizedCase(t, e, incapacity.TypeGeneralDisease, 5, "900000")

	err := store.WithTx(ctx, func(tx incapacity.CaseTx) error {
		require.NoError(t, tx.AppendPayment(ctx, incapacity.PaymentRecord{
			ID: "p-1", CaseID: c.ID, Amount: decimal.NewFromInt(5),
			PaymentDate: time.Now(), Reference: "X", CreatedAt: time.Now(),
		}))
		require.NoError(t, tx.UpdateStatus(ctx, c.ID, incapacity.StatusPaid, time.Now()))
		// Duplicate entry id violates the UNIQUE constraint.
		entry := incapacity.StatusChangeEntry{ID: "dup", CaseID: c.ID, ChangedAt: time.Now()}
		require.NoError(t, tx.AppendStatusChange(ctx, entry))
		return tx.AppendStatusChange(ctx, entry)
	})
	require.Error(t, err)

	got, err := store.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, incapacity.StatusAuthorized, got.Status)

	payments, err := store.Payments(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_WorkAccidentAutoClosure(t *testing.T) {
	store := newTestStore(t)
	e := incapacity.NewEngine(store)
	ctx := context.Background()

	// 1,500,000 / 30 * 12 = 600,000
	c := authorizedCase(t, e, incapacity.TypeWorkAccident, 12, "1500000")

	res, err := e.RecordPayment(ctx, treasurer, payment(c.ID, "599999.99"))
	require.NoError(t, err)
	assert.Nil(t, res.Closure)
	assert.Equal(t, "0.01", res.Reconciliation.Balance.String())

	res, err = e.RecordPayment(ctx, treasurer, payment(c.ID, "0.01"))
	require.NoError(t, err)
	require.NotNil(t, res.Closure)
	assert.Equal(t, "Auto-closed: balance covered ($600000.00 of $600000.00)", res.Closure.Observation)

	history, err := store.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, incapacity.StatusAuthorized, history[1].PreviousStatus)
	assert.Equal(t, incapacity.StatusPaid, history[1].NewStatus)
}

func TestEngine_ConcurrentPaymentsSingleClosure(t *testing.T) {
	store := newTestStore(t)
	e := incapacity.NewEngine(store)
	ctx := context.Background()
	c := authorizedCase(t, e, incapacity.TypeWorkAccident, 30, "900000")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordPayment(ctx, treasurer, payment(c.ID, "900000"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := store.History(ctx, c.ID)
	require.NoError(t, err)

	closures := 0
	for _, h := range history {
		if h.NewStatus == incapacity.StatusPaid {
			closures++
		}
	}
	assert.Equal(t, 1, closures)
}
