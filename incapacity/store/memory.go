// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/incapacity-engine/incapacity"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	cases    map[incapacity.CaseID]incapacity.LeaveCase
	payments map[incapacity.CaseID][]incapacity.PaymentRecord
	history  map[incapacity.CaseID][]incapacity.StatusChangeEntry
}

func NewMemory() *Memory {
	return &Memory{
		cases:    make(map[incapacity.CaseID]incapacity.LeaveCase),
		payments: make(map[incapacity.CaseID][]incapacity.PaymentRecord),
		history:  make(map[incapacity.CaseID][]incapacity.StatusChangeEntry),
	}
}

func (m *Memory) CreateCase(_ context.Context, c incapacity.LeaveCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = c
	return nil
}

func (m *Memory) GetCase(_ context.Context, id incapacity.CaseID) (*incapacity.LeaveCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListCases(_ context.Context, filter incapacity.CaseFilter) ([]incapacity.LeaveCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []incapacity.LeaveCase
	for _, c := range m.cases {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteCase cascades to payments and history.
func (m *Memory) DeleteCase(_ context.Context, id incapacity.CaseID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[id]; !ok {
		return false, nil
	}
	delete(m.cases, id)
	delete(m.payments, id)
	delete(m.history, id)
	return true, nil
}

func (m *Memory) Payments(_ context.Context, id incapacity.CaseID) ([]incapacity.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]incapacity.PaymentRecord(nil), m.payments[id]...), nil
}

func (m *Memory) History(_ context.Context, id incapacity.CaseID) ([]incapacity.StatusChangeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]incapacity.StatusChangeEntry(nil), m.history[id]...), nil
}

// WithTx holds the write lock for the whole callback, which serializes
// transactions the same way a row lock would. Writes are staged and only
// applied when fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(tx incapacity.CaseTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		parent:   m,
		statuses: make(map[incapacity.CaseID]statusUpdate),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type statusUpdate struct {
	status incapacity.Status
	at     time.Time
}

type memTx struct {
	parent   *Memory
	payments []incapacity.PaymentRecord
	entries  []incapacity.StatusChangeEntry
	statuses map[incapacity.CaseID]statusUpdate
}

func (t *memTx) LockCase(_ context.Context, id incapacity.CaseID) (*incapacity.LeaveCase, error) {
	c, ok := t.parent.cases[id]
	if !ok {
		return nil, nil
	}
	if u, ok := t.statuses[id]; ok {
		c.Status = u.status
		c.UpdatedAt = u.at
	}
	return &c, nil
}

func (t *memTx) AppendPayment(_ context.Context, p incapacity.PaymentRecord) error {
	t.payments = append(t.payments, p)
	return nil
}

func (t *memTx) Payments(_ context.Context, id incapacity.CaseID) ([]incapacity.PaymentRecord, error) {
	out := append([]incapacity.PaymentRecord(nil), t.parent.payments[id]...)
	for _, p := range t.payments {
		if p.CaseID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id incapacity.CaseID, status incapacity.Status, at time.Time) error {
	t.statuses[id] = statusUpdate{status: status, at: at}
	return nil
}

func (t *memTx) AppendStatusChange(_ context.Context, e incapacity.StatusChangeEntry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) commit() {
	m := t.parent
	for _, p := range t.payments {
		m.payments[p.CaseID] = append(m.payments[p.CaseID], p)
	}
	for _, e := range t.entries {
		m.history[e.CaseID] = append(m.history[e.CaseID], e)
	}
	for id, u := range t.statuses {
		c := m.cases[id]
		c.Status = u.status
		c.UpdatedAt = u.at
		m.cases[id] = c
	}
}
