package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	holds    map[string]Hold
	entries  []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		holds:    make(map[string]Hold),
	}
}

func (m *MemoryStore) Balance(_ context.Context, account string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[account]
	return bal, ok, nil
}

func (m *MemoryStore) Open(_ context.Context, account string, grant Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[account]; ok {
		return false, nil
	}
	m.balances[account] = grant.Delta
	if grant.Delta != 0 {
		m.entries = append(m.entries, grant)
	}
	return true, nil
}

func (m *MemoryStore) Debit(_ context.Context, hold Hold, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[hold.Account] < hold.Amount {
		return ErrInsufficientFunds
	}
	m.balances[hold.Account] -= hold.Amount
	m.holds[hold.ID] = hold
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryStore) Hold(_ context.Context, id string) (Hold, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	return h, ok, nil
}

func (m *MemoryStore) Settle(_ context.Context, receipt Receipt, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[receipt.Hold]
	if !ok {
		return fmt.Errorf("%w: unknown hold %s", ErrConsistencyFault, receipt.Hold)
	}
	if h.Released {
		return fmt.Errorf("%w: hold %s already released", ErrConsistencyFault, receipt.Hold)
	}
	for _, e := range entries {
		if _, ok := m.balances[e.Account]; !ok {
			return fmt.Errorf("%w: unknown account %s", ErrConsistencyFault, e.Account)
		}
	}
	for _, e := range entries {
		m.balances[e.Account] += e.Delta
		m.entries = append(m.entries, e)
	}
	r := receipt
	h.Released = true
	h.Receipt = &r
	m.holds[h.ID] = h
	return nil
}

func (m *MemoryStore) Credit(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[entry.Account]; !ok {
		return fmt.Errorf("%w: unknown account %s", ErrConsistencyFault, entry.Account)
	}
	m.balances[entry.Account] += entry.Delta
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryStore) Entries(_ context.Context, account string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Account == account {
			out = append(out, e)
		}
	}
	return slices.Clip(out), nil
}
