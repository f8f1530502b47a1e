package gateway

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a mock gateway provider for testing.
// Serves preapprovals and payments from in-memory maps.
type MockProvider struct {
	// GetPreapprovalFunc allows customizing preapproval lookup behavior
	GetPreapprovalFunc func(ctx context.Context, id string) (*Preapproval, error)

	// GetPaymentFunc allows customizing payment lookup behavior
	GetPaymentFunc func(ctx context.Context, id string) (*Payment, error)

	// Preapprovals stores preapprovals for retrieval
	Preapprovals map[string]*Preapproval

	// Payments stores payments for retrieval
	Payments map[string]*Payment

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock gateway provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Preapprovals: make(map[string]*Preapproval),
		Payments:     make(map[string]*Payment),
		CallLog:      []string{},
	}
}

// GetPreapproval returns a stored preapproval.
func (m *MockProvider) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	m.record(fmt.Sprintf("GetPreapproval(%s)", id))

	if m.GetPreapprovalFunc != nil {
		return m.GetPreapprovalFunc(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Preapprovals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetPayment returns a stored payment.
func (m *MockProvider) GetPayment(ctx context.Context, id string) (*Payment, error) {
	m.record(fmt.Sprintf("GetPayment(%s)", id))

	if m.GetPaymentFunc != nil {
		return m.GetPaymentFunc(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SetPreapproval stores or replaces a preapproval.
func (m *MockProvider) SetPreapproval(p *Preapproval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Preapprovals[p.ID] = p
}

// SetPayment stores or replaces a payment.
func (m *MockProvider) SetPayment(p *Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payments[p.ID] = p
}

// Calls returns a copy of the call log.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

func (m *MockProvider) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, call)
}
